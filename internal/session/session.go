// Package session manages chat session lifecycle: creation, lookup, the
// one-turn-at-a-time sending discipline, cancellation, and idle eviction.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeskClaw/DeskClaw/internal/agent"
	"github.com/DeskClaw/DeskClaw/internal/store"
)

// Sentinel errors surfaced to callers and mapped to transport responses.
var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session busy")
	ErrClosed   = errors.New("session closed")
)

// Runner processes one user message to a terminal outcome. The agent loop
// implements it; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, sess *store.Session, userText string) agent.Outcome
}

// RunnerFactory builds the runner for a session. It is invoked once at
// Create (to fail closed on bad provider config) and once per turn.
type RunnerFactory func(sess *store.Session) (Runner, error)

// CreateParams are the client-supplied session settings.
type CreateParams struct {
	Provider     string
	Model        string
	SystemPrompt string
	APIKey       string
}

// Config tunes the registry's background reaper.
type Config struct {
	// ReapInterval is how often the reaper wakes up.
	ReapInterval time.Duration
	// IdleEviction is how long an idle session stays cached.
	IdleEviction time.Duration
	// Retention is how long closed or inactive sessions survive in the
	// durable store before cleanup.
	Retention time.Duration
}

// DefaultConfig returns the recommended reaper settings.
func DefaultConfig() Config {
	return Config{
		ReapInterval: time.Minute,
		IdleEviction: 30 * time.Minute,
		Retention:    24 * time.Hour,
	}
}

type entry struct {
	sess     *store.Session
	cancel   context.CancelFunc // non-nil while a turn is in flight
	lastUsed time.Time
}

// Registry is the in-memory session cache over the durable store. Every
// mutation is written through to the store before control returns to the
// caller, so cache eviction never loses state.
type Registry struct {
	store     *store.Store
	newRunner RunnerFactory
	cfg       Config
	log       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped bool
}

// NewRegistry creates a session registry and starts its reaper.
func NewRegistry(st *store.Store, factory RunnerFactory, cfg Config, logger *slog.Logger) *Registry {
	if cfg.ReapInterval <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:     st,
		newRunner: factory,
		cfg:       cfg,
		log:       logger.With("component", "session"),
		entries:   make(map[string]*entry),
		stop:      make(chan struct{}),
	}
	go r.reap()
	return r
}

// Create validates the provider configuration and persists a new idle
// session. Validation fails closed: a session with an unresolvable
// provider is never created.
func (r *Registry) Create(params CreateParams) (*store.Session, error) {
	now := time.Now()
	sess := &store.Session{
		ID:           uuid.NewString(),
		Provider:     params.Provider,
		Model:        params.Model,
		SystemPrompt: params.SystemPrompt,
		APIKey:       params.APIKey,
		State:        store.StateIdle,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if _, err := r.newRunner(sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := r.store.PutSession(sess); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[sess.ID] = &entry{sess: sess, lastUsed: now}
	r.mu.Unlock()

	r.log.Info("session created", "session", sess.ID, "provider", sess.Provider, "model", sess.Model)
	return sess, nil
}

// Get returns a session, reloading it from the store if it was evicted
// from the cache.
func (r *Registry) Get(id string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	cp := *e.sess
	return &cp, nil
}

// lookupLocked finds or revives the cache entry for id.
func (r *Registry) lookupLocked(id string) (*entry, error) {
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	sess, err := r.store.GetSession(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e := &entry{sess: sess, lastUsed: time.Now()}
	r.entries[id] = e
	return e, nil
}

// List returns the most recently active sessions.
func (r *Registry) List(limit int) ([]*store.Session, error) {
	return r.store.ListSessions(limit)
}

// Messages returns a session's full persisted history.
func (r *Registry) Messages(id string) ([]*store.Message, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	return r.store.ListMessages(id)
}

// SendMessage starts processing a user message for the session. It returns
// immediately: ErrBusy if a turn is already in flight, otherwise the turn
// runs in its own goroutine and the session flips back to idle on every
// terminal outcome. ctx does not bound the turn; use Cancel for that.
func (r *Registry) SendMessage(ctx context.Context, id, text string) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrClosed
	}
	e, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if e.sess.State == store.StateClosed {
		r.mu.Unlock()
		return ErrClosed
	}
	if e.cancel != nil || e.sess.State == store.StateProcessing {
		r.mu.Unlock()
		return ErrBusy
	}

	runner, err := r.newRunner(e.sess)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.sess.State = store.StateProcessing
	e.lastUsed = time.Now()
	sess := *e.sess
	r.mu.Unlock()

	// State change hits the store before the caller observes processing.
	if err := r.store.UpdateSessionState(id, store.StateProcessing); err != nil {
		r.mu.Lock()
		e.cancel = nil
		e.sess.State = store.StateIdle
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("mark session processing: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		outcome := runner.Run(turnCtx, &sess, text)
		r.log.Info("turn finished", "session", id, "status", outcome.Status, "kind", outcome.ErrorKind)

		if err := r.store.UpdateSessionState(id, store.StateIdle); err != nil {
			r.log.Error("mark session idle", "session", id, "error", err)
		}
		r.mu.Lock()
		if e, ok := r.entries[id]; ok {
			e.cancel = nil
			e.sess.State = store.StateIdle
			e.lastUsed = time.Now()
		}
		r.mu.Unlock()
	}()
	return nil
}

// Cancel requests cooperative cancellation of the in-flight turn. It is a
// no-op for idle sessions.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// Status returns the session's current lifecycle state.
func (r *Registry) Status(id string) (string, error) {
	sess, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return sess.State, nil
}

// Delete removes a session from cache and store. Processing sessions must
// be cancelled first.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok && e.cancel != nil {
		r.mu.Unlock()
		return ErrBusy
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if err := r.store.DeleteSession(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	r.log.Info("session deleted", "session", id)
	return nil
}

// Close stops the reaper, cancels in-flight turns and waits for them.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stop)
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// reap periodically evicts idle cache entries and prunes old durable rows.
// Eviction only touches the cache; history survives in the store.
func (r *Registry) reap() {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-r.cfg.IdleEviction)
		r.mu.Lock()
		for id, e := range r.entries {
			if e.cancel == nil && e.lastUsed.Before(cutoff) {
				delete(r.entries, id)
				r.log.Debug("session evicted from cache", "session", id)
			}
		}
		r.mu.Unlock()

		if n, err := r.store.CleanupSessions(r.cfg.Retention); err != nil {
			r.log.Error("session cleanup", "error", err)
		} else if n > 0 {
			r.log.Info("old sessions cleaned up", "count", n)
		}
	}
}
