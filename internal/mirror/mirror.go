// Package mirror publishes bus events to a Kafka topic so a fleet of
// gateways can be observed from one place. It is fully optional: a
// disabled mirror is inert and costs nothing on the publish path.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeskClaw/DeskClaw/internal/bus"
)

// Config holds Kafka mirror settings.
type Config struct {
	Enabled bool
	Brokers string // comma separated bootstrap servers
	Topic   string
}

// Mirror forwards events to Kafka from a buffered queue. Enqueueing never
// blocks; under backpressure events are dropped and counted.
type Mirror struct {
	writer *kafka.Writer
	log    *slog.Logger

	events  chan bus.Event
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// New creates a mirror. Returns nil when disabled; a nil *Mirror is safe
// to use everywhere.
func New(cfg Config, logger *slog.Logger) *Mirror {
	if !cfg.Enabled || cfg.Brokers == "" || cfg.Topic == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log:    logger.With("component", "mirror"),
		events: make(chan bus.Event, 256),
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Active reports whether the mirror is forwarding events.
func (m *Mirror) Active() bool { return m != nil }

// PublishEvent enqueues an event for forwarding. Never blocks; intended as
// the bus tap.
func (m *Mirror) PublishEvent(ev bus.Event) {
	if m == nil {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		if n%100 == 1 {
			m.log.Warn("mirror queue full, dropping events", "dropped", n)
		}
	}
}

// Close flushes the queue and shuts the writer down.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	m.writer.Close()
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.forward(ev)
		case <-m.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case ev := <-m.events:
					m.forward(ev)
				default:
					return
				}
			}
		}
	}
}

// forward writes one event, retrying leadership blips the way a console
// producer would.
func (m *Mirror) forward(ev bus.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("marshal event", "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
		Time:  ev.Timestamp,
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = m.writer.WriteMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
	}
	m.log.Error("mirror produce failed", "session", ev.SessionID, "type", ev.Type, "error", err)
}
