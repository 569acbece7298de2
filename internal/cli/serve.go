package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/DeskClaw/DeskClaw/internal/agent"
	"github.com/DeskClaw/DeskClaw/internal/bus"
	"github.com/DeskClaw/DeskClaw/internal/config"
	"github.com/DeskClaw/DeskClaw/internal/display"
	"github.com/DeskClaw/DeskClaw/internal/mirror"
	"github.com/DeskClaw/DeskClaw/internal/provider"
	"github.com/DeskClaw/DeskClaw/internal/session"
	"github.com/DeskClaw/DeskClaw/internal/store"
	"github.com/DeskClaw/DeskClaw/internal/tools"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DeskClaw gateway",
	Run:   runServe,
}

var serveSignalNotify = signal.Notify
var serveSignalStop = signal.Stop

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🌐 DeskClaw Gateway")
	fmt.Println("Starting DeskClaw Gateway...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := os.MkdirAll(cfg.Paths.Workspace, 0o755); err != nil {
		fmt.Printf("Workspace error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	eventBus := bus.NewEventBus()

	var mir *mirror.Mirror
	if cfg.Mirror.Enabled {
		mir = mirror.New(mirror.Config{
			Enabled: true,
			Brokers: cfg.Mirror.Brokers,
			Topic:   cfg.Mirror.Topic,
		}, logger)
		if mir.Active() {
			eventBus.SetTap(mir.PublishEvent)
			fmt.Printf("📡 Event mirror enabled (topic %s)\n", cfg.Mirror.Topic)
		} else {
			fmt.Println("⚠️ Event mirror misconfigured: brokers or topic missing, mirror disabled")
		}
	}

	displaySup := display.NewSupervisor(display.Config{
		DisplayNum:   cfg.Display.Num,
		Width:        cfg.Display.Width,
		Height:       cfg.Display.Height,
		VNCPort:      cfg.Display.VNCPort,
		StartTimeout: time.Duration(cfg.Display.StartTimeoutSeconds) * time.Second,
	}, logger)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewComputerTool(displaySup))
	toolRegistry.Register(tools.NewBashTool(cfg.Tools.RestrictToWorkspace, cfg.Paths.Workspace))
	toolRegistry.Register(tools.NewEditorTool(cfg.Paths.Workspace))
	executor := tools.NewExecutor(toolRegistry)

	loopOpts := agent.DefaultOptions()
	if cfg.Agent.MaxTurns > 0 {
		loopOpts.MaxTurns = cfg.Agent.MaxTurns
	}
	if cfg.Agent.MaxTokens > 0 {
		loopOpts.MaxTokens = cfg.Agent.MaxTokens
	}
	if cfg.Agent.RetryAttempts > 0 {
		loopOpts.Retry.MaxAttempts = cfg.Agent.RetryAttempts
	}

	factory := func(sess *store.Session) (session.Runner, error) {
		apiKey := sess.APIKey
		if apiKey == "" {
			apiKey = cfg.Anthropic.APIKey
		}
		prov, err := provider.Resolve(sess.Provider, sess.Model, apiKey)
		if err != nil {
			return nil, err
		}
		return agent.NewLoop(prov, executor, st, eventBus, loopOpts, logger), nil
	}

	registry := session.NewRegistry(st, factory, session.Config{
		ReapInterval: time.Duration(cfg.Session.ReapIntervalSeconds) * time.Second,
		IdleEviction: time.Duration(cfg.Session.IdleEvictionMinutes) * time.Minute,
		Retention:    time.Duration(cfg.Session.RetentionHours) * time.Hour,
	}, logger)
	defer registry.Close()

	gw := &gatewayServer{
		cfg:       cfg,
		registry:  registry,
		bus:       eventBus,
		display:   displaySup,
		startTime: time.Now(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	server := &http.Server{Addr: addr, Handler: gw.mux()}

	go func() {
		fmt.Printf("📡 API Server listening on http://%s\n", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("API Server Error: %v\n", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer serveSignalStop(sigChan)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	registry.Close()
	displaySup.Stop()
	if mir != nil {
		mir.Close()
	}
	fmt.Println("Goodbye.")
}

// gatewayServer holds the running gateway's shared state for HTTP handlers.
type gatewayServer struct {
	cfg       *config.Config
	registry  *session.Registry
	bus       *bus.EventBus
	display   *display.Supervisor
	startTime time.Time
}

func (g *gatewayServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", g.handleStatus)
	mux.HandleFunc("/api/v1/sessions", g.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", g.handleSession)
	mux.HandleFunc("/api/v1/display", g.handleDisplayStatus)
	mux.HandleFunc("/api/v1/display/start", g.handleDisplayStart)
	mux.HandleFunc("/api/v1/display/stop", g.handleDisplayStop)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionErrStatus maps registry errors to HTTP status codes.
func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (g *gatewayServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        version,
		"uptime_seconds": int(time.Since(g.startTime).Seconds()),
		"display":        g.display.Status(),
	})
}

func (g *gatewayServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Provider     string `json:"provider"`
			Model        string `json:"model"`
			SystemPrompt string `json:"system_prompt"`
			APIKey       string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if body.Provider == "" {
			body.Provider = g.cfg.Model.Provider
		}
		if body.Model == "" {
			body.Model = g.cfg.Model.Name
		}
		sess, err := g.registry.Create(session.CreateParams{
			Provider:     body.Provider,
			Model:        body.Model,
			SystemPrompt: body.SystemPrompt,
			APIKey:       body.APIKey,
		})
		if err != nil {
			var perr *provider.ProviderError
			if errors.As(err, &perr) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		sessions, err := g.registry.List(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if sessions == nil {
			sessions = []*store.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSession routes /api/v1/sessions/{id} and its sub-resources.
func (g *gatewayServer) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	switch sub {
	case "":
		g.handleSessionRoot(w, r, id)
	case "messages":
		g.handleSessionMessages(w, r, id)
	case "cancel":
		g.handleSessionCancel(w, r, id)
	case "events":
		g.handleSessionEvents(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (g *gatewayServer) handleSessionRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := g.registry.Get(id)
		if err != nil {
			writeError(w, sessionErrStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := g.registry.Delete(id); err != nil {
			writeError(w, sessionErrStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *gatewayServer) handleSessionMessages(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeError(w, http.StatusBadRequest, "text required")
			return
		}
		if err := g.registry.SendMessage(r.Context(), id, body.Text); err != nil {
			writeError(w, sessionErrStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case http.MethodGet:
		msgs, err := g.registry.Messages(id)
		if err != nil {
			writeError(w, sessionErrStatus(err), err.Error())
			return
		}
		if msgs == nil {
			msgs = []*store.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *gatewayServer) handleSessionCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := g.registry.Cancel(id); err != nil {
		writeError(w, sessionErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleSessionEvents streams a session's live events as SSE. Events that
// happened before the subscription are not replayed; clients read history
// from the messages endpoint.
func (g *gatewayServer) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := g.registry.Get(id); err != nil {
		writeError(w, sessionErrStatus(err), err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := g.bus.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Type)
			fmt.Fprintf(w, "id: %d\n", ev.Seq)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (g *gatewayServer) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, g.display.Status())
}

func (g *gatewayServer) handleDisplayStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := g.display.EnsureRunning(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (g *gatewayServer) handleDisplayStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.display.Stop()
	writeJSON(w, http.StatusOK, g.display.Status())
}
