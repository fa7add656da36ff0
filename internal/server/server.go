// Package server exposes the game over HTTP: a streaming chat endpoint,
// character sheet CRUD, a websocket event feed for sheet-change toasts, and
// operational endpoints (health probes, Prometheus metrics, tool debugging).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openquill/dmforge/internal/character"
	"github.com/openquill/dmforge/internal/dm"
	"github.com/openquill/dmforge/internal/health"
	"github.com/openquill/dmforge/internal/observe"
	"github.com/openquill/dmforge/internal/tool"
	"github.com/openquill/dmforge/internal/tool/sheet"
)

// Config holds the collaborators the server routes requests to.
type Config struct {
	// Store persists character sheets.
	Store character.Store

	// Selection is the active-character holder shared with the sheet binder.
	Selection *sheet.Selection

	// Registry holds every registered tool; used by the debug endpoints.
	Registry *tool.Registry

	// Executor and Extractor back the tool debug endpoints.
	Executor  *dm.Executor
	Extractor *dm.Extractor

	// NewSession creates a fully wired game session. Extra options override
	// the application defaults; stateless chat uses them to swap in the
	// request's history, character sheet and outline.
	NewSession func(opts ...dm.SessionOption) *dm.Session

	// Health serves the liveness and readiness probes.
	Health *health.Handler

	// Events is the websocket hub fed by the sheet binder. Optional; when
	// nil the /ws/events route is not registered.
	Events *EventHub

	// Metrics records request and session telemetry. Defaults to the
	// process-wide instruments.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is the HTTP front end. Create instances with [New].
type Server struct {
	store      character.Store
	selection  *sheet.Selection
	registry   *tool.Registry
	executor   *dm.Executor
	extractor  *dm.Extractor
	sessions   *sessionManager
	newSession func(opts ...dm.SessionOption) *dm.Session
	events     *EventHub
	metrics    *observe.Metrics
	logger     *slog.Logger
	router     chi.Router
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store must not be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("server: registry must not be nil")
	}
	if cfg.NewSession == nil {
		return nil, errors.New("server: session factory must not be nil")
	}
	if cfg.Selection == nil {
		cfg.Selection = &sheet.Selection{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:      cfg.Store,
		selection:  cfg.Selection,
		registry:   cfg.Registry,
		executor:   cfg.Executor,
		extractor:  cfg.Extractor,
		sessions:   newSessionManager(cfg.NewSession, cfg.Metrics),
		newSession: cfg.NewSession,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/history", s.handleSessionHistory)

		r.Get("/characters", s.handleListCharacters)
		r.Post("/characters", s.handleCreateCharacter)
		r.Get("/characters/active", s.handleGetActiveCharacter)
		r.Put("/characters/active", s.handleSetActiveCharacter)
		r.Get("/characters/{id}", s.handleGetCharacter)
		r.Put("/characters/{id}", s.handleUpdateCharacter)
		r.Delete("/characters/{id}", s.handleDeleteCharacter)

		r.Get("/tools", s.handleListTools)
		r.Post("/tools/execute", s.handleExecuteTool)
		if s.executor != nil {
			r.Post("/tools/decide", s.handleDecide)
		}
		if s.extractor != nil {
			r.Post("/extract", s.handleExtract)
		}
	})

	if s.events != nil {
		r.Get("/ws/events", s.events.handleWS)
	}

	s.router = r
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ─── Shared response helpers ──────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// decodeBody decodes the request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
