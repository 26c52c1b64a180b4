package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/auth"
	"github.com/antoniostano/callvoice/internal/callcontrol"
	"github.com/antoniostano/callvoice/internal/config"
	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/turnlog"
)

// Deps are the collaborators the HTTP surface serves. Ready may be nil.
type Deps struct {
	Controller *callcontrol.Controller
	TurnLog    turnlog.Store
	Auth       *auth.Authenticator
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Ready      func(ctx context.Context) error
}

type Server struct {
	cfg        config.Config
	controller *callcontrol.Controller
	turnLog    turnlog.Store
	auth       *auth.Authenticator
	metrics    *observability.Metrics
	logger     *zap.Logger
	ready      func(ctx context.Context) error
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		controller: deps.Controller,
		turnLog:    deps.TurnLog,
		auth:       deps.Auth,
		metrics:    deps.Metrics,
		logger:     logger,
		ready:      deps.Ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Media gateways do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/v1/calls", s.handleCallRinging)
		r.Get("/v1/calls", s.handleListCalls)
		r.Get("/v1/calls/active", s.handleActiveCalls)
		r.Get("/v1/calls/{id}", s.handleGetCall)
		r.Post("/v1/calls/{id}/end", s.handleCallEnded)
		r.Post("/v1/calls/{id}/dtmf", s.handleDTMF)
		r.Get("/v1/calls/{id}/messages", s.handleCallMessages)
		r.Get("/v1/tenants/{id}/greeting", s.handleGreeting)
		r.Get("/v1/perf/latency", s.handlePerfLatency)

		r.Get("/ws/call/{call_id}", s.handleCallWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.controller.Registry().ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
