// Package httpapi exposes the control plane over HTTP and WebSocket.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clawpen/clawpen/common/trace"
	"github.com/clawpen/clawpen/common/version"
	"github.com/clawpen/clawpen/internal/clawpen/auth"
	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
	"github.com/clawpen/clawpen/internal/clawpen/router"
	"github.com/clawpen/clawpen/internal/clawpen/team"
)

// Server wires the core subsystems onto HTTP routes.
type Server struct {
	auth    *auth.Service
	manager *lifecycle.Manager
	router  *router.Router
	teams   *team.Registry
	logger  *slog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(a *auth.Service, m *lifecycle.Manager, rt *router.Router, teams *team.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{auth: a, manager: m, router: rt, teams: teams, logger: logger}
}

// Routes builds the route tree. Everything outside /health and /auth/* is
// gated by a valid access token.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(5 * time.Minute))
	r.Use(s.traceMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/register", s.handleRegister)
		r.Get("/status", s.handleAuthStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAgent)
				r.Patch("/", s.handleUpdateAgent)
				r.Delete("/", s.handleDeleteAgent)
				r.Post("/start", s.handleStartAgent)
				r.Post("/stop", s.handleStopAgent)
				r.Post("/rename", s.handleRenameAgent)
				r.Get("/logs", s.handleAgentLogs)
				r.Get("/logs/stream", s.handleAgentLogStream)
				r.Get("/chat", s.handleAgentChat)
				r.Get("/events", s.handleAgentEvents)
			})
		})

		r.Route("/teams", func(r chi.Router) {
			r.Get("/", s.handleListTeams)
			r.Post("/reload", s.handleReloadTeams)
			r.Post("/{name}/classify", s.handleClassify)
		})
	})

	return r
}

// traceMiddleware attaches a trace ID to every request context.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := trace.WithTraceID(r.Context(), trace.GenerateID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
