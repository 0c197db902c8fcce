// Package controlplane exposes the operator-facing admin API: session
// listing, forced retry, a live event feed, build info, and a health
// check. Built around a chi.Router with functional options and
// middleware.Logger/Recoverer, the same shape used across this
// codebase's HTTP servers, with the live feed's upgrade-then-write-loop
// adapted from the gorilla/websocket pattern used for native transport
// bridging elsewhere.
package controlplane

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clspiov/internal/buildinfo"
	"clspiov/internal/eventbus"
	"clspiov/internal/registry"
)

// Server is the control-plane HTTP API.
type Server struct {
	router     chi.Router
	registry   *registry.Registry
	bus        *eventbus.Bus
	build      *buildinfo.Checker
	corsOrigin string
}

// Option configures a Server at construction.
type Option func(*Server)

// WithCORSOrigin allows cross-origin admin-UI requests from origin.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// WithBuildChecker attaches a buildinfo.Checker for GET /api/build.
func WithBuildChecker(c *buildinfo.Checker) Option {
	return func(s *Server) { s.build = c }
}

// New builds a control-plane Server over reg, whose own event bus
// (registry.New's bus argument) feeds GET /api/events.
func New(reg *registry.Registry, bus *eventbus.Bus, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		registry: reg,
		bus:      bus,
	}
	for _, o := range opts {
		o(s)
	}
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Use(jsonContentType)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{id}/retry", s.handleRetrySession)
		r.Get("/events", s.handleEventsFeed)
		r.Get("/build", s.handleBuild)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if s.build == nil {
		writeJSON(w, http.StatusOK, buildinfo.Info{Current: "dev"})
		return
	}
	writeJSON(w, http.StatusOK, s.build.Info())
}
