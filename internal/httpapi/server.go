// Package httpapi serves the admin HTTP endpoints: health probes, Prometheus
// metrics and a read-only view of every connection's audio session.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/health"
	"github.com/MrWong99/audiobob/internal/observe"
	"github.com/MrWong99/audiobob/internal/registry"
)

// Inspector exposes connection state. *bot.Bot implements it.
type Inspector interface {
	Snapshots() []bot.ConnectionSnapshot
	Snapshot(h registry.Handle) (bot.ConnectionSnapshot, error)
}

var _ Inspector = (*bot.Bot)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server routes the admin endpoints.
type Server struct {
	health         *health.Handler
	hosts          map[string]Inspector
	metricsHandler http.Handler
	metrics        *observe.Metrics
}

// New returns a server reporting hosts, keyed by host name.
func New(h *health.Handler, hosts map[string]Inspector, opts ...Option) *Server {
	s := &Server{
		health:         h,
		hosts:          hosts,
		metricsHandler: promhttp.Handler(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	s.health.Register(r)
	r.Handle("/metrics", s.metricsHandler)
	r.Get("/debug/connections", s.handleConnections)
	r.Get("/debug/connections/{handle}", s.handleConnection)
	return r
}

type hostConnections struct {
	Host        string                   `json:"host"`
	Connections []bot.ConnectionSnapshot `json:"connections"`
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	out := make([]hostConnections, 0, len(s.hosts))
	for _, name := range s.hostNames() {
		out = append(out, hostConnections{Host: name, Connections: s.hosts[name].Snapshots()})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_handle", "handle must be an unsigned integer")
		return
	}
	for _, name := range s.hostNames() {
		snap, err := s.hosts[name].Snapshot(h)
		if errors.Is(err, registry.ErrInvalidHandle) {
			continue
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, hostConnections{Host: name, Connections: []bot.ConnectionSnapshot{snap}})
		return
	}
	respondError(w, http.StatusNotFound, "not_found", "no such connection")
}

func (s *Server) hostNames() []string {
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}
