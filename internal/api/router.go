// Package api is the status surface of zloggerd: liveness and readiness
// probes plus read-only views of the chalkline registry and the latest
// persisted positions. It is diagnostic, not a data API — the bus is the
// live feed.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/wiedmann/zlogger/internal/domain"
)

// readinessTimeout is the per-check timeout for readiness probes.
const readinessTimeout = 2 * time.Second

const (
	defaultLiveLimit = 50
	maxLiveLimit     = 500
)

// ChalklineLister lists the registered chalklines, implemented by
// postgres.ChalklineStore.
type ChalklineLister interface {
	List(ctx context.Context) ([]domain.Chalkline, error)
}

// PositionReader reads the most recent line crossings, implemented by
// postgres.PositionStore.
type PositionReader interface {
	Latest(ctx context.Context, limit int) ([]domain.Position, error)
}

// Pinger verifies the database is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	chalklines ChalklineLister
	positions  PositionReader
	db         Pinger
}

// NewServer wires the status API. db may be nil when running without a
// database; readiness then only confirms the process is up.
func NewServer(chalklines ChalklineLister, positions PositionReader, db Pinger) *Server {
	return &Server{chalklines: chalklines, positions: positions, db: db}
}

// Router builds the chi router for the status endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Get("/chalklines", s.handleChalklines)
	r.Get("/live", s.handleLatest)
	return r
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings the database with a short timeout; 503 when it is
// unreachable so a supervisor can tell a wedged daemon from a live one.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleChalklines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.chalklines.List(r.Context())
	if err != nil {
		internalError(w, "list chalklines", err)
		return
	}
	if lines == nil {
		lines = []domain.Chalkline{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// handleLatest returns the most recent crossings, newest first. The limit
// query parameter is clamped to keep the response bounded.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := defaultLiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxLiveLimit {
		limit = maxLiveLimit
	}

	positions, err := s.positions.Latest(r.Context(), limit)
	if err != nil {
		internalError(w, "latest positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
