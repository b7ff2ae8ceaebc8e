// Package api is the dashboard-facing HTTP surface: trigger CRUD, run-now,
// execution log reads, the preset catalog and the websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"homeserverd/internal/cronspec"
	"homeserverd/internal/eventbus"
	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

// Store is the persistence slice the API reads and writes.
type Store interface {
	CreateTrigger(ctx context.Context, t storage.Trigger) (storage.Trigger, error)
	UpdateTrigger(ctx context.Context, id int64, u storage.TriggerUpdate) (storage.Trigger, error)
	DeleteTrigger(ctx context.Context, id int64) error
	GetTrigger(ctx context.Context, id int64) (storage.Trigger, error)
	ListTriggers(ctx context.Context) ([]storage.Trigger, error)
	ListExecutions(ctx context.Context, jobID int64, limit int) ([]storage.ExecutionRecord, error)
	ListNotifications(ctx context.Context, limit int) ([]storage.Notification, error)
}

// Scheduler is the live timer registry the API keeps in step with the store.
type Scheduler interface {
	Add(t storage.Trigger) error
	Remove(id int64)
	RunNow(ctx context.Context, id int64) (storage.ExecutionRecord, error)
	HasTimer(id int64) bool
}

// Options tunes the outer middleware.
type Options struct {
	// RatePerMinute caps requests across all clients. 0 disables limiting.
	RatePerMinute int
	// AllowedOrigins for CORS. Empty means allow all.
	AllowedOrigins []string
}

type Server struct {
	store   Store
	sched   Scheduler
	bus     eventbus.Bus
	log     logx.Logger
	router  *mux.Router
	cors    *cors.Cors
	limiter *rate.Limiter
}

func NewServer(store Store, sched Scheduler, bus eventbus.Bus, opts Options, log logx.Logger) *Server {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		store:  store,
		sched:  sched,
		bus:    bus,
		log:    log,
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With"},
		}),
	}
	if opts.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60), opts.RatePerMinute)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// The websocket endpoint stays outside the rate limit: a heartbeat-only
	// connection should never starve REST callers or vice versa.
	s.router.HandleFunc("/ws", s.handleStream)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimit)

	api.HandleFunc("/scheduler/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/scheduler/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/scheduler/jobs/{id:[0-9]+}", s.handleUpdateJob).Methods("PUT")
	api.HandleFunc("/scheduler/jobs/{id:[0-9]+}", s.handleDeleteJob).Methods("DELETE")
	api.HandleFunc("/scheduler/jobs/{id:[0-9]+}/run", s.handleRunJob).Methods("POST")
	api.HandleFunc("/scheduler/logs", s.handleListLogs).Methods("GET")
	api.HandleFunc("/scheduler/presets", s.handlePresets).Methods("GET")
	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
}

// Handler returns the complete middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps storage errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrUnknownJobType),
		errors.Is(err, cronspec.ErrInvalidSchedule),
		errors.Is(err, storage.ErrInvalidTrigger):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
