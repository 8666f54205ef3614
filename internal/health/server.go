// Package health serves liveness, Prometheus metrics and collection statistics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     int64             `json:"timestamp"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Options wires the server to the rest of the service. Nil fields disable their endpoint.
type Options struct {
	Service string
	Metrics *metrics.Metrics

	// Stats returns collection statistics for [from, to]; zero bounds are open
	Stats func(from, to time.Time) interface{}

	// TaskStatus returns one task's execution status
	TaskStatus func(taskID string) (interface{}, error)

	// Checks report dependency health; a false check marks the service degraded
	Checks map[string]func() bool
}

type Server struct {
	opts       Options
	startTime  time.Time
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	if opts.Service == "" {
		opts.Service = "sentinel"
	}

	return &Server{
		opts:      opts,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.taskHandler).Methods(http.MethodGet)
	return r
}

// Start listens in the background
func (s *Server) Start(port string) {
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Health server listening", zap.String("port", port))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := &HealthResponse{
		Status:        "healthy",
		Service:       s.opts.Service,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Timestamp:     time.Now().Unix(),
	}

	if len(s.opts.Checks) > 0 {
		response.Checks = make(map[string]string, len(s.opts.Checks))
		for name, check := range s.opts.Checks {
			if check() {
				response.Checks[name] = "ok"
			} else {
				response.Checks[name] = "unavailable"
				response.Status = "degraded"
			}
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		http.Error(w, "statistics unavailable", http.StatusNotFound)
		return
	}

	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
		return
	}

	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.opts.Stats(from, to))
}

func (s *Server) taskHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.TaskStatus == nil {
		http.Error(w, "task executor disabled", http.StatusNotFound)
		return
	}

	taskID := mux.Vars(r)["id"]

	status, err := s.opts.TaskStatus(taskID)
	if errors.Is(err, executor.ErrTaskNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// parseTime accepts RFC3339 or empty (open bound)
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
