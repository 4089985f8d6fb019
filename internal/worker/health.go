package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger checks a dependency the worker needs, such as Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides HTTP health check and metrics endpoints
type HealthServer struct {
	port   int
	state  *state.WorkerState
	checks   map[string]Pinger
	realtime *Realtime
	logger   *zap.Logger
	server   *http.Server
}

// NewHealthServer creates a new health server. checks may be nil.
func NewHealthServer(port int, st *state.WorkerState, checks map[string]Pinger, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		port:   port,
		state:  st,
		checks: checks,
		logger: logger,
	}
}

// EnableRealtime serves rt on POST /{endpointID}/realtime. Call before
// Start.
func (hs *HealthServer) EnableRealtime(rt *Realtime) {
	hs.realtime = rt
}

// Routes returns the server's handler
func (hs *HealthServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", hs.handleHealth)
	r.Get("/ready", hs.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	if hs.realtime != nil {
		r.Post("/{endpointID}/realtime", hs.realtime.handleRun)
	}
	return r
}

// Start starts the health check server
func (hs *HealthServer) Start() error {
	hs.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", hs.port),
		Handler:           hs.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	hs.logger.Info("starting health server", zap.Int("port", hs.port))

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the health check server
func (hs *HealthServer) Stop() error {
	if hs.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs.logger.Info("stopping health server")
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	WorkerID   string            `json:"worker_id,omitempty"`
	CurrentJob string            `json:"current_job,omitempty"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// handleHealth handles the /health endpoint
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks, healthy := hs.runChecks(r.Context())
	currentJob, _ := hs.state.CurrentJob()

	resp := HealthResponse{
		Status:     "healthy",
		WorkerID:   hs.state.WorkerID(),
		CurrentJob: currentJob,
		Checks:     checks,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, hs.logger, status, resp)
}

// handleReady handles the /ready endpoint
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, healthy := hs.runChecks(r.Context()); !healthy {
		respondJSON(w, hs.logger, http.StatusServiceUnavailable, HealthResponse{Status: "not ready"})
		return
	}

	respondJSON(w, hs.logger, http.StatusOK, HealthResponse{Status: "ready"})
}

// runChecks pings every dependency
func (hs *HealthServer) runChecks(ctx context.Context) (map[string]string, bool) {
	if len(hs.checks) == 0 {
		return nil, true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	healthy := true
	results := make(map[string]string, len(hs.checks))
	for name, check := range hs.checks {
		if err := check.Ping(ctx); err != nil {
			results[name] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
			continue
		}
		results[name] = "healthy"
	}
	return results, healthy
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
