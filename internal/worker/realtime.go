package worker

import (
	"encoding/json"
	"net/http"

	"github.com/aescanero/dago-serverless-worker/internal/job"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultRealtimeConcurrency = 1

// RealtimeConfig configures the realtime job API.
type RealtimeConfig struct {
	// EndpointID must match the {endpointID} path segment; other ids
	// get a 404.
	EndpointID string

	// MaxConcurrency bounds handler runs in flight (default: 1).
	MaxConcurrency int

	Runner  *job.Runner
	Handler job.Handler

	// Cleanup, if set, runs after each job's result has been written.
	Cleanup func(jobID string) error

	Logger *zap.Logger
}

// Realtime runs jobs posted to POST /{endpointID}/realtime and answers
// with their normalized result. It works beside the job loop and never
// touches the current-job slot.
type Realtime struct {
	endpointID string
	runner     *job.Runner
	handler    job.Handler
	cleanup    func(jobID string) error
	sem        *semaphore.Weighted
	logger     *zap.Logger
}

// NewRealtime creates a new realtime job API
func NewRealtime(cfg RealtimeConfig) *Realtime {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runner := cfg.Runner
	if runner == nil {
		runner = job.NewRunner(logger)
	}

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultRealtimeConcurrency
	}

	return &Realtime{
		endpointID: cfg.EndpointID,
		runner:     runner,
		handler:    cfg.Handler,
		cleanup:    cfg.Cleanup,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		logger:     logger,
	}
}

// handleRun handles POST /{endpointID}/realtime
func (rt *Realtime) handleRun(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "endpointID") != rt.endpointID {
		http.NotFound(w, r)
		return
	}

	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		respondJSON(w, rt.logger, http.StatusBadRequest, map[string]string{"error": "invalid job: " + err.Error()})
		return
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}

	if err := rt.sem.Acquire(r.Context(), 1); err != nil {
		respondJSON(w, rt.logger, http.StatusServiceUnavailable, map[string]string{"error": "request cancelled"})
		return
	}
	defer rt.sem.Release(1)

	rt.logger.Info("received realtime job", zap.String("job_id", j.ID))
	result := rt.runner.Run(r.Context(), rt.handler, &j)

	respondJSON(w, rt.logger, http.StatusOK, result)

	if rt.cleanup != nil {
		if err := rt.cleanup(j.ID); err != nil {
			rt.logger.Warn("failed to clean up job files",
				zap.String("job_id", j.ID),
				zap.Error(err),
			)
		}
	}
}
