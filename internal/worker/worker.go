package worker

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/job"
	"github.com/aescanero/dago-serverless-worker/internal/state"
	"go.uber.org/zap"
)

// ErrRefreshRequested is returned by Run after a job asked for the worker
// to be retired. The caller should exit so the pod can be replaced.
var ErrRefreshRequested = errors.New("worker refresh requested")

const defaultIdleDelay = time.Second

// Config configures a Worker.
type Config struct {
	Source    job.Source
	Runner    *job.Runner
	Handler   job.Handler
	Submitter job.Submitter
	State     *state.WorkerState

	// IdleDelay is the wait after an iteration that found no job
	// (default: 1s).
	IdleDelay time.Duration

	// MaxJobs stops the loop after that many jobs; 0 means no limit.
	MaxJobs int

	// Cleanup, if set, runs after each job's result has been handled.
	Cleanup func(jobID string) error

	Logger *zap.Logger
}

// Worker runs jobs one at a time: fetch, execute, submit, repeat.
type Worker struct {
	source    job.Source
	runner    *job.Runner
	handler   job.Handler
	submitter job.Submitter
	state     *state.WorkerState
	idleDelay time.Duration
	maxJobs   int
	cleanup   func(jobID string) error
	logger    *zap.Logger
}

// New creates a new worker
func New(cfg Config) *Worker {
	idleDelay := cfg.IdleDelay
	if idleDelay <= 0 {
		idleDelay = defaultIdleDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runner := cfg.Runner
	if runner == nil {
		runner = job.NewRunner(logger)
	}

	return &Worker{
		source:    cfg.Source,
		runner:    runner,
		handler:   cfg.Handler,
		submitter: cfg.Submitter,
		state:     cfg.State,
		idleDelay: idleDelay,
		maxJobs:   cfg.MaxJobs,
		cleanup:   cfg.Cleanup,
		logger:    logger,
	}
}

// Run processes jobs until ctx is cancelled (returns nil), MaxJobs jobs
// have run (returns nil) or a job requests a refresh (returns
// ErrRefreshRequested). A running handler is never interrupted.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job loop", zap.String("worker_id", w.state.WorkerID()))

	processed := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("job loop stopped")
			return nil
		}

		j, err := w.source.Next(ctx)
		if err != nil {
			w.logger.Error("failed to fetch job", zap.Error(err))
			j = nil
		}
		if j == nil {
			w.idle(ctx)
			continue
		}

		stop := w.process(ctx, j)
		processed++

		if stop {
			w.logger.Info("job requested worker refresh", zap.String("job_id", j.ID))
			return ErrRefreshRequested
		}
		if w.maxJobs > 0 && processed >= w.maxJobs {
			w.logger.Info("job limit reached", zap.Int("processed", processed))
			return nil
		}
	}
}

// process runs one job and delivers its result. It reports whether the
// job asked to stop the pod.
func (w *Worker) process(ctx context.Context, j *job.Job) bool {
	w.state.SetCurrentJob(j.ID)
	defer w.state.ClearCurrentJob()

	result := w.runner.Run(ctx, w.handler, j)

	// Deliver even if ctx was cancelled while the handler ran.
	submitCtx := context.WithoutCancel(ctx)
	if err := w.submitter.Submit(submitCtx, j.ID, result); err != nil {
		w.logger.Error("job result lost",
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
	}

	if w.cleanup != nil {
		if err := w.cleanup(j.ID); err != nil {
			w.logger.Warn("failed to clean up job files",
				zap.String("job_id", j.ID),
				zap.Error(err),
			)
		}
	}

	return result.StopPod
}

// idle waits before the next fetch
func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.idleDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
