package job

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/metrics"
	"go.uber.org/zap"
)

// SoftSizeLimit is the advisory limit on a serialized result, in bytes.
// The control plane enforces the real limit.
const SoftSizeLimit = 20_000_000

const (
	keyError         = "error"
	keyRefreshWorker = "refresh_worker"
)

// Runner invokes a handler on a job and normalizes what it returns.
type Runner struct {
	logger    *zap.Logger
	sizeLimit int
}

// NewRunner creates a new runner
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		logger:    logger,
		sizeLimit: SoftSizeLimit,
	}
}

// Run executes handler on job and returns the normalized result. Handler
// errors and panics are turned into error results; Run never fails.
func (r *Runner) Run(ctx context.Context, handler Handler, job *Job) Result {
	logger := r.logger.With(zap.String("job_id", job.ID))

	start := time.Now()
	logger.Info("started working on job", zap.Time("started_at", start.UTC()))

	result := normalize(r.invoke(ctx, handler, job))

	size, err := r.checkSize(logger, result)
	if err != nil {
		logger.Error("failed to serialize job result", zap.Error(err))
		result = Result{Error: fmt.Sprintf("failed to serialize handler output: %v", err)}
	}

	end := time.Now()
	elapsed := end.Sub(start)
	metrics.JobDuration.Observe(elapsed.Seconds())
	metrics.JobsTotal.WithLabelValues(outcome(result)).Inc()

	logger.Info("finished working on job",
		zap.Time("finished_at", end.UTC()),
		zap.Duration("duration", elapsed),
		zap.Int("result_bytes", size),
		zap.Bool("failed", result.Failed()),
		zap.Bool("stop_pod", result.StopPod),
	)

	return result
}

// handlerOutcome is the raw value a handler produced
type handlerOutcome struct {
	value any
	err   error
}

// invoke calls the handler, recovering from panics
func (r *Runner) invoke(ctx context.Context, handler Handler, job *Job) (out handlerOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", rec),
			)
			out = handlerOutcome{err: fmt.Errorf("handler panic: %v", rec)}
		}
	}()

	value, err := handler.Handle(ctx, job)
	return handlerOutcome{value: value, err: err}
}

// normalize maps a raw handler outcome onto a Result
func normalize(out handlerOutcome) Result {
	if out.err != nil {
		return Result{Error: nonEmpty(out.err.Error())}
	}
	return NormalizeValue(out.value)
}

// NormalizeValue maps a handler's return value onto a Result:
//   - a boolean becomes an output;
//   - an object with an "error" key becomes an error;
//   - an object with a "refresh_worker" key loses that key and becomes an
//     output that stops the pod;
//   - anything else becomes an output.
//
// Objects are map[string]any or any value that encodes to a JSON object,
// such as typed maps, structs and json.RawMessage.
func NormalizeValue(v any) Result {
	switch val := v.(type) {
	case nil:
		return Result{}
	case bool:
		return Result{Output: val}
	case map[string]any:
		if result, ok := normalizeObject(val); ok {
			return result
		}
		return Result{Output: val}
	}

	if obj, ok := asObject(v); ok {
		if result, ok := normalizeObject(obj); ok {
			return result
		}
	}
	return Result{Output: v}
}

// normalizeObject applies the reserved keys. ok is false when obj has
// none of them.
func normalizeObject(obj map[string]any) (Result, bool) {
	if e, ok := obj[keyError]; ok {
		return Result{Error: nonEmpty(stringify(e))}, true
	}
	if _, ok := obj[keyRefreshWorker]; ok {
		output := make(map[string]any, len(obj)-1)
		for k, item := range obj {
			if k != keyRefreshWorker {
				output[k] = item
			}
		}
		return Result{Output: output, StopPod: true}, true
	}
	return Result{}, false
}

// asObject converts structured values to their generic JSON object form
func asObject(v any) (map[string]any, bool) {
	if _, ok := v.(json.Marshaler); !ok {
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Struct, reflect.Pointer:
		default:
			return nil, false
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// checkSize warns when the serialized result exceeds the soft limit
func (r *Runner) checkSize(logger *zap.Logger, result Result) (int, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}

	size := len(data)
	if size > r.sizeLimit {
		metrics.OversizedResults.Inc()
		logger.Warn("job result exceeds the soft size limit; consider uploading it to object storage and returning its URL",
			zap.Float64("size_mb", float64(size)/1_000_000),
			zap.Float64("limit_mb", float64(r.sizeLimit)/1_000_000),
		)
	} else {
		logger.Debug("job result size", zap.Float64("size_mb", float64(size)/1_000_000))
	}

	return size, nil
}

// stringify renders an error value reported by a handler
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func nonEmpty(msg string) string {
	if msg == "" {
		return "handler reported an error"
	}
	return msg
}

func outcome(r Result) string {
	switch {
	case r.Failed():
		return metrics.OutcomeError
	case r.StopPod:
		return metrics.OutcomeStopPod
	default:
		return metrics.OutcomeOutput
	}
}
