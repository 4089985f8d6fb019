package job

import (
	"context"
	"encoding/json"
)

// Job is one unit of work issued by the control plane.
type Job struct {
	ID    string `json:"id"`
	Input any    `json:"input"`
}

// Result is the normalized outcome of a job. Exactly one of Output or
// Error is meaningful; StopPod may accompany an Output to ask for the
// worker to be retired once the result is delivered.
type Result struct {
	Output  any
	Error   string
	StopPod bool
}

// Failed reports whether the result carries a handler error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// MarshalJSON encodes the populated variant only.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Failed():
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	case r.StopPod:
		return json.Marshal(struct {
			Output  any  `json:"output"`
			StopPod bool `json:"stopPod"`
		}{r.Output, true})
	default:
		return json.Marshal(struct {
			Output any `json:"output"`
		}{r.Output})
	}
}

// UnmarshalJSON decodes any of the result variants.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		Output  any    `json:"output"`
		Error   string `json:"error"`
		StopPod bool   `json:"stopPod"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Result{Output: raw.Output, Error: raw.Error, StopPod: raw.StopPod}
	return nil
}

// Handler executes jobs. It is supplied by the embedding application.
//
// Handle receives the whole job: Input is the payload to work on, and ID
// is there to scope per-job resources such as download directories.
//
// The returned value is normalized into a Result: a returned error, or an
// object holding an "error" key, becomes an error result; an object
// holding a "refresh_worker" key requests worker retirement. Objects are
// maps, structs or anything else that encodes to a JSON object.
type Handler interface {
	Handle(ctx context.Context, job *Job) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Handle calls f(ctx, job).
func (f HandlerFunc) Handle(ctx context.Context, job *Job) (any, error) {
	return f(ctx, job)
}
