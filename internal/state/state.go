// Package state holds the worker's identity and the id of the job it is
// currently executing.
//
// A single WorkerState is built at startup and shared by the job loop (the
// only writer of the current-job slot) and the heartbeat (a reader).
package state

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Placeholders substituted into the control plane URL templates.
const (
	placeholderJobID    = "$ID"
	placeholderWorkerID = "$RUNPOD_POD_ID"
)

// Templates are the control plane URL templates as configured.
type Templates struct {
	GetJob  string
	JobDone string
	Ping    string
}

// Identity is the read-only addressing state of a worker.
type Identity struct {
	WorkerID string

	getJobURL       string
	jobDoneTemplate string
	pingURL         string
}

// WorkerState is safe for concurrent use.
type WorkerState struct {
	identity Identity

	mu         sync.RWMutex
	currentJob string
	hasJob     bool
}

// New builds the worker state. An empty workerID is replaced by a random
// one that lives as long as the process.
func New(workerID string, t Templates) *WorkerState {
	if workerID == "" {
		workerID = uuid.NewString()
	}

	return &WorkerState{
		identity: Identity{
			WorkerID:        workerID,
			getJobURL:       strings.ReplaceAll(t.GetJob, placeholderJobID, workerID),
			jobDoneTemplate: strings.ReplaceAll(t.JobDone, placeholderWorkerID, workerID),
			pingURL:         strings.ReplaceAll(t.Ping, placeholderWorkerID, workerID),
		},
	}
}

// Identity returns the worker identity.
func (s *WorkerState) Identity() Identity {
	return s.identity
}

// WorkerID returns the worker id.
func (s *WorkerState) WorkerID() string {
	return s.identity.WorkerID
}

// SetCurrentJob marks id as the job being executed.
func (s *WorkerState) SetCurrentJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentJob = id
	s.hasJob = true
}

// ClearCurrentJob empties the current-job slot.
func (s *WorkerState) ClearCurrentJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentJob = ""
	s.hasJob = false
}

// CurrentJob returns the id of the job being executed, if any.
func (s *WorkerState) CurrentJob() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentJob, s.hasJob
}

// GetURL returns the job fetch URL. ok is false when remote fetching is
// not configured.
func (s *WorkerState) GetURL() (string, bool) {
	return s.identity.getJobURL, s.identity.getJobURL != ""
}

// DoneURL returns the result submission URL for jobID. ok is false when
// remote submission is not configured.
func (s *WorkerState) DoneURL(jobID string) (string, bool) {
	if s.identity.jobDoneTemplate == "" {
		return "", false
	}
	return strings.ReplaceAll(s.identity.jobDoneTemplate, placeholderJobID, jobID), true
}

// PingURL returns the heartbeat URL. ok is false when heartbeating is
// disabled.
func (s *WorkerState) PingURL() (string, bool) {
	return s.identity.pingURL, s.identity.pingURL != ""
}
