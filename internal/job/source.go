package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/aescanero/dago-serverless-worker/internal/state"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LocalJobID is assigned to fixture jobs that carry no id.
const LocalJobID = "local_test"

// Source acquires the next job. A nil job with a nil error means no job
// is available this iteration; sources log their own failures and report
// them as "no job" so the caller just tries again later.
type Source interface {
	Next(ctx context.Context) (*Job, error)
}

// HTTPSource takes jobs from the control plane's job endpoint.
type HTTPSource struct {
	client *http.Client
	state  *state.WorkerState
	apiKey string
	logger *zap.Logger
}

// NewHTTPSource creates a new control plane job source
func NewHTTPSource(client *http.Client, st *state.WorkerState, apiKey string, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		client: client,
		state:  st,
		apiKey: apiKey,
		logger: logger,
	}
}

// Next issues a single GET for a job. Errors are logged, not retried.
func (s *HTTPSource) Next(ctx context.Context) (*Job, error) {
	url, ok := s.state.GetURL()
	if !ok {
		s.logger.Warn("job fetch endpoint not configured")
		return nil, nil
	}

	job, err := s.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		s.logger.Error("failed to get job", zap.Error(err))
		return nil, nil
	}
	if job == nil {
		s.logger.Debug("no job available")
		return nil, nil
	}

	s.logger.Info("received job", zap.String("job_id", job.ID))
	return job, nil
}

// fetch performs the request and decodes the job record
func (s *HTTPSource) fetch(ctx context.Context, url string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job record has no id")
	}

	return &job, nil
}

// LocalSource reads a job from a fixture file, for running without a
// control plane. The file is read again on every call.
type LocalSource struct {
	path   string
	logger *zap.Logger
}

// NewLocalSource creates a new fixture job source
func NewLocalSource(path string, logger *zap.Logger) *LocalSource {
	return &LocalSource{
		path:   path,
		logger: logger,
	}
}

// Next returns the fixture job, or no job when the file is missing or
// unreadable.
func (s *LocalSource) Next(ctx context.Context) (*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("local test input not found, skipping local testing", zap.String("path", s.path))
		} else {
			s.logger.Error("failed to read local test input", zap.String("path", s.path), zap.Error(err))
		}
		return nil, nil
	}

	job, err := ParseFixture(data)
	if err != nil {
		s.logger.Error("failed to parse local test input", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}

	s.logger.Debug("retrieved local job", zap.String("job_id", job.ID), zap.Any("input", job.Input))
	return job, nil
}

// ParseFixture decodes a fixture (JSON or YAML). A fixture with an
// "input" key is a full job record; otherwise everything but "id" is the
// input. A missing id becomes LocalJobID.
func ParseFixture(data []byte) (*Job, error) {
	var fixture map[string]any
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	if fixture == nil {
		return nil, fmt.Errorf("fixture is empty")
	}

	job := &Job{ID: LocalJobID}
	if id, ok := fixture["id"]; ok && id != nil {
		job.ID = fmt.Sprint(id)
	}

	if input, ok := fixture["input"]; ok {
		job.Input = input
		return job, nil
	}

	input := make(map[string]any, len(fixture))
	for k, v := range fixture {
		if k != "id" {
			input[k] = v
		}
	}
	job.Input = input

	return job, nil
}
