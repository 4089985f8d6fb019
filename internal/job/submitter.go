package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aescanero/dago-serverless-worker/internal/metrics"
	"github.com/aescanero/dago-serverless-worker/internal/retry"
	"github.com/aescanero/dago-serverless-worker/internal/state"
	"go.uber.org/zap"
)

// ErrSubmitFailed is returned once every delivery attempt has failed.
// There is no outbox: the result is lost.
var ErrSubmitFailed = errors.New("failed to submit job result")

// Submitter delivers a job's result.
type Submitter interface {
	Submit(ctx context.Context, jobID string, result Result) error
}

// HTTPSubmitter posts results to the control plane's job-done endpoint.
// Without a configured endpoint the result is only logged.
type HTTPSubmitter struct {
	client *http.Client
	state  *state.WorkerState
	apiKey string
	policy retry.Policy
	logger *zap.Logger
}

// NewHTTPSubmitter creates a new control plane result submitter
func NewHTTPSubmitter(client *http.Client, st *state.WorkerState, apiKey string, logger *zap.Logger) *HTTPSubmitter {
	return &HTTPSubmitter{
		client: client,
		state:  st,
		apiKey: apiKey,
		policy: retry.SubmitPolicy,
		logger: logger,
	}
}

// Submit delivers the result, retrying transport errors and non-2xx
// responses per the submit policy.
func (s *HTTPSubmitter) Submit(ctx context.Context, jobID string, result Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	url, ok := s.state.DoneURL(jobID)
	if !ok {
		s.logger.Warn("local test job results",
			zap.String("job_id", jobID),
			zap.String("result", string(body)),
		)
		return nil
	}

	s.logger.Debug("sending job results", zap.String("job_id", jobID), zap.Int("bytes", len(body)))

	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.post(ctx, url, body)
	})
	metrics.ResultSubmissions.WithLabelValues(metrics.StatusLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrSubmitFailed, jobID, err)
	}

	s.logger.Info("returned job result", zap.String("job_id", jobID))
	return nil
}

// post sends one delivery attempt
func (s *HTTPSubmitter) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("charset", "utf-8")
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("result delivery attempt failed", zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("result delivery attempt rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBody),
		)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	s.logger.Debug("result api response", zap.ByteString("response", respBody))
	return nil
}
