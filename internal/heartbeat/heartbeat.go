// Package heartbeat reports worker liveness to the control plane.
package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/metrics"
	"github.com/aescanero/dago-serverless-worker/internal/state"
	"go.uber.org/zap"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 10 * time.Second

// Service pings the control plane at a fixed interval from a single
// goroutine. It reads the current job id but never changes it.
type Service struct {
	client   *http.Client
	state    *state.WorkerState
	apiKey   string
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new heartbeat service
func New(client *http.Client, st *state.WorkerState, apiKey string, interval time.Duration, logger *zap.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Service{
		client:   client,
		state:    st,
		apiKey:   apiKey,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the heartbeat. Without a ping endpoint it does nothing.
func (s *Service) Start(ctx context.Context) {
	pingURL, ok := s.state.PingURL()
	if !ok {
		s.logger.Info("heartbeat disabled, no ping endpoint configured")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting heartbeat", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, pingURL)
	}()
}

// Stop stops the heartbeat and waits for an in-flight ping to finish
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("heartbeat stopped")
}

// loop pings immediately, then once per interval
func (s *Service) loop(ctx context.Context, pingURL string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.ping(ctx, pingURL)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping(ctx, pingURL)
		}
	}
}

// ping sends one heartbeat. Failures are only logged.
func (s *Service) ping(ctx context.Context, pingURL string) {
	jobID, hasJob := s.state.CurrentJob()

	err := s.send(ctx, pingURL, jobID, hasJob)
	metrics.Heartbeats.WithLabelValues(metrics.StatusLabel(err)).Inc()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("heartbeat failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("heartbeat sent",
		zap.String("job_id", jobID),
		zap.Duration("interval", s.interval),
	)
}

func (s *Service) send(ctx context.Context, pingURL, jobID string, hasJob bool) error {
	u, err := url.Parse(pingURL)
	if err != nil {
		return fmt.Errorf("invalid ping url: %w", err)
	}
	if hasJob {
		q := u.Query()
		q.Set("job_id", jobID)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
