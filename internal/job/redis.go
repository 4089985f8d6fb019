package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/metrics"
	"github.com/aescanero/dago-serverless-worker/internal/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSource consumes jobs from a Redis stream through a consumer group.
// Each message carries the job record as JSON in its "data" field.
type RedisSource struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	blockTime time.Duration
	logger    *zap.Logger

	groupReady bool
}

// NewRedisSource creates a new stream job source
func NewRedisSource(client *redis.Client, stream, group, consumer string, blockTime time.Duration, logger *zap.Logger) *RedisSource {
	return &RedisSource{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		blockTime: blockTime,
		logger:    logger,
	}
}

// Next reads at most one message. The message is acknowledged as soon as
// it is parsed: delivery guarantees end at the worker, as with the HTTP
// endpoint.
func (s *RedisSource) Next(ctx context.Context) (*Job, error) {
	if err := s.ensureConsumerGroup(ctx); err != nil {
		s.logger.Error("failed to ensure consumer group", zap.Error(err))
		return nil, nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		s.logger.Error("failed to read from stream", zap.Error(err))
		return nil, nil
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			job, err := parseStreamMessage(message.Values)
			s.acknowledge(ctx, message.ID)
			if err != nil {
				s.logger.Error("failed to parse job message",
					zap.String("message_id", message.ID),
					zap.Error(err),
				)
				return nil, nil
			}

			s.logger.Info("received job",
				zap.String("job_id", job.ID),
				zap.String("message_id", message.ID),
			)
			return job, nil
		}
	}

	return nil, nil
}

// Ping checks the Redis connection
func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ensureConsumerGroup creates the consumer group if it doesn't exist.
// Only the job loop calls Next, so groupReady needs no locking.
func (s *RedisSource) ensureConsumerGroup(ctx context.Context) error {
	if s.groupReady {
		return nil
	}

	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Debug("consumer group ready",
		zap.String("group", s.group),
		zap.String("stream", s.stream),
	)
	s.groupReady = true
	return nil
}

// acknowledge acknowledges a message from the stream
func (s *RedisSource) acknowledge(ctx context.Context, messageID string) {
	if err := s.client.XAck(ctx, s.stream, s.group, messageID).Err(); err != nil {
		s.logger.Error("failed to acknowledge message",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// parseStreamMessage parses a job from a Redis message
func parseStreamMessage(values map[string]interface{}) (*Job, error) {
	data, ok := values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'data' field")
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job record has no id")
	}

	return &job, nil
}

// RedisSubmitter publishes results to a Redis stream.
type RedisSubmitter struct {
	client   *redis.Client
	stream   string
	workerID string
	policy   retry.Policy
	logger   *zap.Logger
}

// NewRedisSubmitter creates a new stream result submitter
func NewRedisSubmitter(client *redis.Client, stream, workerID string, logger *zap.Logger) *RedisSubmitter {
	return &RedisSubmitter{
		client:   client,
		stream:   stream,
		workerID: workerID,
		policy:   retry.SubmitPolicy,
		logger:   logger,
	}
}

// Submit appends the result to the result stream
func (s *RedisSubmitter) Submit(ctx context.Context, jobID string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"job_id":    jobID,
				"worker_id": s.workerID,
				"data":      string(data),
			},
		}).Result()
	})
	metrics.ResultSubmissions.WithLabelValues(metrics.StatusLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrSubmitFailed, jobID, err)
	}

	s.logger.Info("published job result",
		zap.String("job_id", jobID),
		zap.String("stream", s.stream),
	)
	return nil
}
