package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the serverless worker
type Config struct {
	// Worker identity
	WorkerID string `env:"RUNPOD_POD_ID"`

	// Control plane endpoints (URL templates)
	JobGetURL      string        `env:"RUNPOD_WEBHOOK_GET_JOB"`
	JobDoneURL     string        `env:"RUNPOD_WEBHOOK_POST_OUTPUT"`
	PingURL        string        `env:"RUNPOD_WEBHOOK_PING"`
	PingIntervalMs int           `env:"RUNPOD_PING_INTERVAL" envDefault:"10000"`
	APIKey         string        `env:"RUNPOD_AI_API_KEY"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Job loop configuration
	TestInputPath string        `env:"TEST_INPUT_PATH" envDefault:"test_input.json"`
	IdleDelay     time.Duration `env:"JOB_IDLE_DELAY" envDefault:"1s"`

	// Artifact downloads
	JobFilesDir         string `env:"JOB_FILES_DIR" envDefault:"job_files"`
	DownloadConcurrency int    `env:"DOWNLOAD_CONCURRENCY" envDefault:"8"`

	// Redis configuration (optional stream transport)
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASS" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	JobStream     string        `env:"JOB_STREAM"`
	ConsumerGroup string        `env:"CONSUMER_GROUP" envDefault:"serverless-workers"`
	ResultStream  string        `env:"RESULT_STREAM"`
	BlockTime     time.Duration `env:"BLOCK_TIME" envDefault:"1s"`

	// Health check configuration
	HealthPort int `env:"HEALTH_PORT" envDefault:"8082"`

	// Realtime job API, served next to the health endpoints
	EndpointID          string `env:"RUNPOD_ENDPOINT_ID"`
	RealtimeConcurrency int    `env:"API_CONCURRENCY" envDefault:"1"`

	// Logging configuration
	Debug     bool   `env:"RUNPOD_DEBUG" envDefault:"true"`
	LogLevel  string `env:"RUNPOD_DEBUG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Override changes a parsed configuration before it is validated.
type Override func(c *Config)

// WithLogLevel replaces RUNPOD_DEBUG_LEVEL.
func WithLogLevel(level string) Override {
	return func(c *Config) { c.LogLevel = level }
}

// WithTestInput replaces TEST_INPUT_PATH.
func WithTestInput(path string) Override {
	return func(c *Config) { c.TestInputPath = path }
}

// Load loads configuration from environment variables, applies overrides
// and validates the result
func Load(overrides ...Override) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Any control plane webhook needs the API key; without it every request
	// would be rejected, so treat it as a startup fault.
	if (c.JobGetURL != "" || c.JobDoneURL != "" || c.PingURL != "") && c.APIKey == "" {
		return fmt.Errorf("RUNPOD_AI_API_KEY is required when a control plane webhook is configured")
	}

	if c.PingIntervalMs <= 0 {
		return fmt.Errorf("RUNPOD_PING_INTERVAL must be positive")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.IdleDelay < 0 {
		return fmt.Errorf("JOB_IDLE_DELAY must be non-negative")
	}

	if c.DownloadConcurrency <= 0 {
		return fmt.Errorf("DOWNLOAD_CONCURRENCY must be positive")
	}

	if c.JobStream != "" {
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when JOB_STREAM is set")
		}
		if c.ConsumerGroup == "" {
			return fmt.Errorf("CONSUMER_GROUP is required when JOB_STREAM is set")
		}
		if c.BlockTime <= 0 {
			return fmt.Errorf("BLOCK_TIME must be positive")
		}
	}

	if c.ResultStream != "" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when RESULT_STREAM is set")
	}

	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 0 and 65535")
	}

	if c.EndpointID != "" {
		if c.HealthPort == 0 {
			return fmt.Errorf("HEALTH_PORT is required when RUNPOD_ENDPOINT_ID is set")
		}
		if c.RealtimeConcurrency <= 0 {
			return fmt.Errorf("API_CONCURRENCY must be positive")
		}
	}

	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("RUNPOD_DEBUG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}

	return nil
}

// isValidLogLevel checks if the log level is valid
func isValidLogLevel(level string) bool {
	validLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
	}
	return validLevels[strings.ToUpper(level)]
}

// PingInterval returns the heartbeat interval
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// RemoteMode reports whether jobs are fetched from the control plane
func (c *Config) RemoteMode() bool {
	return c.JobGetURL != ""
}

// StreamMode reports whether jobs are consumed from a Redis stream
func (c *Config) StreamMode() bool {
	return !c.RemoteMode() && c.JobStream != ""
}

// RealtimeEnabled reports whether posted jobs are served over HTTP
func (c *Config) RealtimeEnabled() bool {
	return c.EndpointID != ""
}

// UsesRedis reports whether a Redis client is needed
func (c *Config) UsesRedis() bool {
	return c.StreamMode() || c.ResultStream != ""
}

// String returns a string representation of the config with secrets redacted
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{WorkerID=%s, JobGetURL=%s, JobDoneURL=%s, PingURL=%s, PingIntervalMs=%d, "+
			"APIKey=%s, TestInputPath=%s, RedisAddr=%s, JobStream=%s, ResultStream=%s, "+
			"HealthPort=%d, EndpointID=%s, LogLevel=%s}",
		c.WorkerID,
		Redact(c.JobGetURL),
		Redact(c.JobDoneURL),
		Redact(c.PingURL),
		c.PingIntervalMs,
		Redact(c.APIKey),
		c.TestInputPath,
		c.RedisAddr,
		c.JobStream,
		c.ResultStream,
		c.HealthPort,
		c.EndpointID,
		c.LogLevel,
	)
}

// Redact masks a secret, keeping only its first and last character.
func Redact(secret string) string {
	switch len(secret) {
	case 0:
		return ""
	case 1, 2:
		return strings.Repeat("*", len(secret))
	}
	return secret[:1] + strings.Repeat("*", len(secret)-2) + secret[len(secret)-1:]
}
