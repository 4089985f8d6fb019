package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aescanero/dago-serverless-worker/internal/config"
	"github.com/aescanero/dago-serverless-worker/internal/download"
	"github.com/aescanero/dago-serverless-worker/internal/handler"
	"github.com/aescanero/dago-serverless-worker/internal/heartbeat"
	"github.com/aescanero/dago-serverless-worker/internal/job"
	"github.com/aescanero/dago-serverless-worker/internal/state"
	"github.com/aescanero/dago-serverless-worker/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

type options struct {
	logLevel  string
	testInput string
	maxJobs   int
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "serverless-worker",
		Short:         "Serverless job worker",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides RUNPOD_DEBUG_LEVEL")
	rootCmd.Flags().StringVar(&opts.testInput, "test-input", "", "Local job fixture; overrides TEST_INPUT_PATH")
	rootCmd.Flags().IntVar(&opts.maxJobs, "max-jobs", 0, "Stop after this many jobs (0 = no limit)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerState := state.New(cfg.WorkerID, state.Templates{
		GetJob:  cfg.JobGetURL,
		JobDone: cfg.JobDoneURL,
		Ping:    cfg.PingURL,
	})

	logger.Info("starting serverless worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("worker_id", workerState.WorkerID()),
	)
	logger.Info("configuration loaded", zap.String("config", cfg.String()))

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	checks := map[string]worker.Pinger{}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("failed to close redis connection", zap.Error(err))
			}
		}()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		checks["redis"] = redisPinger{redisClient}
	}

	var source job.Source
	switch {
	case cfg.RemoteMode():
		source = job.NewHTTPSource(httpClient, workerState, cfg.APIKey, logger)
		logger.Info("fetching jobs from control plane")
	case cfg.StreamMode():
		source = job.NewRedisSource(redisClient, cfg.JobStream, cfg.ConsumerGroup,
			workerState.WorkerID(), cfg.BlockTime, logger)
		logger.Info("consuming jobs from redis stream",
			zap.String("stream", cfg.JobStream),
			zap.String("group", cfg.ConsumerGroup),
		)
	default:
		source = job.NewLocalSource(cfg.TestInputPath, logger)
		logger.Info("running in local test mode", zap.String("test_input", cfg.TestInputPath))
	}

	var submitter job.Submitter
	if cfg.ResultStream != "" {
		submitter = job.NewRedisSubmitter(redisClient, cfg.ResultStream, workerState.WorkerID(), logger)
	} else {
		submitter = job.NewHTTPSubmitter(httpClient, workerState, cfg.APIKey, logger)
	}

	fetcher := download.NewFetcher(httpClient, cfg.JobFilesDir, cfg.DownloadConcurrency, logger)

	promptHandler, err := handler.NewPromptHandler(handler.DefaultRules, fetcher, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}

	runner := job.NewRunner(logger)

	heartbeats := heartbeat.New(httpClient, workerState, cfg.APIKey, cfg.PingInterval(), logger)
	heartbeats.Start(ctx)
	defer heartbeats.Stop()

	if cfg.HealthPort > 0 {
		healthServer := worker.NewHealthServer(cfg.HealthPort, workerState, checks, logger)
		if cfg.RealtimeEnabled() {
			healthServer.EnableRealtime(worker.NewRealtime(worker.RealtimeConfig{
				EndpointID:     cfg.EndpointID,
				MaxConcurrency: cfg.RealtimeConcurrency,
				Runner:         runner,
				Handler:        promptHandler,
				Cleanup:        fetcher.Cleanup,
				Logger:         logger,
			}))
			logger.Info("realtime job api enabled", zap.String("endpoint_id", cfg.EndpointID))
		}
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer func() {
			if err := healthServer.Stop(); err != nil {
				logger.Error("failed to stop health server", zap.Error(err))
			}
		}()
	}

	w := worker.New(worker.Config{
		Source:    source,
		Runner:    runner,
		Handler:   promptHandler,
		Submitter: submitter,
		State:     workerState,
		IdleDelay: cfg.IdleDelay,
		MaxJobs:   opts.maxJobs,
		Cleanup:   fetcher.Cleanup,
		Logger:    logger,
	})

	err = w.Run(ctx)
	switch {
	case errors.Is(err, worker.ErrRefreshRequested):
		logger.Info("exiting so the worker can be refreshed")
		return nil
	case err != nil:
		return err
	}

	logger.Info("worker stopped gracefully")
	return nil
}

// loadConfig reads the environment with command line overrides applied
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	if opts.maxJobs < 0 {
		return nil, fmt.Errorf("--max-jobs must be non-negative")
	}

	var overrides []config.Override
	if cmd.Flags().Changed("log-level") {
		overrides = append(overrides, config.WithLogLevel(opts.logLevel))
	}
	if cmd.Flags().Changed("test-input") {
		overrides = append(overrides, config.WithTestInput(opts.testInput))
	}

	cfg, err := config.Load(overrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the logger
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		zapLevel = zapcore.DebugLevel
	case "WARN":
		zapLevel = zapcore.WarnLevel
	case "ERROR":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	if !cfg.Debug {
		zapLevel = zapcore.ErrorLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         cfg.LogFormat,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zc.Build()
}

// redisPinger adapts a redis client to worker.Pinger
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
