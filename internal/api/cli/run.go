package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	httpapi "github.com/ZefanW/verl-prime/internal/api/http"
	redisbuf "github.com/ZefanW/verl-prime/internal/infrastructure/buffer/redis"
	"github.com/ZefanW/verl-prime/internal/infrastructure/message/kafka"
	"github.com/ZefanW/verl-prime/internal/infrastructure/repository/postgres"
	miniosink "github.com/ZefanW/verl-prime/internal/infrastructure/storage/minio"
	"github.com/ZefanW/verl-prime/internal/infrastructure/workers"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/internal/observability/trace"
	"github.com/ZefanW/verl-prime/internal/trainer"
	"github.com/ZefanW/verl-prime/pkg/config"
)

func newRunCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a training run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if runID == "" {
				runID = uuid.New().String()
			}
			return runTraining(cmd.Context(), cfg, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: generated)")
	return cmd
}

// runTraining is the composition root: it wires every collaborator and
// blocks until the run finishes or a signal arrives
func runTraining(parent context.Context, cfg *config.Config, runID string) error {
	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(logging.String("run_id", runID))

	var collector *metrics.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		collector = metrics.NewMetricsCollector(metrics.CollectorConfig{
			Namespace:            cfg.Observability.Metrics.Namespace,
			EnableGoMetrics:      true,
			EnableProcessMetrics: true,
		})
	}

	tracer := trace.NewNoopTracer()
	if cfg.Observability.Tracing.Enabled {
		tracer, err = trace.NewTracer(trace.TracerConfig{
			ServiceName:    "verl-prime",
			ServiceVersion: version,
			Environment:    cfg.Trainer.ProjectName,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		})
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := kafka.NewGroupConsumer(cfg.Kafka, logger, collector)
	if err != nil {
		return err
	}
	defer source.Close()

	var buffer trainer.OverflowBuffer
	if cfg.Redis.Addr != "" {
		groupBuffer, err := redisbuf.NewGroupBuffer(cfg.Redis, runID, logger)
		if err != nil {
			return err
		}
		defer groupBuffer.Close()
		buffer = groupBuffer
	}

	var sink trainer.CheckpointSink
	if cfg.Trainer.SaveFreq > 0 && cfg.Storage.Endpoint != "" {
		s, err := miniosink.NewSink(cfg.Storage, runID, logger, collector)
		if err != nil {
			return err
		}
		registerCheckpointComponents(s, cfg)
		sink = s
	}

	var store trainer.RunStore
	var steps httpapi.StepLister
	if cfg.Database.Host != "" {
		repo, err := postgres.New(cfg.Database)
		if err != nil {
			return err
		}
		store = repo
		steps = repo
	}

	var critic trainer.CriticClient
	if cfg.Critic.Enable && cfg.Workers.CriticEndpoint != "" {
		critic = workers.NewCriticClient(cfg.Workers)
	}

	deps := trainer.Dependencies{
		Config:      cfg,
		RunID:       runID,
		Source:      source,
		Buffer:      buffer,
		Critic:      critic,
		Trainer:     workers.NewPolicyClient(cfg.Workers),
		Checkpoints: sink,
		Store:       store,
		Logger:      logger,
		Collector:   collector,
		Tracer:      tracer,
	}
	if cfg.RewardModel.Type().Enabled() && cfg.Workers.RewardModelEndpoint != "" {
		deps.RewardModel = workers.NewRewardModelClient(cfg.Workers)
	}

	driver, err := trainer.New(deps)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.Dependencies{
		Config:    cfg.Server,
		Driver:    driver,
		Steps:     steps,
		Logger:    logger,
		Collector: collector,
	})
	server.Start()
	defer server.Shutdown(context.Background())
	defer tracer.Shutdown(context.Background())

	logger.Info("starting training run",
		logging.String("estimator", cfg.Algorithm.AdvEstimator),
		logging.Int("total_steps", cfg.Trainer.TotalSteps),
		logging.Int("world_size", cfg.Trainer.WorldSize()))

	return driver.Run(ctx)
}

// registerCheckpointComponents wires the worker snapshot endpoints into the
// sink; each component streams its own serialized state
func registerCheckpointComponents(sink *miniosink.Sink, cfg *config.Config) {
	client := workers.NewSnapshotClient(cfg.Workers)
	sink.Register("actor",
		miniosink.SnapshotFunc(client.Snapshotter(cfg.Workers.PolicyEndpoint, "actor")))
	if cfg.Critic.Enable && cfg.Workers.CriticEndpoint != "" {
		sink.Register("critic",
			miniosink.SnapshotFunc(client.Snapshotter(cfg.Workers.CriticEndpoint, "critic")))
	}
	if cfg.RewardModel.Type().Enabled() && cfg.Workers.RewardModelEndpoint != "" {
		sink.Register(miniosink.RewardModelComponent,
			miniosink.SnapshotFunc(client.Snapshotter(cfg.Workers.RewardModelEndpoint, miniosink.RewardModelComponent)))
	}
}

func newLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	logCfg := logging.LogConfig{
		Level:    cfg.Level,
		Format:   cfg.Format,
		Output:   cfg.Output,
		FilePath: cfg.FilePath,
	}
	if cfg.Output == "file" {
		logCfg.MaxSize = 100
		logCfg.MaxBackups = 5
		logCfg.MaxAge = 14
		logCfg.Compress = true
		return logging.NewZapLoggerWithRotation(logCfg)
	}
	return logging.NewZapLogger(logCfg)
}
