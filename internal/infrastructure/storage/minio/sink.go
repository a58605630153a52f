// Package minio persists training checkpoints to object storage. Model
// components register snapshotters; at save boundaries each registered
// component is streamed to one object under the run's step prefix.
package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// RewardModelComponent is the component name whose checkpointing depends on
// the update policy
const RewardModelComponent = "reward_model"

// Snapshotter streams one component's serialized state
type Snapshotter interface {
	Snapshot(ctx context.Context) (io.Reader, int64, error)
}

// SnapshotFunc adapts a function to the Snapshotter interface
type SnapshotFunc func(ctx context.Context) (io.Reader, int64, error)

func (f SnapshotFunc) Snapshot(ctx context.Context) (io.Reader, int64, error) {
	return f(ctx)
}

// ============================================================================
// Checkpoint Sink
// ============================================================================

// Sink writes component snapshots to a MinIO bucket
type Sink struct {
	client *minio.Client
	bucket string
	prefix string

	names      []string
	components map[string]Snapshotter

	logger    logging.Logger
	collector *metrics.MetricsCollector
}

// NewSink connects to the object store and ensures the bucket exists
func NewSink(cfg config.StorageConfig, runID string, logger logging.Logger, collector *metrics.MetricsCollector) (*Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to check checkpoint bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to create checkpoint bucket")
		}
	}

	return &Sink{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     runID,
		components: make(map[string]Snapshotter),
		logger:     logger,
		collector:  collector,
	}, nil
}

// Register adds a component in save order. Registering the same name twice
// replaces the snapshotter but keeps its position.
func (s *Sink) Register(name string, snapshotter Snapshotter) {
	if _, exists := s.components[name]; !exists {
		s.names = append(s.names, name)
	}
	s.components[name] = snapshotter
}

// Save writes every registered component for the step. The reward model
// component is skipped unless includeRewardModel is set; a frozen model is
// identical to its published weights.
func (s *Sink) Save(ctx context.Context, step int64, includeRewardModel bool) error {
	for _, name := range s.names {
		if name == RewardModelComponent && !includeRewardModel {
			continue
		}
		if err := s.saveComponent(ctx, step, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) saveComponent(ctx context.Context, step int64, name string) error {
	started := time.Now()

	reader, size, err := s.components[name].Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure,
			fmt.Sprintf("failed to snapshot %s", name))
	}

	key := fmt.Sprintf("%s/step-%08d/%s.ckpt", s.prefix, step, name)
	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure,
			fmt.Sprintf("failed to upload %s checkpoint", name))
	}

	s.logger.Info("component checkpoint written",
		logging.String("component", name),
		logging.String("key", key),
		logging.Int64("bytes", size))
	if s.collector != nil {
		s.collector.IncrementCounter("checkpoints_saved_total", map[string]string{"component": name})
		s.collector.Observe("checkpoint_duration_seconds", time.Since(started).Seconds(),
			map[string]string{"component": name})
	}
	return nil
}
