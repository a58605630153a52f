package config_test

import (
	"testing"

	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigValidate tests startup validation of the training configuration
func TestConfigValidate(t *testing.T) {
	t.Run("Default config is valid", func(t *testing.T) {
		cfg := config.Default()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Unknown estimator is a config error", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "grpo"

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigEstimator))
	})

	t.Run("GAE without critic is a config error", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = false
		// decouple from the rloo-only group packing constraint
		cfg.Data.NSamples = 1

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigCriticRequired))
	})

	t.Run("GAE with critic is valid", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = true

		assert.NoError(t, cfg.Validate())
		assert.Equal(t, types.AdvEstimatorGAE, cfg.Algorithm.Estimator())
	})

	t.Run("Gamma outside (0,1] is rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvParams.VerifierGamma = 0

		assert.Error(t, cfg.Validate())

		cfg = config.Default()
		cfg.Algorithm.AdvParams.RewardModelGamma = 1.5
		assert.Error(t, cfg.Validate())
	})
}

// TestFilterBoundsValidation tests the empty-interval startup check
func TestFilterBoundsValidation(t *testing.T) {
	t.Run("Empty interval fails at startup", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.FilterAccuracy = true
		cfg.Data.AccuracyLowerBound = 0.8
		cfg.Data.AccuracyUpperBound = 0.2

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigFilterBounds))
	})

	t.Run("Bounds outside [0,1] fail", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.FilterAccuracy = true
		cfg.Data.AccuracyUpperBound = 1.2

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigFilterBounds))
	})

	t.Run("Degenerate but non-empty interval is allowed", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.FilterAccuracy = true
		cfg.Data.AccuracyLowerBound = 0.5
		cfg.Data.AccuracyUpperBound = 0.5

		assert.NoError(t, cfg.Validate())
	})

	t.Run("Disabled filter ignores bounds", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.FilterAccuracy = false
		cfg.Data.AccuracyLowerBound = 0.9
		cfg.Data.AccuracyUpperBound = 0.1

		assert.NoError(t, cfg.Validate())
	})
}

// TestParallelismValidation tests degree/device-count consistency checks
func TestParallelismValidation(t *testing.T) {
	t.Run("tp*sp must divide gpus per node", func(t *testing.T) {
		cfg := config.Default()
		cfg.Trainer.NGPUsPerNode = 8
		cfg.ActorRolloutRef.Rollout.TensorModelParallelSize = 3

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigParallelism))
	})

	t.Run("Valid parallel layout", func(t *testing.T) {
		cfg := config.Default()
		cfg.Trainer.NGPUsPerNode = 8
		cfg.Trainer.NNodes = 2
		cfg.ActorRolloutRef.Rollout.TensorModelParallelSize = 2
		cfg.ActorRolloutRef.Actor.UlyssesSequenceParallelSize = 2
		cfg.ActorRolloutRef.Actor.PPOMiniBatchSize = 256
		cfg.ActorRolloutRef.Actor.PPOMicroBatchSize = 8

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 4, cfg.DataParallelSize())
	})

	t.Run("Mini batch must divide across dp replicas", func(t *testing.T) {
		cfg := config.Default()
		cfg.Trainer.NGPUsPerNode = 8
		cfg.Trainer.NNodes = 1
		cfg.ActorRolloutRef.Actor.PPOMiniBatchSize = 100
		cfg.ActorRolloutRef.Actor.PPOMicroBatchSize = 8

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigBatchSize))
	})

	t.Run("Micro batch must be group-aligned under rloo", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.NSamples = 3
		cfg.ActorRolloutRef.Actor.PPOMicroBatchSize = 8
		cfg.ActorRolloutRef.Actor.PPOMiniBatchSize = 64

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigBatchSize))
	})

	t.Run("Singleton groups rejected under rloo", func(t *testing.T) {
		cfg := config.Default()
		cfg.Data.NSamples = 1

		err := cfg.Validate()
		require.Error(t, err)
	})
}

// TestRewardModelValidation tests the learned reward model surface
func TestRewardModelValidation(t *testing.T) {
	t.Run("Disabled rm skips prime checks", func(t *testing.T) {
		cfg := config.Default()
		cfg.RewardModel.RMType = "disabled"
		cfg.RewardModel.PrimeGranularity = ""
		cfg.RewardModel.PrimeModel.Update = ""

		assert.NoError(t, cfg.Validate())
	})

	t.Run("Negative rm_coef rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.RewardModel.RMCoef = -0.5

		assert.Error(t, cfg.Validate())
	})

	t.Run("Update policy needs optimizer hyperparameters", func(t *testing.T) {
		cfg := config.Default()
		cfg.RewardModel.PrimeModel.Update = "after"
		cfg.RewardModel.PrimeModel.Optim.LR = 0

		assert.Error(t, cfg.Validate())
	})

	t.Run("Frozen model needs no optimizer", func(t *testing.T) {
		cfg := config.Default()
		cfg.RewardModel.PrimeModel.Update = "none"
		cfg.RewardModel.PrimeModel.Optim.LR = 0
		cfg.RewardModel.PrimeModel.Optim.GradClip = 0

		assert.NoError(t, cfg.Validate())
	})
}

// TestTrainerValidation tests run-length and checkpoint cadence checks
func TestTrainerValidation(t *testing.T) {
	t.Run("Zero total steps rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Trainer.TotalSteps = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigInvalid))
	})

	t.Run("Negative save freq rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Trainer.SaveFreq = -1

		assert.Error(t, cfg.Validate())
	})
}

// TestInfrastructureValidation tests struct-tag checks on the collaborator
// sections; optional backends are validated only when configured
func TestInfrastructureValidation(t *testing.T) {
	t.Run("Unconfigured optional sections are skipped", func(t *testing.T) {
		cfg := config.Default()
		cfg.Redis.Addr = ""
		cfg.Storage.Endpoint = ""
		cfg.Database.Host = ""

		assert.NoError(t, cfg.Validate())
	})

	t.Run("Configured redis addr must be host:port", func(t *testing.T) {
		cfg := config.Default()
		cfg.Redis.Addr = "not-an-address"

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeConfigInvalid))
	})

	t.Run("Configured storage needs credentials and a bucket", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Endpoint = "minio:9000"

		assert.Error(t, cfg.Validate())

		cfg.Storage.AccessKey = "prime"
		cfg.Storage.SecretKey = "secret"
		cfg.Storage.Bucket = "checkpoints"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Configured database needs user and dbname", func(t *testing.T) {
		cfg := config.Default()
		cfg.Database.Host = "postgres"
		cfg.Database.Port = 5432

		assert.Error(t, cfg.Validate())

		cfg.Database.User = "prime"
		cfg.Database.DBName = "runs"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Worker endpoints must be urls when set", func(t *testing.T) {
		cfg := config.Default()
		cfg.Workers.PolicyEndpoint = "not a url"

		assert.Error(t, cfg.Validate())

		cfg.Workers.PolicyEndpoint = "http://policy:8000"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Server port out of range rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Server.Port = 0

		assert.Error(t, cfg.Validate())
	})

	t.Run("Configured kafka brokers must be host:port", func(t *testing.T) {
		cfg := config.Default()
		cfg.Kafka.Brokers = []string{"broker-1"}
		cfg.Kafka.Topic = "trajectories"
		cfg.Kafka.ConsumerGroup = "trainer"

		assert.Error(t, cfg.Validate())

		cfg.Kafka.Brokers = []string{"broker-1:9092"}
		assert.NoError(t, cfg.Validate())
	})
}
