// Package config provides centralized configuration management for verl-prime.
// It defines configuration structures for the reward/advantage engine and its
// collaborators, and performs every fail-fast startup check: estimator names,
// filter bounds, parallel-degree arithmetic, and batch-size divisibility.
// Configuration is resolved once per run and treated as immutable afterwards.
package config

import (
	"time"

	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
	"github.com/ZefanW/verl-prime/pkg/validator"
)

// ============================================================================
// Main Configuration Structure
// ============================================================================

// Config represents the complete training run configuration
type Config struct {
	// Algorithm configuration (estimator choice and parameters)
	Algorithm AlgorithmConfig `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`

	// Reward model configuration
	RewardModel RewardModelConfig `mapstructure:"reward_model" yaml:"reward_model" json:"reward_model"`

	// Data configuration (group size, sample filter)
	Data DataConfig `mapstructure:"data" yaml:"data" json:"data"`

	// Actor / rollout / reference worker configuration
	ActorRolloutRef ActorRolloutRefConfig `mapstructure:"actor_rollout_ref" yaml:"actor_rollout_ref" json:"actor_rollout_ref"`

	// Critic configuration
	Critic CriticConfig `mapstructure:"critic" yaml:"critic" json:"critic"`

	// Trainer (step loop) configuration
	Trainer TrainerConfig `mapstructure:"trainer" yaml:"trainer" json:"trainer"`

	// Collaborator worker service endpoints
	Workers WorkersConfig `mapstructure:"workers" yaml:"workers" json:"workers"`

	// Server (status API) configuration
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Kafka trajectory intake configuration
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`

	// Redis overflow buffer configuration
	Redis RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`

	// MinIO checkpoint storage configuration
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Postgres experiment tracking configuration
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`
}

// ============================================================================
// Algorithm Configuration
// ============================================================================

// AlgorithmConfig defines the advantage estimation surface
type AlgorithmConfig struct {
	// Advantage estimator: gae or rloo
	AdvEstimator string `mapstructure:"adv_estimator" yaml:"adv_estimator" json:"adv_estimator"`

	// Estimator parameters
	AdvParams AdvParamsConfig `mapstructure:"adv_params" yaml:"adv_params" json:"adv_params"`
}

// AdvParamsConfig defines discounts and estimator constants
type AdvParamsConfig struct {
	// Discount applied to the verifier signal / value bootstrap
	VerifierGamma float64 `mapstructure:"verifier_gamma" yaml:"verifier_gamma" json:"verifier_gamma"`

	// Discount applied to the learned-reward contribution
	RewardModelGamma float64 `mapstructure:"reward_model_gamma" yaml:"reward_model_gamma" json:"reward_model_gamma"`

	// GAE lambda (bias-variance trade-off)
	Lam float64 `mapstructure:"lam" yaml:"lam" json:"lam"`

	// Whiten advantages after estimation (off by default; the raw
	// estimator output is what the optimizer sees)
	Whiten bool `mapstructure:"whiten" yaml:"whiten" json:"whiten"`
}

// Estimator returns the parsed estimator enum. Only valid after Validate.
func (a AlgorithmConfig) Estimator() types.AdvEstimator {
	return types.AdvEstimator(a.AdvEstimator)
}

// ============================================================================
// Reward Model Configuration
// ============================================================================

// RewardModelConfig defines the learned process reward model surface
type RewardModelConfig struct {
	// Reward model type: prime (blended) or disabled
	RMType string `mapstructure:"rm_type" yaml:"rm_type" json:"rm_type"`

	// Blend coefficient; 0 disables the learned-reward contribution
	RMCoef float64 `mapstructure:"rm_coef" yaml:"rm_coef" json:"rm_coef"`

	// Reward granularity: token or whole
	PrimeGranularity string `mapstructure:"prime_granularity" yaml:"prime_granularity" json:"prime_granularity"`

	// Learned model update configuration
	PrimeModel PrimeModelConfig `mapstructure:"prime_model" yaml:"prime_model" json:"prime_model"`
}

// PrimeModelConfig defines the reward model's own update step
type PrimeModelConfig struct {
	// Update policy: before, after, or none
	Update string `mapstructure:"update" yaml:"update" json:"update"`

	// Blending temperature for the model's own update loss
	BetaTrain float64 `mapstructure:"beta_train" yaml:"beta_train" json:"beta_train"`

	// Optimizer state for the reward model update, orthogonal to the
	// policy optimizer
	Optim OptimConfig `mapstructure:"optim" yaml:"optim" json:"optim"`

	// Memory residency flags, pass-through to the model workers
	ParamOffload     bool `mapstructure:"param_offload" yaml:"param_offload" json:"param_offload"`
	GradOffload      bool `mapstructure:"grad_offload" yaml:"grad_offload" json:"grad_offload"`
	OptimizerOffload bool `mapstructure:"optimizer_offload" yaml:"optimizer_offload" json:"optimizer_offload"`
}

// OptimConfig defines optimizer hyperparameters
type OptimConfig struct {
	// Learning rate
	LR float64 `mapstructure:"lr" yaml:"lr" json:"lr"`

	// Gradient clip norm
	GradClip float64 `mapstructure:"grad_clip" yaml:"grad_clip" json:"grad_clip"`
}

// Type returns the parsed reward model type enum. Only valid after Validate.
func (r RewardModelConfig) Type() types.RewardModelType {
	return types.RewardModelType(r.RMType)
}

// Granularity returns the parsed granularity enum. Only valid after Validate.
func (r RewardModelConfig) Granularity() types.Granularity {
	return types.Granularity(r.PrimeGranularity)
}

// UpdatePolicy returns the parsed update policy enum. Only valid after Validate.
func (r RewardModelConfig) UpdatePolicy() types.UpdatePolicy {
	return types.UpdatePolicy(r.PrimeModel.Update)
}

// ============================================================================
// Data Configuration
// ============================================================================

// DataConfig defines group sampling and the accuracy-band sample filter
type DataConfig struct {
	// Number of sampled responses per prompt (group size)
	NSamples int `mapstructure:"n_samples" yaml:"n_samples" json:"n_samples"`

	// Prompts per step; the step quota is TrainBatchSize * NSamples
	// trajectories
	TrainBatchSize int `mapstructure:"train_batch_size" yaml:"train_batch_size" json:"train_batch_size"`

	// Enable accuracy-band filtering of whole groups
	FilterAccuracy bool `mapstructure:"filter_accuracy" yaml:"filter_accuracy" json:"filter_accuracy"`

	// Inclusive lower bound on group accuracy
	AccuracyLowerBound float64 `mapstructure:"accuracy_lower_bound" yaml:"accuracy_lower_bound" json:"accuracy_lower_bound"`

	// Inclusive upper bound on group accuracy
	AccuracyUpperBound float64 `mapstructure:"accuracy_upper_bound" yaml:"accuracy_upper_bound" json:"accuracy_upper_bound"`

	// Maximum intake rounds per step before giving up on the quota
	MaxIntakeRounds int `mapstructure:"max_intake_rounds" yaml:"max_intake_rounds" json:"max_intake_rounds"`
}

// ============================================================================
// Worker Configuration
// ============================================================================

// ActorRolloutRefConfig defines actor, rollout, and reference worker knobs
// relevant to the batch assembler
type ActorRolloutRefConfig struct {
	Actor   ActorConfig   `mapstructure:"actor" yaml:"actor" json:"actor"`
	Rollout RolloutConfig `mapstructure:"rollout" yaml:"rollout" json:"rollout"`
}

// ActorConfig defines actor batching and sequence parallelism
type ActorConfig struct {
	// Ulysses sequence parallel degree
	UlyssesSequenceParallelSize int `mapstructure:"ulysses_sequence_parallel_size" yaml:"ulysses_sequence_parallel_size" json:"ulysses_sequence_parallel_size"`

	// PPO mini-batch size (trajectories per optimizer step)
	PPOMiniBatchSize int `mapstructure:"ppo_mini_batch_size" yaml:"ppo_mini_batch_size" json:"ppo_mini_batch_size"`

	// PPO micro-batch size (trajectories per forward/backward)
	PPOMicroBatchSize int `mapstructure:"ppo_micro_batch_size" yaml:"ppo_micro_batch_size" json:"ppo_micro_batch_size"`
}

// RolloutConfig defines rollout worker parallelism
type RolloutConfig struct {
	// Tensor model parallel degree
	TensorModelParallelSize int `mapstructure:"tensor_model_parallel_size" yaml:"tensor_model_parallel_size" json:"tensor_model_parallel_size"`
}

// CriticConfig defines the critic collaborator
type CriticConfig struct {
	// Enable the critic (required by the gae estimator)
	Enable bool `mapstructure:"enable" yaml:"enable" json:"enable"`

	// PPO micro-batch size for value computation
	PPOMicroBatchSize int `mapstructure:"ppo_micro_batch_size" yaml:"ppo_micro_batch_size" json:"ppo_micro_batch_size"`
}

// TrainerConfig defines the step loop
type TrainerConfig struct {
	// Project and experiment identification
	ProjectName    string `mapstructure:"project_name" yaml:"project_name" json:"project_name"`
	ExperimentName string `mapstructure:"experiment_name" yaml:"experiment_name" json:"experiment_name"`

	// Total training steps
	TotalSteps int `mapstructure:"total_steps" yaml:"total_steps" json:"total_steps"`

	// GPUs per node and node count
	NGPUsPerNode int `mapstructure:"n_gpus_per_node" yaml:"n_gpus_per_node" json:"n_gpus_per_node"`
	NNodes       int `mapstructure:"nnodes" yaml:"nnodes" json:"nnodes"`

	// Checkpoint frequency in steps; 0 disables checkpointing
	SaveFreq int `mapstructure:"save_freq" yaml:"save_freq" json:"save_freq"`

	// Scoring worker pool size; 0 means one worker per data-parallel rank
	ScoringWorkers int `mapstructure:"scoring_workers" yaml:"scoring_workers" json:"scoring_workers"`
}

// WorldSize returns the total device count
func (t TrainerConfig) WorldSize() int {
	return t.NGPUsPerNode * t.NNodes
}

// ============================================================================
// Collaborator Configuration
// ============================================================================

// ServerConfig defines the status/control HTTP API
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host" validate:"required"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	EnableCORS      bool          `mapstructure:"enable_cors" yaml:"enable_cors" json:"enable_cors"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// WorkersConfig defines the collaborator training services. The critic and
// reward model endpoints may be empty when the estimator or reward model
// does not need them.
type WorkersConfig struct {
	PolicyEndpoint      string        `mapstructure:"policy_endpoint" yaml:"policy_endpoint" json:"policy_endpoint" validate:"omitempty,url"`
	CriticEndpoint      string        `mapstructure:"critic_endpoint" yaml:"critic_endpoint" json:"critic_endpoint" validate:"omitempty,url"`
	RewardModelEndpoint string        `mapstructure:"reward_model_endpoint" yaml:"reward_model_endpoint" json:"reward_model_endpoint" validate:"omitempty,url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
}

// KafkaConfig defines the trajectory intake queue
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers" yaml:"brokers" json:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic         string        `mapstructure:"topic" yaml:"topic" json:"topic" validate:"required"`
	ConsumerGroup string        `mapstructure:"consumer_group" yaml:"consumer_group" json:"consumer_group" validate:"required"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Version       string        `mapstructure:"version" yaml:"version" json:"version"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout" json:"fetch_timeout"`
}

// RedisConfig defines the overflow trajectory buffer
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr" json:"addr" validate:"required,hostname_port"`
	Password string        `mapstructure:"password" yaml:"password" json:"password"`
	DB       int           `mapstructure:"db" yaml:"db" json:"db" validate:"gte=0"`
	KeyTTL   time.Duration `mapstructure:"key_ttl" yaml:"key_ttl" json:"key_ttl"`
}

// StorageConfig defines the MinIO checkpoint sink
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint" validate:"required"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"secret_key" validate:"required"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket" validate:"required"`
}

// DatabaseConfig defines the Postgres experiment tracking store
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	User     string `mapstructure:"user" yaml:"user" json:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname" json:"dbname" validate:"required"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode" json:"sslmode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

// ObservabilityConfig defines logging, metrics, and tracing
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// LoggingConfig defines log output
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level" json:"level"`
	Format   string `mapstructure:"format" yaml:"format" json:"format"`
	Output   string `mapstructure:"output" yaml:"output" json:"output"`
	FilePath string `mapstructure:"file_path" yaml:"file_path" json:"file_path"`
}

// MetricsConfig defines Prometheus exposition
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
}

// TracingConfig defines OpenTelemetry export
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint     string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" json:"sampling_rate"`
}

// ============================================================================
// Validation
// ============================================================================

// Validate performs every fail-fast startup check. A nil return means the
// configuration can never produce a mid-training configuration error.
func (c *Config) Validate() error {
	if err := c.validateAlgorithm(); err != nil {
		return err
	}
	if err := c.validateRewardModel(); err != nil {
		return err
	}
	if err := c.validateData(); err != nil {
		return err
	}
	if err := c.validateParallelism(); err != nil {
		return err
	}
	if err := c.validateTrainer(); err != nil {
		return err
	}
	if err := c.validateInfrastructure(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTrainer() error {
	if c.Trainer.TotalSteps < 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"trainer.total_steps must be >= 1, got %d", c.Trainer.TotalSteps)
	}
	if c.Trainer.SaveFreq < 0 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"trainer.save_freq must be >= 0, got %d", c.Trainer.SaveFreq)
	}
	return nil
}

// validateInfrastructure runs struct-tag validation over the collaborator
// sections. Optional sections are checked only when configured, so their
// required tags do not force every deployment to carry every backend.
func (c *Config) validateInfrastructure() error {
	if err := validator.Struct(c.Server); err != nil {
		return err
	}
	if err := validator.Struct(c.Workers); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) > 0 {
		if err := validator.Struct(c.Kafka); err != nil {
			return err
		}
	}
	if c.Redis.Addr != "" {
		if err := validator.Struct(c.Redis); err != nil {
			return err
		}
	}
	if c.Storage.Endpoint != "" {
		if err := validator.Struct(c.Storage); err != nil {
			return err
		}
	}
	if c.Database.Host != "" {
		if err := validator.Struct(c.Database); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAlgorithm() error {
	est, err := types.FromStringAdvEstimator(c.Algorithm.AdvEstimator)
	if err != nil {
		return errors.ConfigErrorf(errors.CodeConfigEstimator,
			"algorithm.adv_estimator must be one of [gae rloo], got %q", c.Algorithm.AdvEstimator)
	}

	if est.RequiresCritic() && !c.Critic.Enable {
		return errors.ConfigError(errors.CodeConfigCriticRequired,
			"algorithm.adv_estimator=gae requires critic.enable=true for value predictions")
	}

	p := c.Algorithm.AdvParams
	if p.VerifierGamma <= 0 || p.VerifierGamma > 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"algorithm.adv_params.verifier_gamma must be in (0,1], got %v", p.VerifierGamma)
	}
	if p.RewardModelGamma <= 0 || p.RewardModelGamma > 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"algorithm.adv_params.reward_model_gamma must be in (0,1], got %v", p.RewardModelGamma)
	}
	if p.Lam < 0 || p.Lam > 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"algorithm.adv_params.lam must be in [0,1], got %v", p.Lam)
	}
	return nil
}

func (c *Config) validateRewardModel() error {
	rt, err := types.FromStringRewardModelType(c.RewardModel.RMType)
	if err != nil {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"reward_model.rm_type must be one of [prime disabled], got %q", c.RewardModel.RMType)
	}

	if c.RewardModel.RMCoef < 0 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"reward_model.rm_coef must be >= 0, got %v", c.RewardModel.RMCoef)
	}

	if !rt.Enabled() {
		return nil
	}

	if _, err := types.FromStringGranularity(c.RewardModel.PrimeGranularity); err != nil {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"reward_model.prime_granularity must be one of [token whole], got %q", c.RewardModel.PrimeGranularity)
	}

	up, err := types.FromStringUpdatePolicy(c.RewardModel.PrimeModel.Update)
	if err != nil {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"reward_model.prime_model.update must be one of [before after none], got %q", c.RewardModel.PrimeModel.Update)
	}

	if up.Updates() {
		if c.RewardModel.PrimeModel.Optim.LR <= 0 {
			return errors.ConfigErrorf(errors.CodeConfigInvalid,
				"reward_model.prime_model.optim.lr must be > 0 when update=%s, got %v", up, c.RewardModel.PrimeModel.Optim.LR)
		}
		if c.RewardModel.PrimeModel.Optim.GradClip <= 0 {
			return errors.ConfigErrorf(errors.CodeConfigInvalid,
				"reward_model.prime_model.optim.grad_clip must be > 0 when update=%s, got %v", up, c.RewardModel.PrimeModel.Optim.GradClip)
		}
		if c.RewardModel.PrimeModel.BetaTrain <= 0 {
			return errors.ConfigErrorf(errors.CodeConfigInvalid,
				"reward_model.prime_model.beta_train must be > 0 when update=%s, got %v", up, c.RewardModel.PrimeModel.BetaTrain)
		}
	}
	return nil
}

func (c *Config) validateData() error {
	if c.Data.NSamples < 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"data.n_samples must be >= 1, got %d", c.Data.NSamples)
	}
	if c.Algorithm.Estimator() == types.AdvEstimatorRLOO && c.Data.NSamples < 2 {
		// leave-one-out is undefined for singleton groups; configuring it
		// run-wide would make every group degenerate
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"data.n_samples must be >= 2 under the rloo estimator, got %d", c.Data.NSamples)
	}
	if c.Data.TrainBatchSize < 1 {
		return errors.ConfigErrorf(errors.CodeConfigInvalid,
			"data.train_batch_size must be >= 1, got %d", c.Data.TrainBatchSize)
	}

	if c.Data.FilterAccuracy {
		lo, hi := c.Data.AccuracyLowerBound, c.Data.AccuracyUpperBound
		if lo < 0 || lo > 1 || hi < 0 || hi > 1 {
			return errors.ConfigErrorf(errors.CodeConfigFilterBounds,
				"accuracy bounds must lie in [0,1], got [%v,%v]", lo, hi)
		}
		if lo > hi {
			return errors.ConfigErrorf(errors.CodeConfigFilterBounds,
				"accuracy filter interval [%v,%v] is empty", lo, hi)
		}
	}
	return nil
}

func (c *Config) validateParallelism() error {
	tp := c.ActorRolloutRef.Rollout.TensorModelParallelSize
	sp := c.ActorRolloutRef.Actor.UlyssesSequenceParallelSize
	if tp < 1 || sp < 1 {
		return errors.ConfigErrorf(errors.CodeConfigParallelism,
			"parallel degrees must be >= 1, got tp=%d sp=%d", tp, sp)
	}

	gpus := c.Trainer.NGPUsPerNode
	if gpus < 1 || c.Trainer.NNodes < 1 {
		return errors.ConfigErrorf(errors.CodeConfigParallelism,
			"trainer.n_gpus_per_node and trainer.nnodes must be >= 1, got %d and %d", gpus, c.Trainer.NNodes)
	}
	if gpus%(tp*sp) != 0 {
		return errors.ConfigErrorf(errors.CodeConfigParallelism,
			"tensor_parallel(%d) * sequence_parallel(%d) must divide n_gpus_per_node(%d)", tp, sp, gpus)
	}

	mini := c.ActorRolloutRef.Actor.PPOMiniBatchSize
	micro := c.ActorRolloutRef.Actor.PPOMicroBatchSize
	if mini < 1 || micro < 1 {
		return errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"ppo_mini_batch_size and ppo_micro_batch_size must be >= 1, got %d and %d", mini, micro)
	}

	dp := c.Trainer.WorldSize() / (tp * sp)
	if mini%(micro*dp) != 0 {
		return errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"ppo_mini_batch_size(%d) must be a multiple of ppo_micro_batch_size(%d) * data_parallel(%d)", mini, micro, dp)
	}

	if c.Algorithm.Estimator() == types.AdvEstimatorRLOO && micro%c.Data.NSamples != 0 {
		// groups must never straddle micro-batches under leave-one-out
		return errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"ppo_micro_batch_size(%d) must be a multiple of data.n_samples(%d) under rloo", micro, c.Data.NSamples)
	}
	return nil
}

// DataParallelSize returns the data-parallel width implied by the
// parallel degrees and device count
func (c *Config) DataParallelSize() int {
	tp := c.ActorRolloutRef.Rollout.TensorModelParallelSize
	sp := c.ActorRolloutRef.Actor.UlyssesSequenceParallelSize
	if tp < 1 {
		tp = 1
	}
	if sp < 1 {
		sp = 1
	}
	return c.Trainer.WorldSize() / (tp * sp)
}

// Default returns a configuration with reasonable defaults. Callers still
// must run Validate after overriding.
func Default() *Config {
	return &Config{
		Algorithm: AlgorithmConfig{
			AdvEstimator: "rloo",
			AdvParams: AdvParamsConfig{
				VerifierGamma:    1.0,
				RewardModelGamma: 1.0,
				Lam:              1.0,
			},
		},
		RewardModel: RewardModelConfig{
			RMType:           "prime",
			RMCoef:           5.0,
			PrimeGranularity: "token",
			PrimeModel: PrimeModelConfig{
				Update:    "before",
				BetaTrain: 0.05,
				Optim: OptimConfig{
					LR:       1e-6,
					GradClip: 10.0,
				},
			},
		},
		Data: DataConfig{
			NSamples:           4,
			TrainBatchSize:     64,
			FilterAccuracy:     true,
			AccuracyLowerBound: 0.2,
			AccuracyUpperBound: 0.8,
			MaxIntakeRounds:    8,
		},
		ActorRolloutRef: ActorRolloutRefConfig{
			Actor: ActorConfig{
				UlyssesSequenceParallelSize: 1,
				PPOMiniBatchSize:            256,
				PPOMicroBatchSize:           8,
			},
			Rollout: RolloutConfig{
				TensorModelParallelSize: 1,
			},
		},
		Critic: CriticConfig{
			Enable:            false,
			PPOMicroBatchSize: 8,
		},
		Trainer: TrainerConfig{
			ProjectName:    "prime",
			ExperimentName: "default",
			TotalSteps:     1000,
			NGPUsPerNode:   8,
			NNodes:         1,
			SaveFreq:       0,
			ScoringWorkers: 0,
		},
		Workers: WorkersConfig{
			RequestTimeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			EnableCORS:      true,
			RateLimitPerSec: 50,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "verl_prime",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				SamplingRate: 1.0,
			},
		},
	}
}
