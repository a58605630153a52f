// Package config - configuration loading. Supports YAML files, environment
// variables, and flat dot-namespaced overrides (the launch-script surface),
// with change watching restricted to observability settings: algorithm
// configuration is immutable for the lifetime of a run.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ============================================================================
// Configuration Loader
// ============================================================================

// Loader manages configuration loading and reloading
type Loader struct {
	viper *viper.Viper

	config *Config
	mu     sync.RWMutex

	configFile   string
	watchEnabled bool

	reloadCallbacks []ReloadCallback
}

// ReloadCallback is called when the observability section is reloaded
type ReloadCallback func(oldConfig, newConfig *Config) error

// LoaderOptions defines options for the configuration loader
type LoaderOptions struct {
	// Configuration file path
	ConfigFile string

	// Configuration file type (yaml, json, toml)
	ConfigType string

	// Enable watching for file changes (observability settings only)
	EnableWatch bool

	// Environment variable prefix
	EnvPrefix string

	// Flat dot-namespaced key overrides, highest precedence; this is the
	// surface the launch scripts drive (e.g. "algorithm.adv_estimator=rloo")
	Overrides map[string]string
}

// NewLoader creates a new configuration loader
func NewLoader(opts LoaderOptions) (*Loader, error) {
	v := viper.New()

	if opts.ConfigType == "" {
		opts.ConfigType = "yaml"
	}
	v.SetConfigType(opts.ConfigType)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "VERL_PRIME"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
		}
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	loader := &Loader{
		viper:        v,
		configFile:   opts.ConfigFile,
		watchEnabled: opts.EnableWatch,
	}

	cfg, err := loader.unmarshal()
	if err != nil {
		return nil, err
	}
	loader.config = cfg

	if opts.EnableWatch && opts.ConfigFile != "" {
		loader.watch()
	}

	return loader, nil
}

// Config returns the current configuration snapshot
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnReload registers a callback invoked after a successful reload
func (l *Loader) OnReload(cb ReloadCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reloadCallbacks = append(l.reloadCallbacks, cb)
}

// unmarshal decodes viper state into a validated Config
func (l *Loader) unmarshal() (*Config, error) {
	cfg := Default()
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watch re-reads the file on change. Only the observability section is
// applied; everything else stays pinned to the values resolved at startup.
func (l *Loader) watch() {
	l.viper.OnConfigChange(func(in fsnotify.Event) {
		newCfg, err := l.unmarshal()
		if err != nil {
			// an invalid edit never replaces a running config
			return
		}

		l.mu.Lock()
		oldCfg := l.config
		merged := *oldCfg
		merged.Observability = newCfg.Observability
		l.config = &merged
		callbacks := append([]ReloadCallback(nil), l.reloadCallbacks...)
		l.mu.Unlock()

		for _, cb := range callbacks {
			_ = cb(oldCfg, &merged)
		}
	})
	l.viper.WatchConfig()
}

// setDefaults seeds viper with the Default() values so partial files and
// env-only runs resolve completely
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("algorithm.adv_estimator", def.Algorithm.AdvEstimator)
	v.SetDefault("algorithm.adv_params.verifier_gamma", def.Algorithm.AdvParams.VerifierGamma)
	v.SetDefault("algorithm.adv_params.reward_model_gamma", def.Algorithm.AdvParams.RewardModelGamma)
	v.SetDefault("algorithm.adv_params.lam", def.Algorithm.AdvParams.Lam)
	v.SetDefault("algorithm.adv_params.whiten", def.Algorithm.AdvParams.Whiten)

	v.SetDefault("reward_model.rm_type", def.RewardModel.RMType)
	v.SetDefault("reward_model.rm_coef", def.RewardModel.RMCoef)
	v.SetDefault("reward_model.prime_granularity", def.RewardModel.PrimeGranularity)
	v.SetDefault("reward_model.prime_model.update", def.RewardModel.PrimeModel.Update)
	v.SetDefault("reward_model.prime_model.beta_train", def.RewardModel.PrimeModel.BetaTrain)
	v.SetDefault("reward_model.prime_model.optim.lr", def.RewardModel.PrimeModel.Optim.LR)
	v.SetDefault("reward_model.prime_model.optim.grad_clip", def.RewardModel.PrimeModel.Optim.GradClip)
	v.SetDefault("reward_model.prime_model.param_offload", def.RewardModel.PrimeModel.ParamOffload)
	v.SetDefault("reward_model.prime_model.grad_offload", def.RewardModel.PrimeModel.GradOffload)
	v.SetDefault("reward_model.prime_model.optimizer_offload", def.RewardModel.PrimeModel.OptimizerOffload)

	v.SetDefault("data.n_samples", def.Data.NSamples)
	v.SetDefault("data.train_batch_size", def.Data.TrainBatchSize)
	v.SetDefault("data.filter_accuracy", def.Data.FilterAccuracy)
	v.SetDefault("data.accuracy_lower_bound", def.Data.AccuracyLowerBound)
	v.SetDefault("data.accuracy_upper_bound", def.Data.AccuracyUpperBound)
	v.SetDefault("data.max_intake_rounds", def.Data.MaxIntakeRounds)

	v.SetDefault("actor_rollout_ref.actor.ulysses_sequence_parallel_size", def.ActorRolloutRef.Actor.UlyssesSequenceParallelSize)
	v.SetDefault("actor_rollout_ref.actor.ppo_mini_batch_size", def.ActorRolloutRef.Actor.PPOMiniBatchSize)
	v.SetDefault("actor_rollout_ref.actor.ppo_micro_batch_size", def.ActorRolloutRef.Actor.PPOMicroBatchSize)
	v.SetDefault("actor_rollout_ref.rollout.tensor_model_parallel_size", def.ActorRolloutRef.Rollout.TensorModelParallelSize)

	v.SetDefault("critic.enable", def.Critic.Enable)
	v.SetDefault("critic.ppo_micro_batch_size", def.Critic.PPOMicroBatchSize)

	v.SetDefault("trainer.project_name", def.Trainer.ProjectName)
	v.SetDefault("trainer.experiment_name", def.Trainer.ExperimentName)
	v.SetDefault("trainer.total_steps", def.Trainer.TotalSteps)
	v.SetDefault("trainer.n_gpus_per_node", def.Trainer.NGPUsPerNode)
	v.SetDefault("trainer.nnodes", def.Trainer.NNodes)
	v.SetDefault("trainer.save_freq", def.Trainer.SaveFreq)
	v.SetDefault("trainer.scoring_workers", def.Trainer.ScoringWorkers)

	v.SetDefault("workers.request_timeout", def.Workers.RequestTimeout)

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.enable_cors", def.Server.EnableCORS)
	v.SetDefault("server.rate_limit_per_sec", def.Server.RateLimitPerSec)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)

	v.SetDefault("observability.logging.level", def.Observability.Logging.Level)
	v.SetDefault("observability.logging.format", def.Observability.Logging.Format)
	v.SetDefault("observability.logging.output", def.Observability.Logging.Output)
	v.SetDefault("observability.metrics.enabled", def.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.namespace", def.Observability.Metrics.Namespace)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)
}
