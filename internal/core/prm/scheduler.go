// Package prm schedules the process reward model's own update relative to
// scoring within a step: refresh before scoring, after scoring, or never.
package prm

import (
	"context"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Reward Model Client
// ============================================================================

// UpdateOptions carries the reward model's own optimizer state, orthogonal
// to the policy optimizer
type UpdateOptions struct {
	LR        float64 `json:"lr"`
	GradClip  float64 `json:"grad_clip"`
	BetaTrain float64 `json:"beta_train"`

	// Memory residency flags, pass-through to the model workers
	ParamOffload     bool `json:"param_offload"`
	GradOffload      bool `json:"grad_offload"`
	OptimizerOffload bool `json:"optimizer_offload"`
}

// UpdateResult reports one reward model refresh
type UpdateResult struct {
	Loss     float64
	GradNorm float64
}

// Client is the narrow surface of the reward model service. Score fills
// PRMScores in place over the response tokens. Update refreshes the model
// from verifier-labeled trajectories and returns only after the refreshed
// weights are visible to every scoring replica.
type Client interface {
	Score(ctx context.Context, trajectories []*trajectory.Trajectory) error
	Update(ctx context.Context, trajectories []*trajectory.Trajectory, opts UpdateOptions) (UpdateResult, error)
}

// ============================================================================
// Update Scheduler
// ============================================================================

// Scheduler decides when within a step the reward model refreshes. The
// policy is fixed at startup; BeforeScoring and AfterScoring are the only
// two call sites and exactly one of them refreshes per step (or neither,
// when the model is frozen or disabled).
type Scheduler struct {
	client    Client
	enabled   bool
	policy    types.UpdatePolicy
	opts      UpdateOptions
	logger    logging.Logger
	collector *metrics.MetricsCollector
	runID     string
}

// NewScheduler creates a scheduler from the reward model configuration
func NewScheduler(cfg config.RewardModelConfig, client Client, runID string, logger logging.Logger, collector *metrics.MetricsCollector) *Scheduler {
	return &Scheduler{
		client:  client,
		enabled: cfg.Type().Enabled() && client != nil,
		policy:  cfg.UpdatePolicy(),
		opts: UpdateOptions{
			LR:               cfg.PrimeModel.Optim.LR,
			GradClip:         cfg.PrimeModel.Optim.GradClip,
			BetaTrain:        cfg.PrimeModel.BetaTrain,
			ParamOffload:     cfg.PrimeModel.ParamOffload,
			GradOffload:      cfg.PrimeModel.GradOffload,
			OptimizerOffload: cfg.PrimeModel.OptimizerOffload,
		},
		logger:    logger,
		collector: collector,
		runID:     runID,
	}
}

// Enabled reports whether the reward model participates at all
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// UpdatesModel reports whether any refresh happens during the run; used to
// decide whether the reward model needs checkpointing
func (s *Scheduler) UpdatesModel() bool {
	return s.enabled && s.policy.Updates()
}

// BeforeScoring refreshes the model if the policy is "before". Called once
// per step, before any trajectory is scored.
func (s *Scheduler) BeforeScoring(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	return s.maybeUpdate(ctx, types.UpdatePolicyBefore, trajectories)
}

// AfterScoring refreshes the model if the policy is "after". Called once
// per step, after advantages are computed.
func (s *Scheduler) AfterScoring(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	return s.maybeUpdate(ctx, types.UpdatePolicyAfter, trajectories)
}

// Score fills PRMScores for every trajectory. A no-op when the model is
// disabled; trajectories then keep their empty score series.
func (s *Scheduler) Score(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	if !s.enabled {
		return nil
	}
	if err := s.client.Score(ctx, trajectories); err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "reward model scoring failed")
	}
	return nil
}

// maybeUpdate is the single dispatch point on the update policy
func (s *Scheduler) maybeUpdate(ctx context.Context, phase types.UpdatePolicy, trajectories []*trajectory.Trajectory) error {
	if !s.enabled || s.policy != phase {
		return nil
	}
	if len(trajectories) == 0 {
		return nil
	}

	result, err := s.client.Update(ctx, trajectories, s.opts)
	if err != nil {
		return errors.Wrap(err, errors.CodeRewardModelUpdate, "reward model refresh failed")
	}

	s.logger.Info("reward model refreshed",
		logging.String("policy", s.policy.String()),
		logging.Int("trajectories", len(trajectories)),
		logging.Float64("loss", result.Loss),
		logging.Float64("grad_norm", result.GradNorm))

	if s.collector != nil {
		labels := map[string]string{"run_id": s.runID, "policy": s.policy.String()}
		s.collector.IncrementCounter("rm_updates_total", labels)
		s.collector.Observe("rm_update_loss", result.Loss, map[string]string{"run_id": s.runID})
		s.collector.Observe("rm_update_grad_norm", result.GradNorm, map[string]string{"run_id": s.runID})
	}
	return nil
}
