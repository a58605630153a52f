// Package advantage implements the advantage estimators: generalized
// advantage estimation over critic values and leave-one-out baselines over
// grouped returns. The estimator is selected once at startup and reused for
// every step; there is no per-trajectory dispatch.
package advantage

import (
	"math"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Estimator Interface
// ============================================================================

// Estimator fills Advantages and Returns on every trajectory of a group
// from its blended reward series. Implementations are deterministic:
// identical input produces bit-identical output.
type Estimator interface {
	// Name returns the estimator identifier
	Name() types.AdvEstimator

	// Compute fills the advantage and return series in place
	Compute(g *trajectory.Group) error
}

// New selects the estimator from the run configuration. The choice is made
// exactly once; an unknown name or a gae selection without a critic was
// already rejected by config validation and is rejected again here.
func New(cfg *config.Config, logger logging.Logger) (Estimator, error) {
	switch cfg.Algorithm.Estimator() {
	case types.AdvEstimatorGAE:
		if !cfg.Critic.Enable {
			return nil, errors.ConfigError(errors.CodeConfigCriticRequired,
				"the gae estimator requires the critic to be enabled")
		}
		return &GAEEstimator{
			gamma:  cfg.Algorithm.AdvParams.VerifierGamma,
			lam:    cfg.Algorithm.AdvParams.Lam,
			logger: logger,
		}, nil
	case types.AdvEstimatorRLOO:
		return &RLOOEstimator{logger: logger}, nil
	default:
		return nil, errors.ConfigErrorf(errors.CodeConfigEstimator,
			"unknown advantage estimator %q", cfg.Algorithm.AdvEstimator)
	}
}

// ============================================================================
// Whitening
// ============================================================================

const whitenEpsilon = 1e-8

// Whiten normalizes advantages to zero mean and unit variance across every
// token of every trajectory. Optional; the raw estimator output is the
// default training signal.
func Whiten(trajectories []*trajectory.Trajectory) {
	var sum float64
	var count int
	for _, t := range trajectories {
		for _, a := range t.Advantages {
			sum += a
			count++
		}
	}
	if count == 0 {
		return
	}
	mean := sum / float64(count)

	var sqSum float64
	for _, t := range trajectories {
		for _, a := range t.Advantages {
			d := a - mean
			sqSum += d * d
		}
	}
	std := math.Sqrt(sqSum/float64(count) + whitenEpsilon)

	for _, t := range trajectories {
		for i := range t.Advantages {
			t.Advantages[i] = (t.Advantages[i] - mean) / std
		}
	}
}
