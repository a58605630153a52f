package advantage

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Leave-One-Out Estimation
// ============================================================================

// RLOOEstimator baselines each trajectory's scalar return against the mean
// return of its group siblings. It needs no critic.
type RLOOEstimator struct {
	logger logging.Logger
}

// Name returns the estimator identifier
func (e *RLOOEstimator) Name() types.AdvEstimator {
	return types.AdvEstimatorRLOO
}

// Compute assigns each trajectory the advantage
//
//	A = own return - mean(sibling returns)
//
// broadcast over its response tokens. Returns mirror the advantages. A
// group of fewer than two trajectories has no baseline; its advantages are
// zero and a warning is logged, but the step continues.
func (e *RLOOEstimator) Compute(g *trajectory.Group) error {
	k := len(g.Trajectories)
	if k < 2 {
		if e.logger != nil {
			e.logger.Warn("group too small for leave-one-out baseline, advantages zeroed",
				logging.String("group_id", g.ID),
				logging.Int("size", k))
		}
		for _, t := range g.Trajectories {
			n := len(t.Rewards)
			t.Advantages = make([]float64, n)
			t.Returns = make([]float64, n)
		}
		return nil
	}

	scalarReturns := make([]float64, k)
	var total float64
	for i, t := range g.Trajectories {
		scalarReturns[i] = t.ScalarReturn()
		total += scalarReturns[i]
	}

	for i, t := range g.Trajectories {
		baseline := (total - scalarReturns[i]) / float64(k-1)
		adv := scalarReturns[i] - baseline

		n := len(t.Rewards)
		advantages := make([]float64, n)
		returns := make([]float64, n)
		for j := 0; j < n; j++ {
			advantages[j] = adv
			returns[j] = adv
		}
		t.Advantages = advantages
		t.Returns = returns
	}
	return nil
}
