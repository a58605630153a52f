package advantage

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Generalized Advantage Estimation
// ============================================================================

// GAEEstimator computes advantages by the backward GAE recursion over the
// blended reward series and the critic's value estimates
type GAEEstimator struct {
	gamma  float64
	lam    float64
	logger logging.Logger
}

// Name returns the estimator identifier
func (e *GAEEstimator) Name() types.AdvEstimator {
	return types.AdvEstimatorGAE
}

// Compute runs the recursion for each trajectory of the group:
//
//	delta[t] = r[t] + gamma*V[t+1] - V[t]
//	A[t]     = delta[t] + gamma*lam*A[t+1]
//
// with V and A bootstrapped to zero past the final token. Returns are
// A[t] + V[t]. A trajectory without a full value series is a data error.
func (e *GAEEstimator) Compute(g *trajectory.Group) error {
	for _, t := range g.Trajectories {
		n := len(t.Rewards)
		if len(t.Values) != n {
			return errors.DataErrorf(errors.CodeMissingValues,
				"trajectory %s: %d critic values for %d rewards", t.ID, len(t.Values), n)
		}

		advantages := make([]float64, n)
		returns := make([]float64, n)

		var lastGAE float64
		for i := n - 1; i >= 0; i-- {
			var nextValue float64
			if i < n-1 {
				nextValue = t.Values[i+1]
			}
			delta := t.Rewards[i] + e.gamma*nextValue - t.Values[i]
			lastGAE = delta + e.gamma*e.lam*lastGAE
			advantages[i] = lastGAE
			returns[i] = lastGAE + t.Values[i]
		}

		t.Advantages = advantages
		t.Returns = returns
	}
	return nil
}
