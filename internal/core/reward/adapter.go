// Package reward normalizes heterogeneous reward sources into per-token
// series over the response and blends them into the single reward sequence
// the advantage estimators consume.
package reward

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Source Adapters
// ============================================================================

// VerifierSeries expands the scalar verifier label into a sparse per-token
// series: the label sits on the final response token, every earlier token
// is zero
func VerifierSeries(t *trajectory.Trajectory) []float64 {
	series := make([]float64, t.ResponseLength())
	if len(series) > 0 {
		series[len(series)-1] = t.VerifierLabel
	}
	return series
}

// PRMSeries normalizes process-reward-model output for one trajectory.
//
// Under token granularity the per-token scores are returned unmodified; a
// score count that does not match the response length is a data error and
// the caller drops the trajectory. Under whole granularity the scores are
// collapsed into a single sequence-level scalar on the final token.
func PRMSeries(t *trajectory.Trajectory, granularity types.Granularity) ([]float64, error) {
	n := t.ResponseLength()

	switch granularity {
	case types.GranularityToken:
		if len(t.PRMScores) != n {
			return nil, errors.DataErrorf(errors.CodeRewardLengthMismatch,
				"trajectory %s: reward model emitted %d scores for %d response tokens",
				t.ID, len(t.PRMScores), n)
		}
		series := make([]float64, n)
		copy(series, t.PRMScores)
		return series, nil

	case types.GranularityWhole:
		var whole float64
		for _, s := range t.PRMScores {
			whole += s
		}
		series := make([]float64, n)
		if n > 0 {
			series[n-1] = whole
		}
		return series, nil

	default:
		return nil, errors.ConfigErrorf(errors.CodeConfigInvalid,
			"unknown reward granularity %q", granularity)
	}
}
