package reward

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Reward Blender
// ============================================================================

// Blender combines the verifier series with the process-reward-model series
// into one per-token reward sequence. It is configured once per run and is
// deterministic: no I/O, no randomness, identical input gives identical
// output.
type Blender struct {
	rmCoef      float64
	gamma       float64
	granularity types.Granularity
}

// NewBlender creates a blender.
// rmCoef scales the reward-model contribution; gamma is the reward-model
// discount applied from the final token backwards.
func NewBlender(rmCoef, gamma float64, granularity types.Granularity) *Blender {
	return &Blender{
		rmCoef:      rmCoef,
		gamma:       gamma,
		granularity: granularity,
	}
}

// Blend produces the blended reward series for one trajectory.
//
// With rmCoef == 0 the result is the verifier series exactly, untouched by
// any floating-point combination with the reward-model path. Otherwise:
//
//	token: blended[t] = verifier[t] + rmCoef * gamma^(T-1-t) * prm[t]
//	whole: blended[T-1] = verifier label + rmCoef * whole-sequence score
func (b *Blender) Blend(t *trajectory.Trajectory) ([]float64, error) {
	verifier := VerifierSeries(t)
	if b.rmCoef == 0 {
		return verifier, nil
	}

	prm, err := PRMSeries(t, b.granularity)
	if err != nil {
		return nil, err
	}

	n := len(verifier)
	blended := make([]float64, n)
	switch b.granularity {
	case types.GranularityWhole:
		copy(blended, verifier)
		if n > 0 {
			blended[n-1] += b.rmCoef * prm[n-1]
		}
	default:
		// Discount decays from the final token backwards so late process
		// rewards dominate early ones.
		decay := 1.0
		for i := n - 1; i >= 0; i-- {
			blended[i] = verifier[i] + b.rmCoef*decay*prm[i]
			decay *= b.gamma
		}
	}
	return blended, nil
}
