package advantage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

func rewardTrajectory(groupID string, rewards []float64) *trajectory.Trajectory {
	response := make([]int, len(rewards))
	for i := range response {
		response[i] = 10 + i
	}
	t := trajectory.NewTrajectory(groupID, []int{1}, response, 0)
	t.Rewards = rewards
	return t
}

func TestNew(t *testing.T) {
	logger := logging.NewNoopLogger()

	t.Run("selects rloo", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "rloo"

		est, err := New(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, types.AdvEstimatorRLOO, est.Name())
	})

	t.Run("selects gae when the critic is enabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = true

		est, err := New(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, types.AdvEstimatorGAE, est.Name())
	})

	t.Run("gae without critic is a configuration error", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = false

		_, err := New(cfg, logger)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigCriticRequired, errors.GetCode(err))
	})

	t.Run("unknown estimator is a configuration error", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm.AdvEstimator = "grpo"

		_, err := New(cfg, logger)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigEstimator, errors.GetCode(err))
	})
}

func TestRLOOCompute(t *testing.T) {
	est := &RLOOEstimator{logger: logging.NewNoopLogger()}

	t.Run("leave-one-out baseline", func(t *testing.T) {
		// scalar returns 3, 1, 2, 0
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{
			rewardTrajectory("g", []float64{1, 1, 1}),
			rewardTrajectory("g", []float64{0, 1}),
			rewardTrajectory("g", []float64{2}),
			rewardTrajectory("g", []float64{0, 0}),
		})

		require.NoError(t, est.Compute(g))

		want := []float64{2.0, -2.0 / 3.0, 2.0 / 3.0, -2.0}
		var groupMean float64
		for i, traj := range g.Trajectories {
			require.NotEmpty(t, traj.Advantages)
			for _, a := range traj.Advantages {
				assert.InDelta(t, want[i], a, 1e-12)
			}
			groupMean += traj.Advantages[0]
		}
		// leave-one-out advantages cancel within the group
		assert.InDelta(t, 0, groupMean, 1e-12)
	})

	t.Run("advantage broadcasts over the whole response", func(t *testing.T) {
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{
			rewardTrajectory("g", []float64{0, 0, 0, 1}),
			rewardTrajectory("g", []float64{0, 0}),
		})
		require.NoError(t, est.Compute(g))

		first := g.Trajectories[0]
		require.Len(t, first.Advantages, 4)
		for _, a := range first.Advantages {
			assert.InDelta(t, 1.0, a, 1e-12)
		}
		assert.Equal(t, first.Advantages, first.Returns)
	})

	t.Run("singleton group gets zero advantages", func(t *testing.T) {
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{
			rewardTrajectory("g", []float64{5, 5}),
		})
		require.NoError(t, est.Compute(g))
		assert.Equal(t, []float64{0, 0}, g.Trajectories[0].Advantages)
	})

	t.Run("deterministic across repeated runs", func(t *testing.T) {
		build := func() *trajectory.Group {
			return trajectory.NewGroup("g", []*trajectory.Trajectory{
				rewardTrajectory("g", []float64{0.123456789, 0.987654321}),
				rewardTrajectory("g", []float64{0.555555555}),
				rewardTrajectory("g", []float64{0.1, 0.2, 0.3}),
			})
		}
		g1, g2 := build(), build()
		require.NoError(t, est.Compute(g1))
		require.NoError(t, est.Compute(g2))

		for i := range g1.Trajectories {
			a1, a2 := g1.Trajectories[i].Advantages, g2.Trajectories[i].Advantages
			require.Equal(t, len(a1), len(a2))
			for j := range a1 {
				assert.Equal(t, math.Float64bits(a1[j]), math.Float64bits(a2[j]))
			}
		}
	})
}

func TestGAECompute(t *testing.T) {
	t.Run("backward recursion", func(t *testing.T) {
		est := &GAEEstimator{gamma: 0.5, lam: 0.5}
		traj := rewardTrajectory("g", []float64{1, 1})
		traj.Values = []float64{1, 1}
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{traj})

		require.NoError(t, est.Compute(g))

		// delta[1] = 1 - 1 = 0, A[1] = 0
		// delta[0] = 1 + 0.5*1 - 1 = 0.5, A[0] = 0.5
		assert.InDelta(t, 0.5, traj.Advantages[0], 1e-12)
		assert.InDelta(t, 0.0, traj.Advantages[1], 1e-12)
		assert.InDelta(t, 1.5, traj.Returns[0], 1e-12)
		assert.InDelta(t, 1.0, traj.Returns[1], 1e-12)
	})

	t.Run("lambda zero reduces to one-step TD", func(t *testing.T) {
		est := &GAEEstimator{gamma: 1.0, lam: 0.0}
		traj := rewardTrajectory("g", []float64{0, 0, 1})
		traj.Values = []float64{0.5, 0.2, 0.3}
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{traj})

		require.NoError(t, est.Compute(g))

		assert.InDelta(t, -0.3, traj.Advantages[0], 1e-12)
		assert.InDelta(t, 0.1, traj.Advantages[1], 1e-12)
		// terminal advantage is reward minus value under the zero bootstrap
		assert.InDelta(t, 0.7, traj.Advantages[2], 1e-12)
	})

	t.Run("missing values is a data error", func(t *testing.T) {
		est := &GAEEstimator{gamma: 1.0, lam: 1.0}
		traj := rewardTrajectory("g", []float64{1, 1, 1})
		traj.Values = []float64{0.5}
		g := trajectory.NewGroup("g", []*trajectory.Trajectory{traj})

		err := est.Compute(g)
		require.Error(t, err)
		assert.Equal(t, errors.CodeMissingValues, errors.GetCode(err))
		assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	})
}

func TestWhiten(t *testing.T) {
	t.Run("normalizes to zero mean unit variance", func(t *testing.T) {
		trajs := []*trajectory.Trajectory{
			rewardTrajectory("g", []float64{0, 0}),
			rewardTrajectory("g", []float64{0, 0}),
		}
		trajs[0].Advantages = []float64{2, 4}
		trajs[1].Advantages = []float64{6, 8}

		Whiten(trajs)

		var sum, sqSum float64
		var n int
		for _, tr := range trajs {
			for _, a := range tr.Advantages {
				sum += a
				n++
			}
		}
		mean := sum / float64(n)
		for _, tr := range trajs {
			for _, a := range tr.Advantages {
				sqSum += (a - mean) * (a - mean)
			}
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, math.Sqrt(sqSum/float64(n)), 1e-6)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() { Whiten(nil) })
	})
}
