package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// layoutConfig builds a config with an explicit parallel layout
func layoutConfig(tp, sp, gpus, nodes, mini, micro int) *config.Config {
	cfg := config.Default()
	cfg.ActorRolloutRef.Rollout.TensorModelParallelSize = tp
	cfg.ActorRolloutRef.Actor.UlyssesSequenceParallelSize = sp
	cfg.Trainer.NGPUsPerNode = gpus
	cfg.Trainer.NNodes = nodes
	cfg.ActorRolloutRef.Actor.PPOMiniBatchSize = mini
	cfg.ActorRolloutRef.Actor.PPOMicroBatchSize = micro
	return cfg
}

func TestResolve(t *testing.T) {
	t.Run("derives dp and grad accumulation", func(t *testing.T) {
		cfg := layoutConfig(2, 1, 8, 2, 256, 16)
		cfg.Algorithm.AdvEstimator = "rloo"
		cfg.Data.NSamples = 4

		plan, err := Resolve(cfg)
		require.NoError(t, err)

		assert.Equal(t, 16, plan.WorldSize)
		assert.Equal(t, 8, plan.DPSize)
		assert.Equal(t, 2, plan.GradAccumSteps) // 256 / (16 * 8)
	})

	t.Run("tp times sp must divide gpus per node", func(t *testing.T) {
		cfg := layoutConfig(3, 1, 8, 1, 64, 8)
		_, err := Resolve(cfg)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigParallelism, errors.GetCode(err))
	})

	t.Run("mini must divide by micro times dp", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 100, 16)
		_, err := Resolve(cfg)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigBatchSize, errors.GetCode(err))
	})

	t.Run("micro must hold whole groups under rloo", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 240, 30)
		cfg.Algorithm.AdvEstimator = "rloo"
		cfg.Data.NSamples = 4

		_, err := Resolve(cfg)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigBatchSize, errors.GetCode(err))
	})

	t.Run("group divisibility not required under gae", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 240, 30)
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = true
		cfg.Data.NSamples = 4

		_, err := Resolve(cfg)
		assert.NoError(t, err)
	})
}

func groupOf(id string, size int) *trajectory.Group {
	trajs := make([]*trajectory.Trajectory, 0, size)
	for i := 0; i < size; i++ {
		trajs = append(trajs, trajectory.NewTrajectory(id, []int{1}, []int{2}, 0))
	}
	return trajectory.NewGroup(id, trajs)
}

func TestAssemble(t *testing.T) {
	t.Run("groups stay contiguous under rloo", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 64, 8)
		cfg.Algorithm.AdvEstimator = "rloo"
		cfg.Data.NSamples = 4

		a, err := NewAssembler(cfg)
		require.NoError(t, err)

		b := trajectory.NewBatch(1, []*trajectory.Group{
			groupOf("a", 4), groupOf("b", 4), groupOf("c", 4),
		})
		micros, err := a.Assemble(b)
		require.NoError(t, err)

		require.Len(t, micros, 2)
		assert.Len(t, micros[0].Trajectories, 8)
		assert.Len(t, micros[1].Trajectories, 4)
		// no group straddles a boundary
		assert.Equal(t, "a", micros[0].Trajectories[0].GroupID)
		assert.Equal(t, "b", micros[0].Trajectories[4].GroupID)
		assert.Equal(t, "c", micros[1].Trajectories[0].GroupID)
	})

	t.Run("odd-sized group closes the micro-batch early", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 64, 8)
		cfg.Algorithm.AdvEstimator = "rloo"
		cfg.Data.NSamples = 4

		a, err := NewAssembler(cfg)
		require.NoError(t, err)

		b := trajectory.NewBatch(1, []*trajectory.Group{
			groupOf("a", 4), groupOf("b", 3), groupOf("c", 4),
		})
		micros, err := a.Assemble(b)
		require.NoError(t, err)

		require.Len(t, micros, 2)
		assert.Len(t, micros[0].Trajectories, 7)
		assert.Len(t, micros[1].Trajectories, 4)
	})

	t.Run("oversized group is rejected", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 64, 8)
		cfg.Algorithm.AdvEstimator = "rloo"
		cfg.Data.NSamples = 4

		a, err := NewAssembler(cfg)
		require.NoError(t, err)

		_, err = a.Assemble(trajectory.NewBatch(1, []*trajectory.Group{groupOf("big", 9)}))
		require.Error(t, err)
	})

	t.Run("gae packs flat to capacity", func(t *testing.T) {
		cfg := layoutConfig(1, 1, 8, 1, 64, 8)
		cfg.Algorithm.AdvEstimator = "gae"
		cfg.Critic.Enable = true

		a, err := NewAssembler(cfg)
		require.NoError(t, err)

		b := trajectory.NewBatch(1, []*trajectory.Group{
			groupOf("a", 5), groupOf("b", 5), groupOf("c", 5),
		})
		micros, err := a.Assemble(b)
		require.NoError(t, err)

		require.Len(t, micros, 2)
		assert.Len(t, micros[0].Trajectories, 8)
		assert.Len(t, micros[1].Trajectories, 7)
	})
}
