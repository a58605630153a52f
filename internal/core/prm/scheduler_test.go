package prm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/config"
)

// fakeClient records call order against the scheduler
type fakeClient struct {
	calls     []string
	updateErr error
	scoreErr  error
	lastOpts  UpdateOptions
}

func (f *fakeClient) Score(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	f.calls = append(f.calls, "score")
	if f.scoreErr != nil {
		return f.scoreErr
	}
	for _, t := range trajectories {
		t.PRMScores = make([]float64, t.ResponseLength())
	}
	return nil
}

func (f *fakeClient) Update(ctx context.Context, trajectories []*trajectory.Trajectory, opts UpdateOptions) (UpdateResult, error) {
	f.calls = append(f.calls, "update")
	f.lastOpts = opts
	if f.updateErr != nil {
		return UpdateResult{}, f.updateErr
	}
	return UpdateResult{Loss: 0.42, GradNorm: 1.5}, nil
}

func rmConfig(rmType, update string) config.RewardModelConfig {
	cfg := config.Default().RewardModel
	cfg.RMType = rmType
	cfg.PrimeModel.Update = update
	return cfg
}

func sampleTrajectories(n int) []*trajectory.Trajectory {
	out := make([]*trajectory.Trajectory, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, trajectory.NewTrajectory("g", []int{1}, []int{2, 3}, 1))
	}
	return out
}

func TestSchedulerDispatch(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNoopLogger()

	runStep := func(s *Scheduler, trajs []*trajectory.Trajectory) error {
		if err := s.BeforeScoring(ctx, trajs); err != nil {
			return err
		}
		if err := s.Score(ctx, trajs); err != nil {
			return err
		}
		return s.AfterScoring(ctx, trajs)
	}

	t.Run("before refreshes ahead of scoring", func(t *testing.T) {
		client := &fakeClient{}
		s := NewScheduler(rmConfig("prime", "before"), client, "run-1", logger, nil)

		require.NoError(t, runStep(s, sampleTrajectories(2)))
		assert.Equal(t, []string{"update", "score"}, client.calls)
		assert.True(t, s.UpdatesModel())
	})

	t.Run("after refreshes behind scoring", func(t *testing.T) {
		client := &fakeClient{}
		s := NewScheduler(rmConfig("prime", "after"), client, "run-1", logger, nil)

		require.NoError(t, runStep(s, sampleTrajectories(2)))
		assert.Equal(t, []string{"score", "update"}, client.calls)
	})

	t.Run("none keeps the model frozen", func(t *testing.T) {
		client := &fakeClient{}
		s := NewScheduler(rmConfig("prime", "none"), client, "run-1", logger, nil)

		require.NoError(t, runStep(s, sampleTrajectories(2)))
		assert.Equal(t, []string{"score"}, client.calls)
		assert.False(t, s.UpdatesModel())
	})

	t.Run("disabled model never touches the client", func(t *testing.T) {
		client := &fakeClient{}
		s := NewScheduler(rmConfig("disabled", "before"), client, "run-1", logger, nil)

		require.NoError(t, runStep(s, sampleTrajectories(2)))
		assert.Empty(t, client.calls)
		assert.False(t, s.Enabled())
	})

	t.Run("empty batch skips the refresh", func(t *testing.T) {
		client := &fakeClient{}
		s := NewScheduler(rmConfig("prime", "before"), client, "run-1", logger, nil)

		require.NoError(t, s.BeforeScoring(ctx, nil))
		assert.Empty(t, client.calls)
	})
}

func TestSchedulerOptimizerState(t *testing.T) {
	client := &fakeClient{}
	cfg := rmConfig("prime", "before")
	cfg.PrimeModel.BetaTrain = 0.05
	cfg.PrimeModel.Optim.LR = 1e-6
	cfg.PrimeModel.Optim.GradClip = 10.0
	cfg.PrimeModel.GradOffload = true

	s := NewScheduler(cfg, client, "run-1", logging.NewNoopLogger(), nil)
	require.NoError(t, s.BeforeScoring(context.Background(), sampleTrajectories(1)))

	assert.Equal(t, 0.05, client.lastOpts.BetaTrain)
	assert.Equal(t, 1e-6, client.lastOpts.LR)
	assert.Equal(t, 10.0, client.lastOpts.GradClip)
	assert.True(t, client.lastOpts.GradOffload)
	assert.False(t, client.lastOpts.ParamOffload)
}

func TestSchedulerErrors(t *testing.T) {
	t.Run("update failure surfaces to the step", func(t *testing.T) {
		client := &fakeClient{updateErr: fmt.Errorf("broadcast timeout")}
		s := NewScheduler(rmConfig("prime", "before"), client, "run-1", logging.NewNoopLogger(), nil)

		err := s.BeforeScoring(context.Background(), sampleTrajectories(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reward model refresh failed")
	})

	t.Run("scoring failure surfaces to the step", func(t *testing.T) {
		client := &fakeClient{scoreErr: fmt.Errorf("replica down")}
		s := NewScheduler(rmConfig("prime", "none"), client, "run-1", logging.NewNoopLogger(), nil)

		err := s.Score(context.Background(), sampleTrajectories(1))
		require.Error(t, err)
	})
}
