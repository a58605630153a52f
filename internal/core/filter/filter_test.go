package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// makeGroup builds a group whose accuracy is correct/total
func makeGroup(id string, correct, total int) *trajectory.Group {
	trajs := make([]*trajectory.Trajectory, 0, total)
	for i := 0; i < total; i++ {
		label := 0.0
		if i < correct {
			label = 1.0
		}
		trajs = append(trajs, trajectory.NewTrajectory(id, []int{1}, []int{2, 3}, label))
	}
	return trajectory.NewGroup(id, trajs)
}

func filterConfig(enabled bool, lower, upper float64) config.DataConfig {
	return config.DataConfig{
		NSamples:           4,
		TrainBatchSize:     8,
		FilterAccuracy:     enabled,
		AccuracyLowerBound: lower,
		AccuracyUpperBound: upper,
	}
}

func TestNew(t *testing.T) {
	t.Run("rejects empty interval", func(t *testing.T) {
		_, err := New(filterConfig(true, 0.8, 0.2))
		require.Error(t, err)
		assert.Equal(t, errors.CodeConfigFilterBounds, errors.GetCode(err))
	})

	t.Run("degenerate single-point interval is valid", func(t *testing.T) {
		f, err := New(filterConfig(true, 0.5, 0.5))
		require.NoError(t, err)

		admitted, _ := f.Admit(makeGroup("g", 2, 4))
		assert.True(t, admitted)
	})

	t.Run("disabled filter ignores bounds", func(t *testing.T) {
		f, err := New(filterConfig(false, 0.9, 0.1))
		require.NoError(t, err)
		assert.False(t, f.Enabled())
	})
}

func TestAdmit(t *testing.T) {
	f, err := New(filterConfig(true, 0.2, 0.8))
	require.NoError(t, err)

	cases := []struct {
		correct int
		total   int
		want    bool
		reason  RejectReason
	}{
		{0, 4, false, RejectTooHard},   // 0.0 below lower
		{1, 5, true, ""},               // exactly lower bound 0.2
		{2, 4, true, ""},               // 0.5 inside
		{4, 5, true, ""},               // exactly upper bound 0.8
		{19, 20, false, RejectTooEasy}, // 0.95 above upper
		{4, 4, false, RejectTooEasy},   // 1.0 above upper
	}

	for _, tc := range cases {
		name := fmt.Sprintf("%d of %d correct", tc.correct, tc.total)
		t.Run(name, func(t *testing.T) {
			ok, reason := f.Admit(makeGroup("g", tc.correct, tc.total))
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}

	t.Run("disabled filter admits everything", func(t *testing.T) {
		off, err := New(filterConfig(false, 0.2, 0.8))
		require.NoError(t, err)

		ok, _ := off.Admit(makeGroup("g", 4, 4))
		assert.True(t, ok)
		ok, _ = off.Admit(makeGroup("g", 0, 4))
		assert.True(t, ok)
	})
}

func TestPartition(t *testing.T) {
	f, err := New(filterConfig(true, 0.25, 0.75))
	require.NoError(t, err)

	groups := []*trajectory.Group{
		makeGroup("a", 0, 4), // rejected, too hard
		makeGroup("b", 2, 4), // admitted
		makeGroup("c", 4, 4), // rejected, too easy
		makeGroup("d", 1, 4), // admitted at the lower bound
	}

	admitted, rejected := f.Partition(groups)

	require.Len(t, admitted, 2)
	require.Len(t, rejected, 2)
	// input order preserved
	assert.Equal(t, "b", admitted[0].ID)
	assert.Equal(t, "d", admitted[1].ID)
	assert.Equal(t, "a", rejected[0].ID)
	assert.Equal(t, "c", rejected[1].ID)
}
