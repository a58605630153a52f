package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/core/batch"
	"github.com/ZefanW/verl-prime/internal/core/prm"
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
)

func workerConfig(url string) config.WorkersConfig {
	return config.WorkersConfig{
		PolicyEndpoint:      url,
		CriticEndpoint:      url,
		RewardModelEndpoint: url,
	}
}

func TestCriticValues(t *testing.T) {
	traj := trajectory.NewTrajectory("g", []int{1}, []int{2, 3}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/values", r.URL.Path)
		var req valuesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Samples, 1)

		json.NewEncoder(w).Encode(valuesResponse{
			Values: map[string][]float64{req.Samples[0].ID: {0.5, 0.7}},
		})
	}))
	defer server.Close()

	c := NewCriticClient(workerConfig(server.URL))
	require.NoError(t, c.Values(context.Background(), []*trajectory.Trajectory{traj}))
	assert.Equal(t, []float64{0.5, 0.7}, traj.Values)
}

func TestCriticMissingValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(valuesResponse{Values: map[string][]float64{}})
	}))
	defer server.Close()

	c := NewCriticClient(workerConfig(server.URL))
	traj := trajectory.NewTrajectory("g", []int{1}, []int{2}, 1)
	err := c.Values(context.Background(), []*trajectory.Trajectory{traj})
	require.Error(t, err)
}

func TestRewardModelScoreAndUpdate(t *testing.T) {
	traj := trajectory.NewTrajectory("g", []int{1}, []int{2, 3, 4}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/score":
			var req valuesRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(scoreResponse{
				Scores: map[string][]float64{req.Samples[0].ID: {0.1, 0.2, 0.3}},
			})
		case "/v1/update":
			var req updateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 0.05, req.Options.BetaTrain)
			assert.Equal(t, 1.0, req.Samples[0].VerifierLabel)
			json.NewEncoder(w).Encode(updateResponse{Loss: 0.25, GradNorm: 2.0})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewRewardModelClient(workerConfig(server.URL))

	require.NoError(t, c.Score(context.Background(), []*trajectory.Trajectory{traj}))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, traj.PRMScores)

	result, err := c.Update(context.Background(), []*trajectory.Trajectory{traj},
		prm.UpdateOptions{BetaTrain: 0.05})
	require.NoError(t, err)
	assert.Equal(t, 0.25, result.Loss)
	assert.Equal(t, 2.0, result.GradNorm)
}

func TestPolicyTrain(t *testing.T) {
	traj := trajectory.NewTrajectory("g", []int{1}, []int{2}, 1)
	traj.Advantages = []float64{1.5}
	traj.Returns = []float64{1.5}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/train", r.URL.Path)
		var req trainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(3), req.Step)
		require.Len(t, req.MicroBatches, 1)
		assert.Equal(t, []float64{1.5}, req.MicroBatches[0][0].Advantages)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewPolicyClient(workerConfig(server.URL))
	err := c.Train(context.Background(), 3, []batch.MicroBatch{
		{Index: 0, Trajectories: []*trajectory.Trajectory{traj}},
	})
	require.NoError(t, err)
}

func TestWorkerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cuda out of memory", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewPolicyClient(workerConfig(server.URL))
	err := c.Train(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
