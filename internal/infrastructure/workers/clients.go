// Package workers holds the HTTP clients for the collaborator training
// services: the policy trainer, the critic, and the process reward model.
// Model internals stay on the other side of these endpoints; this side only
// moves token series back and forth.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZefanW/verl-prime/internal/core/batch"
	"github.com/ZefanW/verl-prime/internal/core/prm"
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// client is the shared request plumbing
type client struct {
	base string
	http *http.Client
}

func newClient(endpoint string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &client{
		base: endpoint,
		http: &http.Client{Timeout: timeout},
	}
}

// post sends a JSON body and decodes a JSON response into out (out may be nil)
func (c *client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "worker request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.InfrastructureError(
			fmt.Sprintf("worker returned %d on %s: %s", resp.StatusCode, path, string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "failed to decode worker response")
	}
	return nil
}

// ============================================================================
// Policy Trainer Client
// ============================================================================

// PolicyClient hands finished micro-batches to the policy training service
type PolicyClient struct {
	*client
}

// NewPolicyClient creates a policy trainer client
func NewPolicyClient(cfg config.WorkersConfig) *PolicyClient {
	return &PolicyClient{newClient(cfg.PolicyEndpoint, cfg.RequestTimeout)}
}

type trainSample struct {
	ID             string    `json:"id"`
	GroupID        string    `json:"group_id"`
	PromptTokens   []int     `json:"prompt_tokens"`
	ResponseTokens []int     `json:"response_tokens"`
	OldLogProbs    []float64 `json:"old_log_probs,omitempty"`
	RefLogProbs    []float64 `json:"ref_log_probs,omitempty"`
	Advantages     []float64 `json:"advantages"`
	Returns        []float64 `json:"returns"`
}

type trainRequest struct {
	Step         int64           `json:"step"`
	MicroBatches [][]trainSample `json:"micro_batches"`
}

// Train posts the step's micro-batches and blocks until the optimizer step
// is confirmed
func (c *PolicyClient) Train(ctx context.Context, step int64, microBatches []batch.MicroBatch) error {
	req := trainRequest{Step: step, MicroBatches: make([][]trainSample, len(microBatches))}
	for i, mb := range microBatches {
		samples := make([]trainSample, len(mb.Trajectories))
		for j, t := range mb.Trajectories {
			samples[j] = trainSample{
				ID:             t.ID,
				GroupID:        t.GroupID,
				PromptTokens:   t.PromptTokens,
				ResponseTokens: t.ResponseTokens,
				OldLogProbs:    t.OldLogProbs,
				RefLogProbs:    t.RefLogProbs,
				Advantages:     t.Advantages,
				Returns:        t.Returns,
			}
		}
		req.MicroBatches[i] = samples
	}
	return c.post(ctx, "/v1/train", req, nil)
}

// ============================================================================
// Critic Client
// ============================================================================

// CriticClient fetches per-token value estimates
type CriticClient struct {
	*client
}

// NewCriticClient creates a critic client
func NewCriticClient(cfg config.WorkersConfig) *CriticClient {
	return &CriticClient{newClient(cfg.CriticEndpoint, cfg.RequestTimeout)}
}

type valuesRequest struct {
	Samples []tokenSample `json:"samples"`
}

type tokenSample struct {
	ID             string `json:"id"`
	PromptTokens   []int  `json:"prompt_tokens"`
	ResponseTokens []int  `json:"response_tokens"`
}

type valuesResponse struct {
	Values map[string][]float64 `json:"values"`
}

// Values fills each trajectory's value series in place
func (c *CriticClient) Values(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	req := valuesRequest{Samples: make([]tokenSample, len(trajectories))}
	for i, t := range trajectories {
		req.Samples[i] = tokenSample{ID: t.ID, PromptTokens: t.PromptTokens, ResponseTokens: t.ResponseTokens}
	}
	var resp valuesResponse
	if err := c.post(ctx, "/v1/values", req, &resp); err != nil {
		return err
	}
	for _, t := range trajectories {
		values, ok := resp.Values[t.ID]
		if !ok {
			return errors.InfrastructureError("critic returned no values for trajectory " + t.ID)
		}
		t.Values = values
	}
	return nil
}

// ============================================================================
// Reward Model Client
// ============================================================================

// RewardModelClient scores responses and applies the model's own update
type RewardModelClient struct {
	*client
}

// NewRewardModelClient creates a reward model client
func NewRewardModelClient(cfg config.WorkersConfig) *RewardModelClient {
	return &RewardModelClient{newClient(cfg.RewardModelEndpoint, cfg.RequestTimeout)}
}

type scoreResponse struct {
	Scores map[string][]float64 `json:"scores"`
}

// Score fills each trajectory's PRM score series in place
func (c *RewardModelClient) Score(ctx context.Context, trajectories []*trajectory.Trajectory) error {
	req := valuesRequest{Samples: make([]tokenSample, len(trajectories))}
	for i, t := range trajectories {
		req.Samples[i] = tokenSample{ID: t.ID, PromptTokens: t.PromptTokens, ResponseTokens: t.ResponseTokens}
	}
	var resp scoreResponse
	if err := c.post(ctx, "/v1/score", req, &resp); err != nil {
		return err
	}
	for _, t := range trajectories {
		t.PRMScores = resp.Scores[t.ID]
	}
	return nil
}

type updateSample struct {
	tokenSample
	VerifierLabel float64   `json:"verifier_label"`
	OldLogProbs   []float64 `json:"old_log_probs,omitempty"`
	RefLogProbs   []float64 `json:"ref_log_probs,omitempty"`
}

type updateRequest struct {
	Samples []updateSample    `json:"samples"`
	Options prm.UpdateOptions `json:"options"`
}

type updateResponse struct {
	Loss     float64 `json:"loss"`
	GradNorm float64 `json:"grad_norm"`
}

// Update refreshes the reward model from verifier-labeled samples. The
// service responds only after the new weights are broadcast to its scoring
// replicas; returning from here is the step's ordering barrier.
func (c *RewardModelClient) Update(ctx context.Context, trajectories []*trajectory.Trajectory, opts prm.UpdateOptions) (prm.UpdateResult, error) {
	req := updateRequest{Samples: make([]updateSample, len(trajectories)), Options: opts}
	for i, t := range trajectories {
		req.Samples[i] = updateSample{
			tokenSample:   tokenSample{ID: t.ID, PromptTokens: t.PromptTokens, ResponseTokens: t.ResponseTokens},
			VerifierLabel: t.VerifierLabel,
			OldLogProbs:   t.OldLogProbs,
			RefLogProbs:   t.RefLogProbs,
		}
	}
	var resp updateResponse
	if err := c.post(ctx, "/v1/update", req, &resp); err != nil {
		return prm.UpdateResult{}, err
	}
	return prm.UpdateResult{Loss: resp.Loss, GradNorm: resp.GradNorm}, nil
}

// ============================================================================
// Snapshot Client
// ============================================================================

// SnapshotClient pulls serialized component state from a worker for
// checkpointing
type SnapshotClient struct {
	http *http.Client
}

// NewSnapshotClient creates a snapshot client shared across components
func NewSnapshotClient(cfg config.WorkersConfig) *SnapshotClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SnapshotClient{http: &http.Client{Timeout: timeout}}
}

// Fetch retrieves one component's snapshot from the worker at endpoint
func (c *SnapshotClient) Fetch(ctx context.Context, endpoint, component string) (io.Reader, int64, error) {
	url := fmt.Sprintf("%s/v1/snapshot/%s", endpoint, component)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeInternal, "failed to build snapshot request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeInfrastructure, "snapshot request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, errors.InfrastructureError(
			fmt.Sprintf("snapshot of %s returned %d: %s", component, resp.StatusCode, string(msg)))
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeInfrastructure, "failed to read snapshot body")
	}
	return &buf, n, nil
}

// Snapshotter returns a fetch closure bound to one component endpoint
func (c *SnapshotClient) Snapshotter(endpoint, component string) func(ctx context.Context) (io.Reader, int64, error) {
	return func(ctx context.Context) (io.Reader, int64, error) {
		return c.Fetch(ctx, endpoint, component)
	}
}
