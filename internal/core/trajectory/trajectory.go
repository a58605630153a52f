// Package trajectory defines the sampled-rollout data model shared by the
// reward, filter, advantage, and batch packages: single trajectories, prompt
// groups, and the step batch assembled from admitted groups.
package trajectory

import (
	"time"

	"github.com/google/uuid"

	"github.com/ZefanW/verl-prime/pkg/errors"
)

// ============================================================================
// Trajectory
// ============================================================================

// Trajectory is one sampled response to a prompt with everything the step
// pipeline attaches to it: token-level rewards, values, and advantages.
// Token-level slices are aligned to ResponseTokens; index 0 is the first
// generated token.
type Trajectory struct {
	// ID uniquely identifies this trajectory
	ID string `json:"id"`

	// GroupID ties together the n_samples responses to one prompt
	GroupID string `json:"group_id"`

	// PromptTokens is the tokenized prompt
	PromptTokens []int `json:"prompt_tokens"`

	// ResponseTokens is the tokenized generated response
	ResponseTokens []int `json:"response_tokens"`

	// OldLogProbs are the behavior-policy log probabilities per response token
	OldLogProbs []float64 `json:"old_log_probs,omitempty"`

	// RefLogProbs are the reference-policy log probabilities per response token
	RefLogProbs []float64 `json:"ref_log_probs,omitempty"`

	// VerifierLabel is the scalar outcome from the rule-based verifier,
	// 1 for a correct final answer and 0 otherwise
	VerifierLabel float64 `json:"verifier_label"`

	// PRMScores are process-reward-model scores per response token.
	// Empty until the scoring phase runs; may stay empty when the reward
	// model is disabled.
	PRMScores []float64 `json:"prm_scores,omitempty"`

	// Values are critic value estimates per response token, required by GAE
	Values []float64 `json:"values,omitempty"`

	// Rewards is the blended per-token reward series, filled by the blender
	Rewards []float64 `json:"-"`

	// Advantages is the estimator output, aligned to ResponseTokens
	Advantages []float64 `json:"-"`

	// Returns is the discounted return-to-go series, aligned to ResponseTokens
	Returns []float64 `json:"-"`

	// CreatedAt is when the rollout worker produced this trajectory
	CreatedAt time.Time `json:"created_at"`
}

// NewTrajectory creates a trajectory with a generated ID
func NewTrajectory(groupID string, prompt, response []int, verifierLabel float64) *Trajectory {
	return &Trajectory{
		ID:             uuid.New().String(),
		GroupID:        groupID,
		PromptTokens:   prompt,
		ResponseTokens: response,
		VerifierLabel:  verifierLabel,
		CreatedAt:      time.Now(),
	}
}

// ResponseLength returns the number of generated tokens
func (t *Trajectory) ResponseLength() int {
	return len(t.ResponseTokens)
}

// Validate checks structural consistency of per-token slices.
// Failures are data errors: the trajectory is dropped and counted, never
// aborting the step.
func (t *Trajectory) Validate() error {
	if t.ID == "" {
		return errors.DataError(errors.CodeMissingVerifierLabel, "trajectory has no id")
	}
	if t.GroupID == "" {
		return errors.DataErrorf(errors.CodeMissingVerifierLabel, "trajectory %s has no group id", t.ID)
	}
	if len(t.ResponseTokens) == 0 {
		return errors.DataErrorf(errors.CodeRewardLengthMismatch, "trajectory %s has an empty response", t.ID)
	}
	if len(t.PRMScores) > 0 && len(t.PRMScores) != len(t.ResponseTokens) {
		return errors.DataErrorf(errors.CodeRewardLengthMismatch,
			"trajectory %s: %d reward-model scores for %d response tokens",
			t.ID, len(t.PRMScores), len(t.ResponseTokens))
	}
	if len(t.Values) > 0 && len(t.Values) != len(t.ResponseTokens) {
		return errors.DataErrorf(errors.CodeMissingValues,
			"trajectory %s: %d values for %d response tokens",
			t.ID, len(t.Values), len(t.ResponseTokens))
	}
	return nil
}

// ScalarReturn is the undiscounted sum of the blended reward series.
// RLOO operates on this quantity.
func (t *Trajectory) ScalarReturn() float64 {
	var sum float64
	for _, r := range t.Rewards {
		sum += r
	}
	return sum
}

// ============================================================================
// Group
// ============================================================================

// Group holds the n_samples trajectories sampled from one prompt.
// Order is the rollout production order and is preserved end to end.
type Group struct {
	ID           string        `json:"id"`
	Trajectories []*Trajectory `json:"trajectories"`
}

// NewGroup creates a group from trajectories sharing a group id
func NewGroup(id string, trajectories []*Trajectory) *Group {
	return &Group{ID: id, Trajectories: trajectories}
}

// Size returns the number of trajectories in the group
func (g *Group) Size() int {
	return len(g.Trajectories)
}

// Accuracy is the fraction of trajectories the verifier marked correct.
// An empty group has accuracy 0.
func (g *Group) Accuracy() float64 {
	if len(g.Trajectories) == 0 {
		return 0
	}
	var correct float64
	for _, t := range g.Trajectories {
		correct += t.VerifierLabel
	}
	return correct / float64(len(g.Trajectories))
}

// ============================================================================
// Batch
// ============================================================================

// Batch is the set of groups admitted into one training step
type Batch struct {
	// Step is the global step number this batch feeds
	Step int64 `json:"step"`

	// Groups in admission order
	Groups []*Group `json:"groups"`
}

// NewBatch creates a batch for a step
func NewBatch(step int64, groups []*Group) *Batch {
	return &Batch{Step: step, Groups: groups}
}

// TrajectoryCount returns the total trajectories across all groups
func (b *Batch) TrajectoryCount() int {
	var n int
	for _, g := range b.Groups {
		n += g.Size()
	}
	return n
}

// Flatten returns all trajectories in group order then rollout order
func (b *Batch) Flatten() []*Trajectory {
	out := make([]*Trajectory, 0, b.TrajectoryCount())
	for _, g := range b.Groups {
		out = append(out, g.Trajectories...)
	}
	return out
}

// GroupBy partitions trajectories into groups keyed by GroupID while
// preserving first-seen group order and within-group input order
func GroupBy(trajectories []*Trajectory) []*Group {
	index := make(map[string]*Group)
	var order []*Group
	for _, t := range trajectories {
		g, ok := index[t.GroupID]
		if !ok {
			g = &Group{ID: t.GroupID}
			index[t.GroupID] = g
			order = append(order, g)
		}
		g.Trajectories = append(g.Trajectories, t)
	}
	return order
}
