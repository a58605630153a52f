// Package types provides enumeration type definitions for verl-prime.
// All enums implement String(), Valid(), and FromString() methods
// for type-safe conversions and validation across the trainer.
package types

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// ============================================================================
// Advantage Estimator Enumerations
// ============================================================================

// AdvEstimator represents the advantage estimation algorithm
type AdvEstimator string

const (
	// AdvEstimatorGAE represents Generalized Advantage Estimation,
	// which bootstraps from a critic's value predictions
	AdvEstimatorGAE AdvEstimator = "gae"

	// AdvEstimatorRLOO represents leave-one-out group-relative estimation,
	// which needs no value function
	AdvEstimatorRLOO AdvEstimator = "rloo"
)

// String returns the string representation
func (ae AdvEstimator) String() string {
	return string(ae)
}

// Valid checks if the estimator is valid
func (ae AdvEstimator) Valid() bool {
	switch ae {
	case AdvEstimatorGAE, AdvEstimatorRLOO:
		return true
	default:
		return false
	}
}

// RequiresCritic reports whether the estimator needs value predictions
func (ae AdvEstimator) RequiresCritic() bool {
	return ae == AdvEstimatorGAE
}

// FromStringAdvEstimator converts string to AdvEstimator
func FromStringAdvEstimator(s string) (AdvEstimator, error) {
	ae := AdvEstimator(strings.ToLower(s))
	if !ae.Valid() {
		return "", fmt.Errorf("invalid advantage estimator: %s", s)
	}
	return ae, nil
}

// Value implements driver.Valuer for database storage
func (ae AdvEstimator) Value() (driver.Value, error) {
	return string(ae), nil
}

// Scan implements sql.Scanner for database retrieval
func (ae *AdvEstimator) Scan(value interface{}) error {
	if value == nil {
		*ae = ""
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan type %T into AdvEstimator", value)
	}

	parsed, err := FromStringAdvEstimator(str)
	if err != nil {
		return err
	}

	*ae = parsed
	return nil
}

// ============================================================================
// Reward Model Enumerations
// ============================================================================

// RewardModelType represents the learned reward model family
type RewardModelType string

const (
	// RewardModelTypePrime represents the process reward model blended
	// with the verifier signal
	RewardModelTypePrime RewardModelType = "prime"

	// RewardModelTypeDisabled represents verifier-only training
	RewardModelTypeDisabled RewardModelType = "disabled"
)

// String returns the string representation
func (rt RewardModelType) String() string {
	return string(rt)
}

// Valid checks if the reward model type is valid
func (rt RewardModelType) Valid() bool {
	switch rt {
	case RewardModelTypePrime, RewardModelTypeDisabled:
		return true
	default:
		return false
	}
}

// Enabled reports whether a learned reward model participates at all
func (rt RewardModelType) Enabled() bool {
	return rt == RewardModelTypePrime
}

// FromStringRewardModelType converts string to RewardModelType
func FromStringRewardModelType(s string) (RewardModelType, error) {
	rt := RewardModelType(strings.ToLower(s))
	if !rt.Valid() {
		return "", fmt.Errorf("invalid reward model type: %s", s)
	}
	return rt, nil
}

// Granularity represents whether a reward signal is emitted per token
// or once per sequence
type Granularity string

const (
	// GranularityToken emits one score per response token
	GranularityToken Granularity = "token"

	// GranularityWhole emits a single score for the whole sequence
	GranularityWhole Granularity = "whole"
)

// String returns the string representation
func (g Granularity) String() string {
	return string(g)
}

// Valid checks if the granularity is valid
func (g Granularity) Valid() bool {
	switch g {
	case GranularityToken, GranularityWhole:
		return true
	default:
		return false
	}
}

// FromStringGranularity converts string to Granularity
func FromStringGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(s))
	if !g.Valid() {
		return "", fmt.Errorf("invalid granularity: %s", s)
	}
	return g, nil
}

// ============================================================================
// Update Policy Enumerations
// ============================================================================

// UpdatePolicy represents when the learned reward model is refreshed
// relative to advantage computation within a training step
type UpdatePolicy string

const (
	// UpdatePolicyBefore refreshes the reward model before it scores the
	// step's trajectories
	UpdatePolicyBefore UpdatePolicy = "before"

	// UpdatePolicyAfter scores first, then refreshes; the update only
	// affects the next step
	UpdatePolicyAfter UpdatePolicy = "after"

	// UpdatePolicyNone freezes the reward model for the entire run
	UpdatePolicyNone UpdatePolicy = "none"
)

// String returns the string representation
func (up UpdatePolicy) String() string {
	return string(up)
}

// Valid checks if the update policy is valid
func (up UpdatePolicy) Valid() bool {
	switch up {
	case UpdatePolicyBefore, UpdatePolicyAfter, UpdatePolicyNone:
		return true
	default:
		return false
	}
}

// Updates reports whether the reward model is ever trained during the run
func (up UpdatePolicy) Updates() bool {
	return up == UpdatePolicyBefore || up == UpdatePolicyAfter
}

// FromStringUpdatePolicy converts string to UpdatePolicy
func FromStringUpdatePolicy(s string) (UpdatePolicy, error) {
	up := UpdatePolicy(strings.ToLower(s))
	if !up.Valid() {
		return "", fmt.Errorf("invalid update policy: %s", s)
	}
	return up, nil
}

// Value implements driver.Valuer for database storage
func (up UpdatePolicy) Value() (driver.Value, error) {
	return string(up), nil
}

// Scan implements sql.Scanner for database retrieval
func (up *UpdatePolicy) Scan(value interface{}) error {
	if value == nil {
		*up = ""
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan type %T into UpdatePolicy", value)
	}

	parsed, err := FromStringUpdatePolicy(str)
	if err != nil {
		return err
	}

	*up = parsed
	return nil
}

// ============================================================================
// Run State Enumerations
// ============================================================================

// RunState represents the lifecycle state of a training run
type RunState string

const (
	// RunStatePending indicates the run is validated but not started
	RunStatePending RunState = "pending"

	// RunStateRunning indicates the step loop is active
	RunStateRunning RunState = "running"

	// RunStatePaused indicates the step loop is suspended between steps
	RunStatePaused RunState = "paused"

	// RunStateCompleted indicates the run reached its final step
	RunStateCompleted RunState = "completed"

	// RunStateFailed indicates the run aborted on an error
	RunStateFailed RunState = "failed"

	// RunStateStopped indicates the run was ended early on request
	RunStateStopped RunState = "stopped"
)

// String returns the string representation
func (rs RunState) String() string {
	return string(rs)
}

// Valid checks if the run state is valid
func (rs RunState) Valid() bool {
	switch rs {
	case RunStatePending, RunStateRunning, RunStatePaused, RunStateCompleted, RunStateFailed, RunStateStopped:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state can no longer change
func (rs RunState) Terminal() bool {
	return rs == RunStateCompleted || rs == RunStateFailed || rs == RunStateStopped
}
