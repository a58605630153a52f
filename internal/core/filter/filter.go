// Package filter implements accuracy-band group admission: prompt groups
// whose verifier accuracy falls outside the configured band carry no
// learning signal and are rejected whole.
package filter

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// ============================================================================
// Accuracy Filter
// ============================================================================

// RejectReason labels why a group was not admitted
type RejectReason string

const (
	RejectTooEasy RejectReason = "too_easy"
	RejectTooHard RejectReason = "too_hard"
)

// AccuracyFilter admits groups whose accuracy lies inside [lower, upper].
// Bounds are inclusive on both ends: a group exactly at a bound is admitted.
type AccuracyFilter struct {
	enabled bool
	lower   float64
	upper   float64
}

// New creates a filter from the data section of the run configuration.
// An empty interval was already rejected by config validation; this
// re-checks so the filter cannot be constructed in a bad state directly.
func New(cfg config.DataConfig) (*AccuracyFilter, error) {
	if cfg.FilterAccuracy && cfg.AccuracyLowerBound > cfg.AccuracyUpperBound {
		return nil, errors.ConfigErrorf(errors.CodeConfigFilterBounds,
			"accuracy filter interval is empty: lower %v > upper %v",
			cfg.AccuracyLowerBound, cfg.AccuracyUpperBound)
	}
	return &AccuracyFilter{
		enabled: cfg.FilterAccuracy,
		lower:   cfg.AccuracyLowerBound,
		upper:   cfg.AccuracyUpperBound,
	}, nil
}

// Enabled reports whether filtering is active
func (f *AccuracyFilter) Enabled() bool {
	return f.enabled
}

// Admit decides whether a group enters the step batch. Disabled filters
// admit everything. The decision is always per whole group; individual
// trajectories are never split out.
func (f *AccuracyFilter) Admit(g *trajectory.Group) (bool, RejectReason) {
	if !f.enabled {
		return true, ""
	}
	acc := g.Accuracy()
	if acc < f.lower {
		return false, RejectTooHard
	}
	if acc > f.upper {
		return false, RejectTooEasy
	}
	return true, ""
}

// Partition splits groups into admitted and rejected while preserving
// input order in both slices
func (f *AccuracyFilter) Partition(groups []*trajectory.Group) (admitted, rejected []*trajectory.Group) {
	for _, g := range groups {
		if ok, _ := f.Admit(g); ok {
			admitted = append(admitted, g)
		} else {
			rejected = append(rejected, g)
		}
	}
	return admitted, rejected
}
