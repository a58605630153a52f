// Package batch resolves the run's parallel layout and packs admitted
// trajectories into micro-batches for the trainer workers.
package batch

import (
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Parallelism Resolver
// ============================================================================

// Plan is the resolved parallel layout for the run
type Plan struct {
	WorldSize int
	DPSize    int
	TPSize    int
	SPSize    int

	MiniBatchSize  int
	MicroBatchSize int

	// GradAccumSteps is mini / (micro * dp)
	GradAccumSteps int
}

// Resolve derives the parallel layout from the configuration and rejects
// every inconsistent combination at startup. The checks mirror config
// validation so a Plan can never exist in a broken state.
func Resolve(cfg *config.Config) (*Plan, error) {
	tp := cfg.ActorRolloutRef.Rollout.TensorModelParallelSize
	sp := cfg.ActorRolloutRef.Actor.UlyssesSequenceParallelSize
	gpusPerNode := cfg.Trainer.NGPUsPerNode
	world := cfg.Trainer.WorldSize()

	if tp < 1 || sp < 1 {
		return nil, errors.ConfigErrorf(errors.CodeConfigParallelism,
			"parallel degrees must be >= 1: tp=%d sp=%d", tp, sp)
	}
	if gpusPerNode < 1 || gpusPerNode%(tp*sp) != 0 {
		return nil, errors.ConfigErrorf(errors.CodeConfigParallelism,
			"tensor_model_parallel_size * ulysses_sequence_parallel_size = %d must divide %d GPUs per node",
			tp*sp, gpusPerNode)
	}

	dp := world / (tp * sp)
	mini := cfg.ActorRolloutRef.Actor.PPOMiniBatchSize
	micro := cfg.ActorRolloutRef.Actor.PPOMicroBatchSize
	if micro < 1 || mini < 1 {
		return nil, errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"batch sizes must be >= 1: mini=%d micro=%d", mini, micro)
	}
	if mini%(micro*dp) != 0 {
		return nil, errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"ppo_mini_batch_size %d must be divisible by ppo_micro_batch_size * dp = %d",
			mini, micro*dp)
	}

	if cfg.Algorithm.Estimator() == types.AdvEstimatorRLOO && micro%cfg.Data.NSamples != 0 {
		return nil, errors.ConfigErrorf(errors.CodeConfigBatchSize,
			"ppo_micro_batch_size %d must be divisible by n_samples %d so prompt groups are never split",
			micro, cfg.Data.NSamples)
	}

	return &Plan{
		WorldSize:      world,
		DPSize:         dp,
		TPSize:         tp,
		SPSize:         sp,
		MiniBatchSize:  mini,
		MicroBatchSize: micro,
		GradAccumSteps: mini / (micro * dp),
	}, nil
}

// ============================================================================
// Micro-Batch Assembler
// ============================================================================

// MicroBatch is one forward/backward unit handed to a trainer worker
type MicroBatch struct {
	Index        int
	Trajectories []*trajectory.Trajectory
}

// Assembler packs a step batch into micro-batches. Under group-relative
// estimation prompt groups stay contiguous and never straddle a micro-batch
// boundary.
type Assembler struct {
	plan         *Plan
	groupAligned bool
}

// NewAssembler resolves the layout and creates an assembler
func NewAssembler(cfg *config.Config) (*Assembler, error) {
	plan, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		plan:         plan,
		groupAligned: cfg.Algorithm.Estimator() == types.AdvEstimatorRLOO,
	}, nil
}

// Plan returns the resolved parallel layout
func (a *Assembler) Plan() *Plan {
	return a.plan
}

// Assemble packs the step batch into micro-batches in group order then
// rollout order. Without group alignment trajectories fill each micro-batch
// to capacity; with it, whole groups are placed and a micro-batch is closed
// early rather than splitting one.
func (a *Assembler) Assemble(b *trajectory.Batch) ([]MicroBatch, error) {
	size := a.plan.MicroBatchSize

	if !a.groupAligned {
		flat := b.Flatten()
		out := make([]MicroBatch, 0, (len(flat)+size-1)/size)
		for start := 0; start < len(flat); start += size {
			end := start + size
			if end > len(flat) {
				end = len(flat)
			}
			out = append(out, MicroBatch{Index: len(out), Trajectories: flat[start:end]})
		}
		return out, nil
	}

	var out []MicroBatch
	current := MicroBatch{Index: 0}
	for _, g := range b.Groups {
		if g.Size() > size {
			return nil, errors.ConfigErrorf(errors.CodeConfigBatchSize,
				"group %s has %d trajectories, larger than the micro-batch size %d", g.ID, g.Size(), size)
		}
		if len(current.Trajectories)+g.Size() > size {
			out = append(out, current)
			current = MicroBatch{Index: len(out)}
		}
		current.Trajectories = append(current.Trajectories, g.Trajectories...)
	}
	if len(current.Trajectories) > 0 {
		out = append(out, current)
	}
	return out, nil
}
