// Package trainer runs the synchronous step loop: intake, filtering, reward
// model scheduling, scoring and blending, advantage estimation, micro-batch
// assembly, and hand-off to the policy trainer. Every phase of a step
// completes for the whole batch before the next phase starts.
package trainer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZefanW/verl-prime/internal/core/advantage"
	"github.com/ZefanW/verl-prime/internal/core/batch"
	"github.com/ZefanW/verl-prime/internal/core/filter"
	"github.com/ZefanW/verl-prime/internal/core/prm"
	"github.com/ZefanW/verl-prime/internal/core/reward"
	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/internal/observability/trace"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Collaborator Interfaces
// ============================================================================

// RolloutSource delivers verifier-labeled trajectory groups from the
// rollout samplers
type RolloutSource interface {
	// Consume returns up to maxGroups groups, blocking until at least one
	// is available or the context ends
	Consume(ctx context.Context, maxGroups int) ([]*trajectory.Group, error)
}

// OverflowBuffer parks groups admitted beyond the step quota so the next
// step drains them before consuming fresh rollouts
type OverflowBuffer interface {
	Park(ctx context.Context, groups []*trajectory.Group) error
	Drain(ctx context.Context, maxGroups int) ([]*trajectory.Group, error)
}

// CriticClient fills Values on each trajectory; only wired when the
// estimator needs a learned baseline
type CriticClient interface {
	Values(ctx context.Context, trajectories []*trajectory.Trajectory) error
}

// PolicyTrainer receives the finished micro-batches for one step
type PolicyTrainer interface {
	Train(ctx context.Context, step int64, microBatches []batch.MicroBatch) error
}

// CheckpointSink persists model state at save_freq boundaries
type CheckpointSink interface {
	Save(ctx context.Context, step int64, includeRewardModel bool) error
}

// StepMetrics summarizes one completed step for tracking stores
type StepMetrics struct {
	Step                int64
	GroupsAdmitted      int
	GroupsRejected      int
	TrajectoriesDropped int
	DegenerateGroups    int
	MeanAdvantage       float64
	MeanReturn          float64
	Duration            time.Duration
}

// RunStore records run lifecycle and per-step metrics; nil disables tracking
type RunStore interface {
	StartRun(ctx context.Context, runID string, cfg *config.Config) error
	RecordStep(ctx context.Context, runID string, m StepMetrics) error
	FinishRun(ctx context.Context, runID string, state types.RunState) error
}

// ============================================================================
// Driver
// ============================================================================

// Dependencies wires the driver's collaborators
type Dependencies struct {
	Config      *config.Config
	RunID       string
	Source      RolloutSource
	Buffer      OverflowBuffer
	Critic      CriticClient
	RewardModel prm.Client
	Trainer     PolicyTrainer
	Checkpoints CheckpointSink
	Store       RunStore
	Logger      logging.Logger
	Collector   *metrics.MetricsCollector
	Tracer      trace.Tracer
}

// Driver owns the step loop and all per-run derived components
type Driver struct {
	cfg       *config.Config
	runID     string
	source    RolloutSource
	buffer    OverflowBuffer
	critic    CriticClient
	scheduler *prm.Scheduler
	blender   *reward.Blender
	filter    *filter.AccuracyFilter
	estimator advantage.Estimator
	assembler *batch.Assembler
	trainer   PolicyTrainer
	sink      CheckpointSink
	store     RunStore
	logger    logging.Logger
	collector *metrics.MetricsCollector
	tracer    trace.Tracer

	currentStep   atomic.Int64
	stopRequested atomic.Bool

	mu     sync.RWMutex
	state  types.RunState
	paused chan struct{}
}

// New validates the configuration and builds a driver. Every configuration
// error surfaces here, before the first step runs.
func New(deps Dependencies) (*Driver, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalid, "driver requires a rollout source")
	}
	if deps.Trainer == nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalid, "driver requires a policy trainer")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = trace.NewNoopTracer()
	}

	f, err := filter.New(cfg.Data)
	if err != nil {
		return nil, err
	}
	est, err := advantage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if est.Name().RequiresCritic() && deps.Critic == nil {
		return nil, errors.ConfigError(errors.CodeConfigCriticRequired,
			"the selected estimator requires a critic client")
	}
	asm, err := batch.NewAssembler(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RewardModel.Type().Enabled() && deps.RewardModel == nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalid,
			"reward_model.rm_type=prime requires a reward model client (workers.reward_model_endpoint)")
	}

	rmCoef := cfg.RewardModel.RMCoef
	if !cfg.RewardModel.Type().Enabled() {
		rmCoef = 0
	}

	return &Driver{
		cfg:       cfg,
		runID:     deps.RunID,
		source:    deps.Source,
		buffer:    deps.Buffer,
		critic:    deps.Critic,
		scheduler: prm.NewScheduler(cfg.RewardModel, deps.RewardModel, deps.RunID, logger, deps.Collector),
		blender:   reward.NewBlender(rmCoef, cfg.Algorithm.AdvParams.RewardModelGamma, cfg.RewardModel.Granularity()),
		filter:    f,
		estimator: est,
		assembler: asm,
		trainer:   deps.Trainer,
		sink:      deps.Checkpoints,
		store:     deps.Store,
		logger:    logger.With(logging.String("run_id", deps.RunID)),
		collector: deps.Collector,
		tracer:    tracer,
		state:     types.RunStatePending,
		paused:    nil,
	}, nil
}

// ============================================================================
// Run Loop
// ============================================================================

// Run executes steps 1..total_steps, checkpointing at save_freq boundaries.
// A step error aborts the run; a cancelled context finishes as cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ctx = logging.WithRunID(ctx, d.runID)
	d.setState(types.RunStateRunning)

	if d.store != nil {
		if err := d.store.StartRun(ctx, d.runID, d.cfg); err != nil {
			d.setState(types.RunStateFailed)
			return errors.Wrap(err, errors.CodeInfrastructure, "failed to record run start")
		}
	}

	total := int64(d.cfg.Trainer.TotalSteps)
	for step := int64(1); step <= total; step++ {
		if err := d.waitIfPaused(ctx); err != nil {
			return d.finish(ctx, types.RunStateFailed, err)
		}
		if d.stopRequested.Load() {
			return d.finish(ctx, types.RunStateStopped, nil)
		}

		d.currentStep.Store(step)
		stepCtx, span := d.tracer.Start(logging.WithStep(ctx, int(step)), "trainer.step")
		trace.SetSpanAttributes(stepCtx, trace.RunIDAttr(d.runID), trace.StepAttr(step))

		started := time.Now()
		m, err := d.runStep(stepCtx, step)
		if err != nil {
			trace.RecordSpanError(stepCtx, err)
			span.End()
			if ctx.Err() != nil {
				return d.finish(ctx, types.RunStateFailed, errors.CancelledError("run cancelled"))
			}
			return d.finish(ctx, types.RunStateFailed, err)
		}
		m.Duration = time.Since(started)
		span.End()

		d.observeStep(ctx, m)

		if d.sink != nil && d.cfg.Trainer.SaveFreq > 0 && step%int64(d.cfg.Trainer.SaveFreq) == 0 {
			if err := d.checkpoint(ctx, step); err != nil {
				return d.finish(ctx, types.RunStateFailed, err)
			}
		}
	}

	return d.finish(ctx, types.RunStateCompleted, nil)
}

// runStep executes one full step barrier
func (d *Driver) runStep(ctx context.Context, step int64) (StepMetrics, error) {
	m := StepMetrics{Step: step}

	groups, err := d.intake(ctx, &m)
	if err != nil {
		return m, err
	}
	if len(groups) == 0 {
		return m, errors.StepError(errors.CodeEmptyBatch,
			fmt.Sprintf("step %d: no groups survived intake and filtering", step))
	}
	m.GroupsAdmitted = len(groups)

	stepBatch := trajectory.NewBatch(step, groups)
	flat := stepBatch.Flatten()

	if err := d.scheduler.BeforeScoring(ctx, flat); err != nil {
		return m, err
	}

	if err := d.score(ctx, flat); err != nil {
		return m, err
	}

	groups, dropped := d.blend(groups)
	m.TrajectoriesDropped += dropped
	if len(groups) == 0 {
		return m, errors.StepError(errors.CodeEmptyBatch,
			fmt.Sprintf("step %d: every group was dropped during blending", step))
	}

	groups, degenerate, dropped, err := d.estimate(groups)
	if err != nil {
		return m, err
	}
	m.DegenerateGroups = degenerate
	m.TrajectoriesDropped += dropped
	if len(groups) == 0 {
		return m, errors.StepError(errors.CodeEmptyBatch,
			fmt.Sprintf("step %d: every group was dropped during estimation", step))
	}

	stepBatch = trajectory.NewBatch(step, groups)
	flat = stepBatch.Flatten()
	if d.cfg.Algorithm.AdvParams.Whiten {
		advantage.Whiten(flat)
	}
	m.MeanAdvantage, m.MeanReturn = summarize(flat)

	microBatches, err := d.assembler.Assemble(stepBatch)
	if err != nil {
		return m, err
	}
	if err := d.trainer.Train(ctx, step, microBatches); err != nil {
		return m, errors.StepError(errors.CodeShardFailure,
			fmt.Sprintf("step %d: policy training failed: %v", step, err))
	}

	if err := d.scheduler.AfterScoring(ctx, flat); err != nil {
		return m, err
	}
	return m, nil
}

// ============================================================================
// Step Phases
// ============================================================================

// intake drains the overflow buffer, then oversamples from the rollout
// source until the admitted-group quota is met or the round limit runs out.
// Surplus admitted groups are parked for the next step.
func (d *Driver) intake(ctx context.Context, m *StepMetrics) ([]*trajectory.Group, error) {
	quota := d.cfg.Data.TrainBatchSize
	maxRounds := d.cfg.Data.MaxIntakeRounds
	if maxRounds < 1 {
		maxRounds = 1
	}

	var admitted []*trajectory.Group

	if d.buffer != nil {
		parked, err := d.buffer.Drain(ctx, quota)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInfrastructure, "overflow buffer drain failed")
		}
		admitted = d.admit(parked, m, &admitted)
	}

	for round := 0; round < maxRounds && len(admitted) < quota; round++ {
		fresh, err := d.source.Consume(ctx, quota-len(admitted))
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.CancelledError("run cancelled during intake")
			}
			return nil, errors.Wrap(err, errors.CodeInfrastructure, "rollout intake failed")
		}
		if len(fresh) == 0 {
			break
		}
		admitted = d.admit(fresh, m, &admitted)
	}

	if len(admitted) > quota {
		surplus := admitted[quota:]
		admitted = admitted[:quota]
		if d.buffer != nil {
			if err := d.buffer.Park(ctx, surplus); err != nil {
				return nil, errors.Wrap(err, errors.CodeInfrastructure, "overflow buffer park failed")
			}
			if d.collector != nil {
				d.collector.SetGauge("buffer_groups", float64(len(surplus)),
					map[string]string{"run_id": d.runID})
			}
		} else {
			discarded := 0
			for _, g := range surplus {
				discarded += g.Size()
			}
			m.TrajectoriesDropped += discarded
			d.logger.Warn("discarding surplus groups, no overflow buffer configured",
				logging.Int("groups", len(surplus)),
				logging.Int("trajectories", discarded))
			if d.collector != nil {
				d.collector.AddCounter("trajectories_dropped_total", float64(discarded),
					map[string]string{"run_id": d.runID, "code": "surplus_discarded"})
			}
		}
	}
	return admitted, nil
}

// admit validates and filters a slice of incoming groups, appending
// survivors to acc
func (d *Driver) admit(groups []*trajectory.Group, m *StepMetrics, acc *[]*trajectory.Group) []*trajectory.Group {
	for _, g := range groups {
		if !d.validGroup(g, m) {
			continue
		}
		ok, reason := d.filter.Admit(g)
		if d.collector != nil {
			d.collector.Observe("group_accuracy", g.Accuracy(), map[string]string{"run_id": d.runID})
		}
		if !ok {
			m.GroupsRejected++
			d.logger.Debug("group rejected by accuracy filter",
				logging.String("group_id", g.ID),
				logging.Float64("accuracy", g.Accuracy()),
				logging.String("reason", string(reason)))
			if d.collector != nil {
				d.collector.IncrementCounter("groups_rejected_total",
					map[string]string{"run_id": d.runID, "reason": string(reason)})
			}
			continue
		}
		if d.collector != nil {
			d.collector.IncrementCounter("groups_admitted_total", map[string]string{"run_id": d.runID})
		}
		*acc = append(*acc, g)
	}
	return *acc
}

// validGroup drops whole groups containing malformed trajectories; the
// drop is counted and logged but never step-fatal
func (d *Driver) validGroup(g *trajectory.Group, m *StepMetrics) bool {
	for _, t := range g.Trajectories {
		if err := t.Validate(); err != nil {
			m.TrajectoriesDropped += g.Size()
			d.logger.Warn("dropping group with malformed trajectory",
				logging.String("group_id", g.ID),
				logging.Error(err))
			if d.collector != nil {
				d.collector.AddCounter("trajectories_dropped_total", float64(g.Size()),
					map[string]string{"run_id": d.runID, "code": errors.GetCode(err)})
			}
			return false
		}
	}
	return true
}

// score fans the batch out over the scoring worker pool: reward model
// scores and, when the estimator needs them, critic values. Shards are
// index ranges so aggregation preserves input order. Any shard failure
// aborts the step.
func (d *Driver) score(ctx context.Context, flat []*trajectory.Trajectory) error {
	workers := d.cfg.Trainer.ScoringWorkers
	if workers < 1 {
		workers = d.assembler.Plan().DPSize
	}
	if workers > len(flat) {
		workers = len(flat)
	}
	if workers < 1 {
		return nil
	}

	shardErrs := make([]error, workers)
	var wg sync.WaitGroup
	per := (len(flat) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * per
		end := start + per
		if end > len(flat) {
			end = len(flat)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w int, shard []*trajectory.Trajectory) {
			defer wg.Done()
			if err := d.scheduler.Score(ctx, shard); err != nil {
				shardErrs[w] = err
				return
			}
			if d.critic != nil && d.estimator.Name().RequiresCritic() {
				if err := d.critic.Values(ctx, shard); err != nil {
					shardErrs[w] = err
				}
			}
		}(w, flat[start:end])
	}
	wg.Wait()

	for w, err := range shardErrs {
		if err != nil {
			return errors.StepError(errors.CodeShardFailure,
				fmt.Sprintf("scoring shard %d failed: %v", w, err))
		}
	}
	return nil
}

// blend computes the blended reward series group by group; a blending data
// error drops the whole group
func (d *Driver) blend(groups []*trajectory.Group) (kept []*trajectory.Group, dropped int) {
	for _, g := range groups {
		ok := true
		for _, t := range g.Trajectories {
			blended, err := d.blender.Blend(t)
			if err != nil {
				d.logger.Warn("dropping group on reward blend failure",
					logging.String("group_id", g.ID),
					logging.Error(err))
				if d.collector != nil {
					d.collector.AddCounter("trajectories_dropped_total", float64(g.Size()),
						map[string]string{"run_id": d.runID, "code": errors.GetCode(err)})
				}
				dropped += g.Size()
				ok = false
				break
			}
			t.Rewards = blended
		}
		if ok {
			kept = append(kept, g)
		}
	}
	return kept, dropped
}

// estimate runs the advantage estimator per group; data errors drop the
// group, anything else is step-fatal, groups too small for a baseline are
// counted as degenerate
func (d *Driver) estimate(groups []*trajectory.Group) (kept []*trajectory.Group, degenerate, dropped int, fatal error) {
	for _, g := range groups {
		if g.Size() < 2 && d.estimator.Name() == types.AdvEstimatorRLOO {
			degenerate++
			if d.collector != nil {
				d.collector.IncrementCounter("degenerate_groups_total", map[string]string{"run_id": d.runID})
			}
		}
		if err := d.estimator.Compute(g); err != nil {
			if !errors.IsType(err, errors.ErrorTypeData) {
				return nil, degenerate, dropped, err
			}
			d.logger.Warn("dropping group on estimation failure",
				logging.String("group_id", g.ID),
				logging.Error(err))
			if d.collector != nil {
				d.collector.AddCounter("trajectories_dropped_total", float64(g.Size()),
					map[string]string{"run_id": d.runID, "code": errors.GetCode(err)})
			}
			dropped += g.Size()
			continue
		}
		kept = append(kept, g)
	}
	return kept, degenerate, dropped, nil
}

// checkpoint saves model state; the reward model is included only when its
// update policy actually changes it
func (d *Driver) checkpoint(ctx context.Context, step int64) error {
	started := time.Now()
	if err := d.sink.Save(ctx, step, d.scheduler.UpdatesModel()); err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure,
			fmt.Sprintf("checkpoint at step %d failed", step))
	}
	d.logger.Info("checkpoint saved",
		logging.Int64("step", step),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

// ============================================================================
// Lifecycle and Status
// ============================================================================

// Pause halts the loop at the next step boundary
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == types.RunStateRunning {
		d.state = types.RunStatePaused
		d.paused = make(chan struct{})
	}
}

// Resume releases a paused loop
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == types.RunStatePaused {
		d.state = types.RunStateRunning
		close(d.paused)
		d.paused = nil
	}
}

// Stop ends the run at the next step boundary, releasing a paused loop
func (d *Driver) Stop() {
	d.stopRequested.Store(true)
	d.Resume()
}

// State returns the current run state
func (d *Driver) State() types.RunState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// CurrentStep returns the step the loop is on
func (d *Driver) CurrentStep() int64 {
	return d.currentStep.Load()
}

// RunID returns the run identifier
func (d *Driver) RunID() string {
	return d.runID
}

// Config returns the immutable run configuration
func (d *Driver) Config() *config.Config {
	return d.cfg
}

func (d *Driver) setState(s types.RunState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) waitIfPaused(ctx context.Context) error {
	d.mu.RLock()
	ch := d.paused
	d.mu.RUnlock()
	if ch == nil {
		return nil
	}
	d.logger.Info("run paused")
	select {
	case <-ch:
		d.logger.Info("run resumed")
		return nil
	case <-ctx.Done():
		return errors.CancelledError("run cancelled while paused")
	}
}

func (d *Driver) finish(ctx context.Context, state types.RunState, cause error) error {
	d.setState(state)
	if d.store != nil {
		if err := d.store.FinishRun(context.WithoutCancel(ctx), d.runID, state); err != nil {
			d.logger.Error("failed to record run finish", logging.Error(err))
		}
	}
	if cause != nil {
		d.logger.Error("run finished with error",
			logging.String("state", state.String()),
			logging.Error(cause))
	} else {
		d.logger.Info("run finished", logging.String("state", state.String()))
	}
	return cause
}

func (d *Driver) observeStep(ctx context.Context, m StepMetrics) {
	d.logger.Info("step complete",
		logging.Int64("step", m.Step),
		logging.Int("groups_admitted", m.GroupsAdmitted),
		logging.Int("groups_rejected", m.GroupsRejected),
		logging.Int("trajectories_dropped", m.TrajectoriesDropped),
		logging.Int("degenerate_groups", m.DegenerateGroups),
		logging.Float64("mean_advantage", m.MeanAdvantage),
		logging.Duration("elapsed", m.Duration))

	if d.collector != nil {
		labels := map[string]string{"run_id": d.runID}
		d.collector.IncrementCounter("steps_total", map[string]string{"run_id": d.runID, "status": "ok"})
		d.collector.SetGauge("current_step", float64(m.Step), labels)
		d.collector.Observe("advantage_mean", m.MeanAdvantage, labels)
		d.collector.Observe("trajectory_return", m.MeanReturn, labels)
	}

	if d.store != nil {
		if err := d.store.RecordStep(ctx, d.runID, m); err != nil {
			d.logger.Error("failed to record step metrics",
				logging.Int64("step", m.Step),
				logging.Error(err))
		}
	}
}

// summarize reports the mean advantage and mean scalar return over the batch
func summarize(flat []*trajectory.Trajectory) (meanAdv, meanReturn float64) {
	var advSum, retSum float64
	var advCount int
	for _, t := range flat {
		for _, a := range t.Advantages {
			advSum += a
			advCount++
		}
		retSum += t.ScalarReturn()
	}
	if advCount > 0 {
		meanAdv = advSum / float64(advCount)
	}
	if len(flat) > 0 {
		meanReturn = retSum / float64(len(flat))
	}
	return meanAdv, meanReturn
}
