package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pvconverge/pvconverge/pkg/artifact"
	"github.com/pvconverge/pvconverge/pkg/cluster"
	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/guard"
	"github.com/pvconverge/pvconverge/pkg/policy"
	"github.com/pvconverge/pvconverge/pkg/state"
	"github.com/pvconverge/pvconverge/pkg/stores"
	"github.com/pvconverge/pvconverge/pkg/telemetry"
)

// verifyRetryDelay is the pause before the single verify snapshot retry.
const verifyRetryDelay = 2 * time.Second

// ArtifactUploader places the serialized desired-state artifact where the
// apply engine reads it. Satisfied by ssh.Transport.
type ArtifactUploader interface {
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error
}

// Options are the per-run knobs of the pipeline.
type Options struct {
	// OverrideDestroy lets a run proceed despite a destructive diff. The
	// verdict still lists every resource that will be destroyed.
	OverrideDestroy bool

	// SkipVerify skips the post-apply verification stage.
	SkipVerify bool

	// PlanOnly stops the pipeline after the guard stage without applying.
	PlanOnly bool
}

// StageOutcome is the recorded result of one executed stage.
type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Result   StageResult   `json:"result"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Status         RunStatus      `json:"status"`
	Stages         []StageOutcome `json:"stages"`
	Cluster        cluster.Fact   `json:"cluster"`
	Plan           PlanResult     `json:"plan"`
	Guard          guard.Verdict  `json:"guard"`
	ArtifactPath   string         `json:"artifact_path,omitempty"`
	VerifyWarnings []string       `json:"verify_warnings,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// Pipeline drives a deployment run through the six-stage machine:
// init, validate, plan, guard, apply, verify. Stages execute in order and
// the first failure aborts the run; the verify stage is the one exception,
// it reports warnings but never fails a run that applied successfully.
type Pipeline struct {
	engine    ApplyEngine
	querier   cluster.StatusQuerier
	uploader  ArtifactUploader
	policies  *policy.Engine
	artifacts *artifact.Store
	store     stores.Store
	merger    *state.Merger

	// remoteArtifactPath is the engine-side path the artifact is uploaded
	// to before validate runs.
	remoteArtifactPath string
}

// PipelineConfig wires the pipeline's collaborators. Store may be nil when
// run history is disabled.
type PipelineConfig struct {
	Engine             ApplyEngine
	Querier            cluster.StatusQuerier
	Uploader           ArtifactUploader
	Policies           *policy.Engine
	Artifacts          *artifact.Store
	Store              stores.Store
	RemoteArtifactPath string
}

// NewPipeline creates a pipeline from its collaborators.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, NewConfigurationError("apply engine is required", nil)
	}
	if cfg.Artifacts == nil {
		return nil, NewConfigurationError("artifact store is required", nil)
	}
	if cfg.RemoteArtifactPath == "" {
		return nil, NewConfigurationError("remote artifact path is required", nil)
	}
	return &Pipeline{
		engine:             cfg.Engine,
		querier:            cfg.Querier,
		uploader:           cfg.Uploader,
		policies:           cfg.Policies,
		artifacts:          cfg.Artifacts,
		store:              cfg.Store,
		merger:             state.NewMerger(),
		remoteArtifactPath: cfg.RemoteArtifactPath,
	}, nil
}

// Run executes one deployment run over the collected document and returns
// the report. The returned error, when non-nil, is always a *PipelineError
// carrying the stage it failed in.
func (p *Pipeline) Run(ctx context.Context, collected *config.Document, opts Options) (*RunReport, error) {
	runID := uuid.New().String()
	started := time.Now()

	tel := telemetry.FromTelemetryContext(ctx)
	logger := telemetry.FromContext(ctx).NewComponentLogger("pipeline").WithRunID(runID)
	ctx = logger.WithContext(ctx)

	report := &RunReport{RunID: runID, Status: RunStatusRunning}

	if tel != nil {
		runCtx, runSpan := tel.Tracer.StartRunSpan(ctx, runID)
		ctx = runCtx
		defer runSpan.End()
		tel.Metrics.RecordRunStarted("deploy")
		_ = tel.Events.Publish(telemetry.Event{
			Type:    telemetry.EventTypeRunStarted,
			RunID:   runID,
			Message: "deployment run started",
			Level:   telemetry.EventLevelInfo,
		})
	}

	p.recordRunStart(ctx, runID)
	logger.Info("deployment run started")

	// Cluster facts are queried once and carried by value for the rest of
	// the run. Detection never fails; it degrades to standalone.
	if p.querier != nil {
		report.Cluster = cluster.Detect(ctx, p.querier)
	} else {
		report.Cluster = cluster.Standalone()
	}
	logger.WithField("cluster", report.Cluster.String()).Info("cluster facts detected")

	err := p.execute(ctx, collected, opts, report)

	report.Duration = time.Since(started)
	switch {
	case err == nil:
		report.Status = RunStatusSucceeded
	case ctx.Err() != nil:
		report.Status = RunStatusCancelled
	default:
		report.Status = RunStatusFailed
	}

	p.recordRunEnd(ctx, runID, report.Status, err)

	if tel != nil {
		tel.Metrics.RecordRunCompleted(string(report.Status), report.Duration)
		eventType := telemetry.EventTypeRunCompleted
		level := telemetry.EventLevelInfo
		msg := "deployment run completed"
		if report.Status != RunStatusSucceeded {
			eventType = telemetry.EventTypeRunFailed
			level = telemetry.EventLevelError
			msg = fmt.Sprintf("deployment run %s", report.Status)
		}
		_ = tel.Events.Publish(telemetry.Event{
			Type:    eventType,
			RunID:   runID,
			Message: msg,
			Level:   level,
		})
	}

	if err != nil {
		logger.WithError(err).Error("deployment run failed")
		return report, err
	}
	logger.WithField("duration", report.Duration.String()).Info("deployment run succeeded")
	return report, nil
}

// execute walks the stage machine. Any returned error is a *PipelineError
// stamped with its stage.
func (p *Pipeline) execute(ctx context.Context, collected *config.Document, opts Options, report *RunReport) error {
	logger := telemetry.FromContext(ctx)

	// INIT
	if err := p.runStage(ctx, report, StageInit, func(ctx context.Context) error {
		return p.engine.Init(ctx)
	}); err != nil {
		return err
	}

	// An existing cluster must never be asked to create itself: collected
	// cluster-creation records are dropped, with a warning, when detection
	// found a live cluster.
	collected = p.applyClusterFact(ctx, collected, report)

	// The applied snapshot feeds both the merge and the guard. A failed
	// read degrades to an empty snapshot rather than aborting: first runs
	// have no state to read.
	applied, snapErr := state.ReadSnapshot(ctx, p.stateReader())
	if snapErr != nil {
		logger.WithError(snapErr).Warn("applied state unavailable, merging against empty snapshot")
	}

	merged := p.merger.Merge(ctx, collected, applied)

	localPath, err := p.artifacts.Write(merged)
	if err != nil {
		return NewConfigurationError("failed to persist desired-state artifact", err).WithStage(StageInit)
	}
	report.ArtifactPath = localPath
	logger.WithField("artifact", localPath).Info("desired-state artifact written")

	if p.uploader != nil {
		if err := p.uploader.UploadFile(ctx, localPath, p.remoteArtifactPath, 0600); err != nil {
			return NewConnectivityError("failed to upload desired-state artifact", err).WithStage(StageInit)
		}
	}

	// VALIDATE
	if err := p.runStage(ctx, report, StageValidate, func(ctx context.Context) error {
		if p.policies != nil {
			result, err := p.policies.Evaluate(ctx, merged)
			if err != nil {
				return NewConfigurationError("policy evaluation failed", err)
			}
			for _, w := range result.Warnings {
				logger.WithField("policy", w.Policy).Warnf("policy warning: %s", w.Message)
			}
			if !result.Allowed {
				msgs := make([]string, 0, len(result.Violations))
				for _, v := range result.Violations {
					msgs = append(msgs, v.Message)
				}
				return NewConfigurationError(
					fmt.Sprintf("policy violations: %s", strings.Join(msgs, "; ")), nil)
			}
		}
		return p.engine.Validate(ctx)
	}); err != nil {
		return err
	}

	// PLAN
	if err := p.runStage(ctx, report, StagePlan, func(ctx context.Context) error {
		plan, err := p.engine.Plan(ctx)
		if err != nil {
			return err
		}
		report.Plan = plan
		return nil
	}); err != nil {
		return err
	}

	// GUARD
	if err := p.runStage(ctx, report, StageGuard, func(ctx context.Context) error {
		verdict := guard.Evaluate(merged, applied, collected, opts.OverrideDestroy)
		report.Guard = verdict

		tel := telemetry.FromTelemetryContext(ctx)
		if tel != nil {
			outcome := "allowed"
			if !verdict.Allowed {
				outcome = "blocked"
			}
			tel.Metrics.RecordGuardVerdict(outcome, len(verdict.DestructiveKeys))
		}

		if !verdict.Allowed {
			if tel != nil {
				_ = tel.Events.PublishStage(telemetry.EventTypeGuardBlocked, report.RunID,
					string(StageGuard), verdict.Reason, telemetry.EventLevelError)
			}
			return NewGuardBlockedError(verdict.Reason,
				"review the listed resources; re-run with the destroy override to proceed deliberately")
		}
		if len(verdict.DestructiveKeys) > 0 {
			logger.WithField("destructive", len(verdict.DestructiveKeys)).
				Warn("destructive changes allowed by override")
		}
		return nil
	}); err != nil {
		return err
	}

	// APPLY is skipped when the plan found nothing to change or the caller
	// asked for plan-only. The saved plan artifact is applied verbatim.
	if opts.PlanOnly || report.Plan.Outcome == PlanNoChanges {
		reason := "plan-only run"
		if report.Plan.Outcome == PlanNoChanges {
			reason = "no changes pending"
		}
		p.skipStage(ctx, report, StageApply, reason)
		p.skipStage(ctx, report, StageVerify, reason)
		return nil
	}

	if err := p.runStage(ctx, report, StageApply, func(ctx context.Context) error {
		return p.engine.Apply(ctx, report.Plan)
	}); err != nil {
		return err
	}

	// VERIFY
	if opts.SkipVerify {
		p.skipStage(ctx, report, StageVerify, "verification disabled")
		return nil
	}
	if err := p.runStage(ctx, report, StageVerify, func(ctx context.Context) error {
		report.VerifyWarnings = p.verify(ctx, merged, report.RunID)
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// verify re-reads the applied snapshot and checks that every merged record
// is present. Discrepancies become warnings, never failures: the apply
// already succeeded and flipping a successful run to failed here would lie
// about what happened. The snapshot read is retried once before warning.
func (p *Pipeline) verify(ctx context.Context, merged *config.Document, runID string) []string {
	logger := telemetry.FromContext(ctx)
	tel := telemetry.FromTelemetryContext(ctx)

	applied, err := state.ReadSnapshot(ctx, p.stateReader())
	if err != nil {
		// Freshly-applied resources can register late; give the engine a
		// moment before the one retry.
		select {
		case <-ctx.Done():
		case <-time.After(verifyRetryDelay):
		}
		applied, err = state.ReadSnapshot(ctx, p.stateReader())
	}
	if err != nil {
		warning := fmt.Sprintf("verification could not read applied state: %v", err)
		logger.Warn(warning)
		return []string{warning}
	}

	var warnings []string
	appliedByCat := applied.ByCategory()
	for _, cat := range config.AllCategories() {
		for key := range merged.Records(cat) {
			if _, ok := appliedByCat[cat][key]; ok {
				continue
			}
			warning := fmt.Sprintf("%s/%s missing from applied state after apply", cat, key)
			warnings = append(warnings, warning)
			logger.WithCategory(string(cat)).Warn(warning)
			if tel != nil {
				tel.Metrics.RecordVerifyWarning(string(cat))
				_ = tel.Events.PublishStage(telemetry.EventTypeVerifyWarning, runID,
					string(StageVerify), warning, telemetry.EventLevelWarning)
			}
		}
	}
	return warnings
}

// applyClusterFact threads the detected cluster fact into the merge input.
// When a cluster already exists, collected cluster-category records are
// requests to create one and are dropped; the returned document is a fresh
// copy, the caller's document is never mutated. Every other shape of input
// passes through unchanged.
func (p *Pipeline) applyClusterFact(ctx context.Context, collected *config.Document, report *RunReport) *config.Document {
	if !report.Cluster.Exists {
		return collected
	}
	dropped := collected.Records(config.CategoryCluster)
	if len(dropped) == 0 {
		return collected
	}

	pruned := &config.Document{
		Connection:   collected.Connection,
		ReapplyToken: collected.ReapplyToken,
	}
	for _, cat := range config.AllCategories() {
		if cat == config.CategoryCluster {
			continue
		}
		for _, rec := range collected.Records(cat) {
			pruned.Put(rec)
		}
	}

	keys := make([]string, 0, len(dropped))
	for key := range dropped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	logger := telemetry.FromContext(ctx)
	for _, key := range keys {
		logger.WithCategory(string(config.CategoryCluster)).
			WithField("cluster", report.Cluster.Name).
			Warnf("cluster already exists, dropping collected cluster record %q", key)
	}
	return pruned
}

// stateReader exposes the apply engine's state-query surface.
func (p *Pipeline) stateReader() state.EngineStateReader {
	return p.engine
}

// runStage executes one stage with telemetry and history recording around
// it, checking cancellation first.
func (p *Pipeline) runStage(ctx context.Context, report *RunReport, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return NewConfigurationError("run cancelled", err).WithStage(stage)
	}

	tel := telemetry.FromTelemetryContext(ctx)
	logger := telemetry.FromContext(ctx).WithStage(string(stage))

	stageCtx := ctx
	if tel != nil {
		sctx, sp := tel.Tracer.StartStageSpan(ctx, report.RunID, string(stage))
		stageCtx = sctx
		defer sp.End()
		_ = tel.Events.PublishStage(telemetry.EventTypeStageStarted, report.RunID,
			string(stage), fmt.Sprintf("stage %s started", stage), telemetry.EventLevelInfo)
	}

	logger.Info("stage started")
	started := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(started)

	outcome := StageOutcome{Stage: stage, Result: StageResultSucceeded, Duration: elapsed}
	if err != nil {
		err = p.classify(err, stage)
		outcome.Result = StageResultFailed
		outcome.Error = err.Error()
	}
	report.Stages = append(report.Stages, outcome)
	p.recordStage(ctx, report.RunID, outcome)

	if tel != nil {
		tel.Metrics.RecordStage(string(stage), string(outcome.Result), elapsed)
		eventType := telemetry.EventTypeStageCompleted
		level := telemetry.EventLevelInfo
		msg := fmt.Sprintf("stage %s completed", stage)
		if err != nil {
			eventType = telemetry.EventTypeStageFailed
			level = telemetry.EventLevelError
			msg = fmt.Sprintf("stage %s failed: %v", stage, err)
		}
		_ = tel.Events.PublishStage(eventType, report.RunID, string(stage), msg, level)
	}

	if err != nil {
		logger.WithError(err).WithField("duration", elapsed.String()).Error("stage failed")
		return err
	}
	logger.WithField("duration", elapsed.String()).Info("stage completed")
	return nil
}

// skipStage records a stage that never ran.
func (p *Pipeline) skipStage(ctx context.Context, report *RunReport, stage Stage, reason string) {
	outcome := StageOutcome{Stage: stage, Result: StageResultSkipped}
	report.Stages = append(report.Stages, outcome)
	p.recordStage(ctx, report.RunID, outcome)
	telemetry.FromContext(ctx).WithStage(string(stage)).
		WithField("reason", reason).Info("stage skipped")
}

// classify guarantees every stage error is a *PipelineError with its stage.
func (p *Pipeline) classify(err error, stage Stage) error {
	var perr *PipelineError
	if errors.As(err, &perr) {
		if perr.Stage == "" {
			return perr.WithStage(stage)
		}
		return perr
	}
	return NewApplyEngineError(err.Error(), err).WithStage(stage)
}

// recordRunStart persists the new run. A failed write is logged, not fatal:
// history never blocks a deployment.
func (p *Pipeline) recordRunStart(ctx context.Context, runID string) {
	if p.store == nil {
		return
	}
	now := time.Now()
	run := &stores.Run{
		ID:        runID,
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record run start")
	}
}

func (p *Pipeline) recordRunEnd(ctx context.Context, runID string, status RunStatus, runErr error) {
	if p.store == nil {
		return
	}
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	storeStatus := stores.RunStatus(status)
	if err := p.store.UpdateRunStatus(ctx, runID, storeStatus, errMsg); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record run completion")
	}
}

func (p *Pipeline) recordStage(ctx context.Context, runID string, outcome StageOutcome) {
	if p.store == nil {
		return
	}
	now := time.Now()
	startedAt := now.Add(-outcome.Duration)
	rec := &stores.StageRecord{
		RunID:       runID,
		Stage:       string(outcome.Stage),
		Result:      string(outcome.Result),
		StartedAt:   startedAt,
		CompletedAt: &now,
	}
	if outcome.Error != "" {
		msg := outcome.Error
		rec.Error = &msg
	}
	if err := p.store.RecordStage(ctx, rec); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record stage")
	}
}
