package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/pvconverge/pvconverge/pkg/artifact"
	"github.com/pvconverge/pvconverge/pkg/config"
)

// fakeApplyEngine scripts the apply engine surface and records calls.
type fakeApplyEngine struct {
	initErr     error
	validateErr error
	planResult  PlanResult
	planErr     error
	applyErr    error

	stateAddresses []string
	stateAttrs     map[string]map[string]string
	stateErr       error

	initCalls     int
	validateCalls int
	planCalls     int
	applyCalls    int
	appliedPlans  []PlanResult
}

func (f *fakeApplyEngine) Init(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeApplyEngine) Validate(ctx context.Context) error {
	f.validateCalls++
	return f.validateErr
}

func (f *fakeApplyEngine) Plan(ctx context.Context) (PlanResult, error) {
	f.planCalls++
	return f.planResult, f.planErr
}

func (f *fakeApplyEngine) Apply(ctx context.Context, plan PlanResult) error {
	f.applyCalls++
	f.appliedPlans = append(f.appliedPlans, plan)
	return f.applyErr
}

func (f *fakeApplyEngine) StateList(ctx context.Context) ([]string, error) {
	return f.stateAddresses, f.stateErr
}

func (f *fakeApplyEngine) StateShow(ctx context.Context, address string) (map[string]string, error) {
	attrs, ok := f.stateAttrs[address]
	if !ok {
		return nil, errors.New("no such resource")
	}
	return attrs, nil
}

// fakeUploader records artifact uploads.
type fakeUploader struct {
	localPaths  []string
	remotePaths []string
	modes       []uint32
	err         error
}

func (f *fakeUploader) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error {
	f.localPaths = append(f.localPaths, localPath)
	f.remotePaths = append(f.remotePaths, remotePath)
	f.modes = append(f.modes, mode)
	return f.err
}

func testDocument() *config.Document {
	doc := &config.Document{
		Connection: config.ConnectionConfig{
			Host:           "pve1.example.com",
			User:           "root",
			CredentialPath: "/etc/pvconverge/id_ed25519",
		},
	}
	doc.Put(config.ResourceRecord{
		Category:   config.CategoryVMs,
		Key:        "web",
		Enabled:    true,
		Attributes: map[string]any{"vmid": 100, "name": "web"},
	})
	return doc
}

func testPipeline(t *testing.T, fake *fakeApplyEngine, uploader ArtifactUploader) *Pipeline {
	t.Helper()

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}

	p, err := NewPipeline(PipelineConfig{
		Engine:             fake,
		Uploader:           uploader,
		Artifacts:          artifacts,
		RemoteArtifactPath: "/etc/pvconverge/deploy/desired-state.auto.tfvars.json",
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

// TestPipelineSuccess walks the full stage machine with pending changes.
func TestPipelineSuccess(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{
			Outcome:      PlanChangesPending,
			ArtifactPath: "/etc/pvconverge/deploy/pending.tfplan",
			Summary:      "1 to add",
		},
		stateAddresses: []string{"proxmox_vm_qemu.web"},
		stateAttrs: map[string]map[string]string{
			"proxmox_vm_qemu.web": {"vmid": "100", "name": "web"},
		},
	}
	uploader := &fakeUploader{}
	p := testPipeline(t, fake, uploader)

	report, err := p.Run(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", report.Status)
	}
	if fake.applyCalls != 1 {
		t.Fatalf("apply called %d times, want 1", fake.applyCalls)
	}
	if got := fake.appliedPlans[0].ArtifactPath; got != "/etc/pvconverge/deploy/pending.tfplan" {
		t.Errorf("apply consumed plan %q, not the saved artifact", got)
	}
	if len(report.VerifyWarnings) != 0 {
		t.Errorf("unexpected verify warnings: %v", report.VerifyWarnings)
	}
	if len(uploader.localPaths) != 1 {
		t.Fatalf("artifact uploaded %d times, want 1", len(uploader.localPaths))
	}
	if uploader.modes[0] != 0600 {
		t.Errorf("artifact uploaded with mode %o, want 0600", uploader.modes[0])
	}
	if len(report.Stages) != 6 {
		t.Errorf("recorded %d stages, want 6", len(report.Stages))
	}
}

// TestPipelineFailFast checks a validate failure stops the run before plan.
func TestPipelineFailFast(t *testing.T) {
	fake := &fakeApplyEngine{
		validateErr: errors.New("malformed tfvars"),
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{})
	if err == nil {
		t.Fatal("Run() succeeded despite validate failure")
	}
	if report.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if fake.planCalls != 0 || fake.applyCalls != 0 {
		t.Errorf("later stages ran after failure: plan=%d apply=%d", fake.planCalls, fake.applyCalls)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error is not a *PipelineError: %v", err)
	}
	if perr.Stage != StageValidate {
		t.Errorf("error stage = %s, want validate", perr.Stage)
	}
}

// TestPipelineGuardBlocks checks a destructive identity change blocks the
// run before apply.
func TestPipelineGuardBlocks(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanChangesPending, ArtifactPath: "/tmp/p.tfplan"},
		stateAddresses: []string{"proxmox_vm_qemu.web"},
		stateAttrs: map[string]map[string]string{
			// Applied vmid differs from the collected 100
			"proxmox_vm_qemu.web": {"vmid": "900", "name": "web"},
		},
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{})
	if err == nil {
		t.Fatal("Run() succeeded despite destructive diff")
	}
	if !IsGuardBlocked(err) {
		t.Errorf("error not classified guard_blocked: %v", err)
	}
	if fake.applyCalls != 0 {
		t.Error("apply ran after guard block")
	}
	if len(report.Guard.DestructiveKeys) != 1 {
		t.Errorf("verdict diff = %v, want one entry", report.Guard.DestructiveKeys)
	}
}

// TestPipelineOverrideProceeds checks the destroy override lets the same
// run through while keeping the diff in the report.
func TestPipelineOverrideProceeds(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanChangesPending, ArtifactPath: "/tmp/p.tfplan"},
		stateAddresses: []string{"proxmox_vm_qemu.web"},
		stateAttrs: map[string]map[string]string{
			"proxmox_vm_qemu.web": {"vmid": "900", "name": "web"},
		},
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{OverrideDestroy: true, SkipVerify: true})
	if err != nil {
		t.Fatalf("Run() failed despite override: %v", err)
	}
	if fake.applyCalls != 1 {
		t.Errorf("apply called %d times, want 1", fake.applyCalls)
	}
	if len(report.Guard.DestructiveKeys) != 1 {
		t.Error("override hid the destructive diff from the report")
	}
}

// TestPipelineNoChangesSkipsApply checks an up-to-date state short-circuits
// apply and verify while still succeeding.
func TestPipelineNoChangesSkipsApply(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanNoChanges},
		stateAddresses: []string{"proxmox_vm_qemu.web"},
		stateAttrs: map[string]map[string]string{
			"proxmox_vm_qemu.web": {"vmid": "100", "name": "web"},
		},
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", report.Status)
	}
	if fake.applyCalls != 0 {
		t.Error("apply ran on a no-change plan")
	}

	var applyResult, verifyResult StageResult
	for _, s := range report.Stages {
		switch s.Stage {
		case StageApply:
			applyResult = s.Result
		case StageVerify:
			verifyResult = s.Result
		}
	}
	if applyResult != StageResultSkipped || verifyResult != StageResultSkipped {
		t.Errorf("apply=%s verify=%s, want both skipped", applyResult, verifyResult)
	}
}

// TestPipelineVerifyWarningsDoNotFail checks post-apply discrepancies
// surface as warnings on a successful run.
func TestPipelineVerifyWarningsDoNotFail(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanChangesPending, ArtifactPath: "/tmp/p.tfplan"},
		// State stays empty: the merged record never shows up on re-read
		stateAddresses: nil,
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("verify discrepancy failed the run: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", report.Status)
	}
	if len(report.VerifyWarnings) == 0 {
		t.Fatal("expected a verify warning for the missing record")
	}
}

// TestPipelinePreservesErrorClass checks a conflict from the engine keeps
// its classification through the stage machinery.
func TestPipelinePreservesErrorClass(t *testing.T) {
	fake := &fakeApplyEngine{
		planErr: NewConflictError("state lock held by another operation", nil),
	}
	p := testPipeline(t, fake, &fakeUploader{})

	_, err := p.Run(context.Background(), testDocument(), Options{})
	if !IsConflict(err) {
		t.Fatalf("conflict classification lost: %v", err)
	}
	var perr *PipelineError
	if errors.As(err, &perr) && perr.Stage != StagePlan {
		t.Errorf("error stage = %s, want plan", perr.Stage)
	}
}

// TestPipelineCancellation checks cancellation between stages ends the run
// as cancelled.
func TestPipelineCancellation(t *testing.T) {
	fake := &fakeApplyEngine{}
	p := testPipeline(t, fake, &fakeUploader{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx, testDocument(), Options{})
	if err == nil {
		t.Fatal("Run() succeeded on a cancelled context")
	}
	if report.Status != RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", report.Status)
	}
}

// fakeStatusQuerier serves a canned structured cluster status.
type fakeStatusQuerier struct {
	structured []byte
}

func (f *fakeStatusQuerier) QueryClusterStatus(ctx context.Context) ([]byte, error) {
	return f.structured, nil
}

func (f *fakeStatusQuerier) QueryClusterStatusText(ctx context.Context) (string, error) {
	return "", errors.New("unreachable")
}

// TestPipelineDropsClusterRecordWhenClusterExists checks the detected fact
// reaches the merge input: a collected cluster-creation record is dropped
// when the platform already runs a cluster, while everything else survives.
func TestPipelineDropsClusterRecordWhenClusterExists(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanNoChanges, Summary: "no changes"},
	}
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	p, err := NewPipeline(PipelineConfig{
		Engine:    fake,
		Uploader:  &fakeUploader{},
		Artifacts: artifacts,
		Querier: &fakeStatusQuerier{
			structured: []byte(`[{"type":"cluster","name":"prod","quorate":1,"nodes":2},{"type":"node","name":"pve1"},{"type":"node","name":"pve2"}]`),
		},
		RemoteArtifactPath: "/etc/pvconverge/deploy/desired-state.auto.tfvars.json",
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	collected := testDocument()
	collected.Put(config.ResourceRecord{
		Category:   config.CategoryCluster,
		Key:        "prod",
		Enabled:    true,
		Attributes: map[string]any{"name": "prod", "nodes": []any{"pve1", "pve2"}},
	})

	report, err := p.Run(context.Background(), collected, Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !report.Cluster.Exists {
		t.Fatal("detection did not report an existing cluster")
	}

	written, err := artifact.ReadFile(report.ArtifactPath)
	if err != nil {
		t.Fatalf("failed to read back artifact: %v", err)
	}
	if n := len(written.Records(config.CategoryCluster)); n != 0 {
		t.Errorf("merged document still carries %d cluster record(s)", n)
	}
	if _, ok := written.Records(config.CategoryVMs)["web"]; !ok {
		t.Error("vm record lost while dropping the cluster record")
	}
	if _, ok := collected.Records(config.CategoryCluster)["prod"]; !ok {
		t.Error("caller's document was mutated")
	}
}

// TestPipelineKeepsClusterRecordWhenStandalone checks a cluster-creation
// record passes through when no cluster exists yet.
func TestPipelineKeepsClusterRecordWhenStandalone(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanNoChanges, Summary: "no changes"},
	}
	p := testPipeline(t, fake, &fakeUploader{})

	collected := testDocument()
	collected.Put(config.ResourceRecord{
		Category:   config.CategoryCluster,
		Key:        "prod",
		Enabled:    true,
		Attributes: map[string]any{"name": "prod", "nodes": []any{"pve1"}},
	})

	report, err := p.Run(context.Background(), collected, Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	written, err := artifact.ReadFile(report.ArtifactPath)
	if err != nil {
		t.Fatalf("failed to read back artifact: %v", err)
	}
	if _, ok := written.Records(config.CategoryCluster)["prod"]; !ok {
		t.Error("cluster-creation record dropped without an existing cluster")
	}
}

// TestPipelinePlanOnly checks plan-only runs stop after the guard.
func TestPipelinePlanOnly(t *testing.T) {
	fake := &fakeApplyEngine{
		planResult: PlanResult{Outcome: PlanChangesPending, ArtifactPath: "/tmp/p.tfplan", Summary: "1 to add"},
	}
	p := testPipeline(t, fake, &fakeUploader{})

	report, err := p.Run(context.Background(), testDocument(), Options{PlanOnly: true})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if fake.applyCalls != 0 {
		t.Error("plan-only run applied")
	}
	if report.Plan.Summary != "1 to add" {
		t.Errorf("plan summary lost: %q", report.Plan.Summary)
	}
}
