package guard

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/state"
)

func testDocument(records ...config.ResourceRecord) *config.Document {
	doc := &config.Document{}
	for _, rec := range records {
		doc.Put(rec)
	}
	return doc
}

func vmRecord(key string, vmid int) config.ResourceRecord {
	return config.ResourceRecord{
		Category:   config.CategoryVMs,
		Key:        key,
		Enabled:    true,
		Attributes: map[string]any{"vmid": vmid, "name": key},
	}
}

func vmEntry(key, vmid string) state.Entry {
	return state.Entry{
		Category:      config.CategoryVMs,
		Key:           key,
		RawAttributes: map[string]string{"vmid": vmid, "name": key},
	}
}

func merge(collected *config.Document, applied *state.Snapshot) *config.Document {
	return state.NewMerger().Merge(context.Background(), collected, applied)
}

// TestGuardAllowsPreservedState covers the happy path: the category
// collected nothing new, the merge carried the applied entries forward,
// nothing is destroyed.
func TestGuardAllowsPreservedState(t *testing.T) {
	collected := testDocument(config.ResourceRecord{
		Category:   config.CategoryStorage,
		Key:        "local-lvm",
		Enabled:    true,
		Attributes: map[string]any{"type": "lvmthin"},
	})
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
		vmEntry("db", "101"),
	}}
	merged := merge(collected, applied)

	verdict := Evaluate(merged, applied, collected, false)
	if !verdict.Allowed {
		t.Fatalf("guard blocked a preserving deployment: %s", verdict.Reason)
	}
	if len(verdict.DestructiveKeys) != 0 {
		t.Errorf("unexpected destructive keys: %v", verdict.DestructiveKeys)
	}
}

// TestGuardBlocksDroppedResource covers the missing-key diff: an applied
// resource absent from the merged state blocks the run.
func TestGuardBlocksDroppedResource(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
		vmEntry("db", "101"),
	}}
	// Simulate a merge that lost the preserved entry
	merged := testDocument(vmRecord("web", 100))

	verdict := Evaluate(merged, applied, collected, false)
	if verdict.Allowed {
		t.Fatal("guard allowed a deployment that drops an applied resource")
	}
	want := []ResourceRef{{Category: config.CategoryVMs, Key: "db"}}
	if !reflect.DeepEqual(verdict.DestructiveKeys, want) {
		t.Errorf("destructive keys = %v, want %v", verdict.DestructiveKeys, want)
	}
	if !strings.Contains(verdict.Reason, "vms/db") {
		t.Errorf("reason does not name the doomed resource: %s", verdict.Reason)
	}
	if !strings.Contains(verdict.Reason, "override") {
		t.Errorf("reason does not mention the override remedy: %s", verdict.Reason)
	}
}

// TestGuardBlocksIdentityChange covers destroy-and-recreate: same key, new
// vmid.
func TestGuardBlocksIdentityChange(t *testing.T) {
	collected := testDocument(vmRecord("web", 200))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
	}}
	merged := merge(collected, applied)

	verdict := Evaluate(merged, applied, collected, false)
	if verdict.Allowed {
		t.Fatal("guard allowed an identity change")
	}
	want := []ResourceRef{{Category: config.CategoryVMs, Key: "web"}}
	if !reflect.DeepEqual(verdict.DestructiveKeys, want) {
		t.Errorf("destructive keys = %v, want %v", verdict.DestructiveKeys, want)
	}
}

// TestGuardIdentityComparedTyped checks the applied "100" equals the
// collected 100: string-vs-int must not read as a change.
func TestGuardIdentityComparedTyped(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
	}}
	merged := merge(collected, applied)

	verdict := Evaluate(merged, applied, collected, false)
	if !verdict.Allowed {
		t.Fatalf("typed identity comparison failed: %s", verdict.Reason)
	}
}

// TestGuardOverrideAllowsButLists checks the override proceeds while still
// reporting every doomed resource.
func TestGuardOverrideAllowsButLists(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
		vmEntry("db", "101"),
	}}
	merged := testDocument(vmRecord("web", 100))

	verdict := Evaluate(merged, applied, collected, true)
	if !verdict.Allowed {
		t.Fatal("override did not allow the deployment")
	}
	if len(verdict.DestructiveKeys) != 1 || verdict.DestructiveKeys[0].Key != "db" {
		t.Errorf("override verdict must still list the diff, got %v", verdict.DestructiveKeys)
	}
}

// TestGuardBlocksFullyEmptyRun checks the collector-outage case: no
// category collected anything but state exists, so the run is blocked even
// though the merge would preserve everything. The verdict must name every
// at-risk resource, not just say the run was empty.
func TestGuardBlocksFullyEmptyRun(t *testing.T) {
	collected := &config.Document{}
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web1", "100"),
		vmEntry("db1", "101"),
	}}
	merged := merge(collected, applied)

	verdict := Evaluate(merged, applied, collected, false)
	if verdict.Allowed {
		t.Fatal("guard allowed a run with no collected content against live state")
	}
	if !strings.Contains(verdict.Reason, "no category") {
		t.Errorf("reason does not explain the empty-run block: %s", verdict.Reason)
	}
	for _, name := range []string{"vms/web1", "vms/db1"} {
		if !strings.Contains(verdict.Reason, name) {
			t.Errorf("reason does not mention %s: %s", name, verdict.Reason)
		}
	}
	want := []ResourceRef{
		{Category: config.CategoryVMs, Key: "db1"},
		{Category: config.CategoryVMs, Key: "web1"},
	}
	if !reflect.DeepEqual(verdict.DestructiveKeys, want) {
		t.Errorf("destructive keys = %v, want %v", verdict.DestructiveKeys, want)
	}
}

// TestGuardAllowsEmptyFirstRun checks nothing-applied, nothing-collected is
// a clean no-op.
func TestGuardAllowsEmptyFirstRun(t *testing.T) {
	verdict := Evaluate(&config.Document{}, &state.Snapshot{}, &config.Document{}, false)
	if !verdict.Allowed {
		t.Fatalf("empty first run blocked: %s", verdict.Reason)
	}
}

// TestGuardSkipsRunScopedCategories checks applied entries in run-scoped
// categories with no collected input never count as deletions.
func TestGuardSkipsRunScopedCategories(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("web", "100"),
		{
			Category:      config.CategorySnapshots,
			Key:           "nightly",
			RawAttributes: map[string]string{"vmname": "web"},
		},
	}}
	merged := merge(collected, applied)

	verdict := Evaluate(merged, applied, collected, false)
	if !verdict.Allowed {
		t.Fatalf("run-scoped category counted as destructive: %s", verdict.Reason)
	}
}

// TestGuardDeterministic checks identical inputs give byte-identical
// verdicts, including diff ordering.
func TestGuardDeterministic(t *testing.T) {
	collected := testDocument(vmRecord("other", 300))
	applied := &state.Snapshot{Entries: []state.Entry{
		vmEntry("zeta", "102"),
		vmEntry("alpha", "100"),
		vmEntry("mid", "101"),
	}}
	merged := testDocument(vmRecord("other", 300))

	first := Evaluate(merged, applied, collected, false)
	for i := 0; i < 10; i++ {
		again := Evaluate(merged, applied, collected, false)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("verdict not deterministic:\nfirst: %+v\nagain: %+v", first, again)
		}
	}

	wantOrder := []string{"alpha", "mid", "zeta"}
	for i, ref := range first.DestructiveKeys {
		if ref.Key != wantOrder[i] {
			t.Fatalf("diff not sorted: got %v", first.DestructiveKeys)
		}
	}
}
