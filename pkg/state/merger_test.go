package state

import (
	"context"
	"testing"

	"github.com/pvconverge/pvconverge/pkg/config"
)

func testDocument(records ...config.ResourceRecord) *config.Document {
	doc := &config.Document{
		Connection: config.ConnectionConfig{
			Host:           "pve1.example.com",
			User:           "root",
			CredentialPath: "/etc/pvconverge/id_ed25519",
		},
	}
	for _, rec := range records {
		doc.Put(rec)
	}
	return doc
}

func vmRecord(key string, vmid int) config.ResourceRecord {
	return config.ResourceRecord{
		Category: config.CategoryVMs,
		Key:      key,
		Enabled:  true,
		Attributes: map[string]any{
			"vmid":   vmid,
			"name":   key,
			"cores":  2,
			"memory": 2048,
		},
	}
}

func vmEntry(key string, vmid string) Entry {
	return Entry{
		Category: config.CategoryVMs,
		Key:      key,
		RawAttributes: map[string]string{
			"vmid":   vmid,
			"name":   key,
			"cores":  "2",
			"memory": "2048",
		},
	}
}

// TestMergePreservesAppliedEntries checks that applied resources in a
// preservation-aware category survive a run that did not collect them.
func TestMergePreservesAppliedEntries(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &Snapshot{Entries: []Entry{
		vmEntry("db", "101"),
	}}

	merged := NewMerger().Merge(context.Background(), collected, applied)

	vms := merged.Records(config.CategoryVMs)
	if len(vms) != 2 {
		t.Fatalf("expected 2 vms after merge, got %d", len(vms))
	}
	db, ok := vms["db"]
	if !ok {
		t.Fatal("applied vm 'db' was not preserved")
	}
	if vmid, ok := db.Attributes["vmid"].(int); !ok || vmid != 101 {
		t.Errorf("preserved vmid not coerced to int: %v (%T)", db.Attributes["vmid"], db.Attributes["vmid"])
	}
}

// TestMergeCollectedReplacesApplied checks a collected record with the same
// key fully replaces the reconstructed one rather than merging attributes.
func TestMergeCollectedReplacesApplied(t *testing.T) {
	rec := vmRecord("web", 100)
	rec.Attributes["cores"] = 8
	delete(rec.Attributes, "memory")
	collected := testDocument(rec)

	applied := &Snapshot{Entries: []Entry{
		vmEntry("web", "100"),
	}}

	merged := NewMerger().Merge(context.Background(), collected, applied)

	web := merged.Records(config.CategoryVMs)["web"]
	if cores, _ := web.Attributes["cores"].(int); cores != 8 {
		t.Errorf("collected cores not taken: got %v", web.Attributes["cores"])
	}
	if _, ok := web.Attributes["memory"]; ok {
		t.Error("replace was attribute-wise merge: applied memory leaked into merged record")
	}
}

// TestMergeSkipsUnreconstructableEntry checks that a single bad snapshot
// entry is dropped without failing the merge or dropping its neighbors.
func TestMergeSkipsUnreconstructableEntry(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &Snapshot{Entries: []Entry{
		{
			Category:      config.CategoryVMs,
			Key:           "broken",
			RawAttributes: map[string]string{"vmid": "not-a-number"},
		},
		vmEntry("db", "101"),
	}}

	merged := NewMerger().Merge(context.Background(), collected, applied)

	vms := merged.Records(config.CategoryVMs)
	if _, ok := vms["broken"]; ok {
		t.Error("unreconstructable entry was kept")
	}
	if _, ok := vms["db"]; !ok {
		t.Error("healthy neighbor entry was dropped along with the bad one")
	}
	if _, ok := vms["web"]; !ok {
		t.Error("collected record missing after merge")
	}
}

// TestMergeRunScopedCategoriesNotPreserved checks that snapshot entries in
// run-scoped categories are never carried forward.
func TestMergeRunScopedCategoriesNotPreserved(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &Snapshot{Entries: []Entry{
		{
			Category:      config.CategorySnapshots,
			Key:           "nightly",
			RawAttributes: map[string]string{"vmname": "web"},
		},
	}}

	merged := NewMerger().Merge(context.Background(), collected, applied)

	if n := len(merged.Records(config.CategorySnapshots)); n != 0 {
		t.Errorf("run-scoped snapshot entries carried forward: %d", n)
	}
}

// TestMergeEmptySnapshot checks a first run merges cleanly against nothing.
func TestMergeEmptySnapshot(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))

	merged := NewMerger().Merge(context.Background(), collected, &Snapshot{})

	if merged.RecordCount() != 1 {
		t.Fatalf("expected 1 record, got %d", merged.RecordCount())
	}
}

// TestMergeDoesNotMutateInputs checks the merged document is freshly built.
func TestMergeDoesNotMutateInputs(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	applied := &Snapshot{Entries: []Entry{vmEntry("db", "101")}}

	merged := NewMerger().Merge(context.Background(), collected, applied)
	merged.Records(config.CategoryVMs)["web"].Attributes["cores"] = 99

	if collected.Records(config.CategoryVMs)["web"].Attributes["cores"] != 2 {
		t.Error("mutation of merged record leaked into collected input")
	}
	if len(collected.Records(config.CategoryVMs)) != 1 {
		t.Error("collected document gained records during merge")
	}
}

// TestMergeCarriesConnectionAndToken checks run-level fields pass through.
func TestMergeCarriesConnectionAndToken(t *testing.T) {
	collected := testDocument(vmRecord("web", 100))
	collected.ReapplyToken = "2026-08-31"

	merged := NewMerger().Merge(context.Background(), collected, &Snapshot{})

	if merged.Connection.Host != "pve1.example.com" {
		t.Errorf("connection not carried: %q", merged.Connection.Host)
	}
	if merged.ReapplyToken != "2026-08-31" {
		t.Errorf("reapply token not carried: %q", merged.ReapplyToken)
	}
}
