package state

import (
	"context"
	"errors"
	"testing"

	"github.com/pvconverge/pvconverge/pkg/config"
)

// fakeReader scripts the engine's state surface.
type fakeReader struct {
	addresses []string
	listErr   error
	attrs     map[string]map[string]string
	showErrs  map[string]error
}

func (f *fakeReader) StateList(ctx context.Context) ([]string, error) {
	return f.addresses, f.listErr
}

func (f *fakeReader) StateShow(ctx context.Context, address string) (map[string]string, error) {
	if err, ok := f.showErrs[address]; ok {
		return nil, err
	}
	return f.attrs[address], nil
}

// TestReadSnapshot checks addresses map to categories and keys.
func TestReadSnapshot(t *testing.T) {
	reader := &fakeReader{
		addresses: []string{"proxmox_vm_qemu.web", "proxmox_lxc.cache", "proxmox_storage.local-lvm"},
		attrs: map[string]map[string]string{
			"proxmox_vm_qemu.web":       {"vmid": "100"},
			"proxmox_lxc.cache":         {"vmid": "101"},
			"proxmox_storage.local-lvm": {"type": "lvmthin"},
		},
	}

	snap, err := ReadSnapshot(context.Background(), reader)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap.Entries))
	}

	byCat := snap.ByCategory()
	if _, ok := byCat[config.CategoryVMs]["web"]; !ok {
		t.Error("vm address not mapped to vms/web")
	}
	if _, ok := byCat[config.CategoryContainers]["cache"]; !ok {
		t.Error("lxc address not mapped to containers/cache")
	}
	if _, ok := byCat[config.CategoryStorage]["local-lvm"]; !ok {
		t.Error("storage address not mapped to storage/local-lvm")
	}
}

// TestReadSnapshotDegradesOnListFailure checks an unreadable state becomes
// an empty snapshot plus the error for logging.
func TestReadSnapshotDegradesOnListFailure(t *testing.T) {
	reader := &fakeReader{listErr: errors.New("no state file")}

	snap, err := ReadSnapshot(context.Background(), reader)
	if err == nil {
		t.Error("listing error swallowed")
	}
	if !snap.Empty() {
		t.Error("failed listing did not degrade to an empty snapshot")
	}
}

// TestReadSnapshotSkipsBadEntries checks unknown addresses and failed
// shows drop individually.
func TestReadSnapshotSkipsBadEntries(t *testing.T) {
	reader := &fakeReader{
		addresses: []string{
			"proxmox_vm_qemu.web",
			"data.external.something",
			"proxmox_vm_qemu.broken",
		},
		attrs: map[string]map[string]string{
			"proxmox_vm_qemu.web": {"vmid": "100"},
		},
		showErrs: map[string]error{
			"proxmox_vm_qemu.broken": errors.New("resource vanished"),
		},
	}

	snap, err := ReadSnapshot(context.Background(), reader)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
	if snap.Entries[0].Key != "web" {
		t.Errorf("surviving entry = %s, want web", snap.Entries[0].Key)
	}
}

// TestCoerceEntryTypes checks string attributes coerce to their typed
// forms.
func TestCoerceEntryTypes(t *testing.T) {
	rec, err := CoerceEntry(Entry{
		Category: config.CategoryVMs,
		Key:      "web",
		RawAttributes: map[string]string{
			"vmid":   "100",
			"cores":  "4",
			"memory": "8192",
			"onboot": "1",
			"agent":  "false",
			"name":   "web",
		},
	})
	if err != nil {
		t.Fatalf("CoerceEntry() failed: %v", err)
	}

	if v, ok := rec.Attributes["vmid"].(int); !ok || v != 100 {
		t.Errorf("vmid = %v (%T), want int 100", rec.Attributes["vmid"], rec.Attributes["vmid"])
	}
	if v, ok := rec.Attributes["onboot"].(bool); !ok || !v {
		t.Errorf("onboot = %v, want true", rec.Attributes["onboot"])
	}
	if v, ok := rec.Attributes["agent"].(bool); !ok || v {
		t.Errorf("agent = %v, want false", rec.Attributes["agent"])
	}
	if v, ok := rec.Attributes["name"].(string); !ok || v != "web" {
		t.Errorf("name = %v, want string passthrough", rec.Attributes["name"])
	}
	if !rec.Enabled {
		t.Error("reconstructed record not enabled")
	}
}

// TestCoerceEntryRejectsBadValues checks missing identity and malformed
// values fail individually.
func TestCoerceEntryRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{
			name: "missing vmid",
			entry: Entry{
				Category:      config.CategoryVMs,
				Key:           "web",
				RawAttributes: map[string]string{"name": "web"},
			},
		},
		{
			name: "non-numeric vmid",
			entry: Entry{
				Category:      config.CategoryVMs,
				Key:           "web",
				RawAttributes: map[string]string{"vmid": "abc"},
			},
		},
		{
			name: "bad boolean",
			entry: Entry{
				Category:      config.CategoryVMs,
				Key:           "web",
				RawAttributes: map[string]string{"vmid": "100", "onboot": "maybe"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CoerceEntry(tt.entry); err == nil {
				t.Error("CoerceEntry() accepted a bad entry")
			}
		})
	}
}
