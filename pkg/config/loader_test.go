package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeKey drops a fake private key for credential path resolution.
func writeKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("fake key material"), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}

func documentYAML(keyPath string) string {
	return fmt.Sprintf(`
connection:
  host: pve1.example.com
  user: root
  credential_path: %s

resources:
  vms:
    web:
      enabled: true
      attributes:
        vmid: 100
        name: web
        cores: 2
  storage:
    local-lvm:
      enabled: true
      attributes:
        type: lvmthin
`, keyPath)
}

// TestLoadValidDocument tests the happy path and key/category filling.
func TestLoadValidDocument(t *testing.T) {
	keyPath := writeKey(t)
	doc, err := NewLoader().Load([]byte(documentYAML(keyPath)))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if doc.Connection.Port != 22 {
		t.Errorf("default port = %d, want 22", doc.Connection.Port)
	}
	if doc.Connection.CredentialPath != keyPath {
		t.Errorf("credential path = %q, want %q", doc.Connection.CredentialPath, keyPath)
	}

	web, ok := doc.Records(CategoryVMs)["web"]
	if !ok {
		t.Fatal("vm record missing")
	}
	if web.Category != CategoryVMs || web.Key != "web" {
		t.Errorf("record position not filled: category=%s key=%s", web.Category, web.Key)
	}
	if doc.RecordCount() != 2 {
		t.Errorf("record count = %d, want 2", doc.RecordCount())
	}
}

// TestLoadRejectsUnknownCategory tests category name validation.
func TestLoadRejectsUnknownCategory(t *testing.T) {
	keyPath := writeKey(t)
	data := fmt.Sprintf(`
connection:
  host: pve1.example.com
  user: root
  credential_path: %s

resources:
  gadgets:
    thing:
      attributes:
        name: thing
`, keyPath)

	_, err := NewLoader().Load([]byte(data))
	if err == nil {
		t.Fatal("Load() accepted an unknown category")
	}
	if !strings.Contains(err.Error(), "gadgets") {
		t.Errorf("error does not name the bad category: %v", err)
	}
}

// TestLoadRejectsMissingIdentity tests vms records need a vmid.
func TestLoadRejectsMissingIdentity(t *testing.T) {
	keyPath := writeKey(t)
	data := fmt.Sprintf(`
connection:
  host: pve1.example.com
  user: root
  credential_path: %s

resources:
  vms:
    web:
      attributes:
        name: web
`, keyPath)

	_, err := NewLoader().Load([]byte(data))
	if err == nil {
		t.Fatal("Load() accepted a vm without vmid")
	}
	if !strings.Contains(err.Error(), "vmid") {
		t.Errorf("error does not name the missing attribute: %v", err)
	}
}

// TestLoadRejectsMissingCredential tests the credential path must exist.
func TestLoadRejectsMissingCredential(t *testing.T) {
	data := `
connection:
  host: pve1.example.com
  user: root
  credential_path: /nonexistent/id_ed25519

resources:
  storage:
    local:
      attributes:
        type: dir
`
	_, err := NewLoader().Load([]byte(data))
	if err == nil {
		t.Fatal("Load() accepted a missing credential path")
	}
}

// TestLoadRejectsDirectoryCredential tests directories are not keys.
func TestLoadRejectsDirectoryCredential(t *testing.T) {
	dir := t.TempDir()
	data := fmt.Sprintf(`
connection:
  host: pve1.example.com
  user: root
  credential_path: %s

resources: {}
`, dir)

	_, err := NewLoader().Load([]byte(data))
	if err == nil {
		t.Fatal("Load() accepted a directory as credential path")
	}
}

// TestLoadRejectsIncompleteConnection tests required connection fields.
func TestLoadRejectsIncompleteConnection(t *testing.T) {
	data := `
connection:
  host: pve1.example.com

resources: {}
`
	_, err := NewLoader().Load([]byte(data))
	if err == nil {
		t.Fatal("Load() accepted a connection without user and credentials")
	}
}

// TestCategoryPreservation pins which categories carry applied state
// forward and which are scoped to a single run.
func TestCategoryPreservation(t *testing.T) {
	preserved := map[Category]bool{
		CategoryVMs:        true,
		CategoryContainers: true,
		CategoryStorage:    true,
		CategoryNetworks:   true,
		CategoryFirewall:   true,
		CategoryBackups:    true,
		CategoryPools:      true,
		CategorySnapshots:  false,
		CategoryCluster:    false,
	}
	for _, cat := range AllCategories() {
		want, ok := preserved[cat]
		if !ok {
			t.Fatalf("category %s missing from expectation table", cat)
		}
		if cat.Preserved() != want {
			t.Errorf("%s.Preserved() = %v, want %v", cat, cat.Preserved(), want)
		}
	}
}

// TestIdentityAttr pins the identity attribute per category.
func TestIdentityAttr(t *testing.T) {
	if got := CategoryVMs.IdentityAttr(); got != "vmid" {
		t.Errorf("vms identity = %q, want vmid", got)
	}
	if got := CategoryContainers.IdentityAttr(); got != "vmid" {
		t.Errorf("containers identity = %q, want vmid", got)
	}
	if got := CategoryStorage.IdentityAttr(); got != "" {
		t.Errorf("storage identity = %q, want none", got)
	}
}
