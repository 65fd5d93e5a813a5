// Package artifact persists the merged desired-state document to a fixed,
// owner-only location and maintains the pointer file used for manual
// reruns. The artifact is serialized exactly once via the JSON encoder,
// never assembled by hand, and published atomically:
// write to a temp file, re-parse to validate, then rename into place.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pvconverge/pvconverge/pkg/config"
)

const (
	// FileName is the engine-facing artifact name.
	FileName = "desired-state.auto.tfvars.json"

	// PointerName is the pointer file holding the latest artifact path.
	PointerName = "latest"

	// stateDir is the artifact directory under the project root.
	stateDir = "state"
)

// Store writes desired-state artifacts under a fixed project root.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given project directory. The root
// is made absolute immediately so later writes never depend on the working
// directory of the invoking process.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root %s: %w", root, err)
	}
	return &Store{root: abs}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return filepath.Join(s.root, stateDir)
}

// Path returns the fixed artifact path.
func (s *Store) Path() string {
	return filepath.Join(s.Dir(), FileName)
}

// PointerPath returns the pointer file path.
func (s *Store) PointerPath() string {
	return filepath.Join(s.Dir(), PointerName)
}

// Write serializes the document and publishes it atomically, returning the
// artifact path. The document carries credentials, so both the artifact and
// its directory are restricted to the owner. The pointer file is updated
// only after the artifact itself is in place.
func (s *Store) Write(doc *config.Document) (string, error) {
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize desired state: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to restrict artifact permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := validateSerialized(tmpPath, doc); err != nil {
		return "", err
	}

	path := s.Path()
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}

	if err := s.writePointer(path); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads and parses the artifact at the fixed path.
func (s *Store) Read() (*config.Document, error) {
	return ReadFile(s.Path())
}

// ReadFile loads and parses a desired-state artifact.
func ReadFile(path string) (*config.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var doc config.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("artifact %s is corrupt: %w", path, err)
	}
	return &doc, nil
}

// Latest resolves the pointer file to the most recent artifact path.
func (s *Store) Latest() (string, error) {
	data, err := os.ReadFile(s.PointerPath())
	if err != nil {
		return "", fmt.Errorf("no artifact pointer: %w", err)
	}
	path := strings.TrimSpace(string(data))
	if path == "" {
		return "", fmt.Errorf("artifact pointer is empty")
	}
	return path, nil
}

// validateSerialized re-parses the temp artifact and checks it carries the
// same resource sets as the in-memory document before it becomes visible.
func validateSerialized(path string, doc *config.Document) error {
	parsed, err := ReadFile(path)
	if err != nil {
		return fmt.Errorf("serialized artifact failed validation: %w", err)
	}
	if parsed.RecordCount() != doc.RecordCount() {
		return fmt.Errorf("serialized artifact lost records: have %d, want %d",
			parsed.RecordCount(), doc.RecordCount())
	}
	for cat, recs := range doc.Categories {
		got := parsed.Records(cat)
		for key := range recs {
			if _, ok := got[key]; !ok {
				return fmt.Errorf("serialized artifact is missing %s/%s", cat, key)
			}
		}
	}
	return nil
}

// writePointer publishes the pointer file, also via temp-then-rename.
func (s *Store) writePointer(artifactPath string) error {
	dir := s.Dir()
	tmp, err := os.CreateTemp(dir, PointerName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create pointer temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict pointer permissions: %w", err)
	}
	if _, err := tmp.WriteString(artifactPath + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close pointer: %w", err)
	}
	if err := os.Rename(tmpPath, s.PointerPath()); err != nil {
		return fmt.Errorf("failed to publish pointer: %w", err)
	}
	return nil
}
