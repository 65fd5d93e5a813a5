package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir compiles and registers every .rego file found directly in dir.
// The file name (without extension) becomes the policy name; severity
// defaults to error unless the file name carries a "-warn" suffix.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read policy directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".rego")
		severity := SeverityError
		if strings.HasSuffix(name, "-warn") {
			severity = SeverityWarning
		}

		policy := Policy{
			Name:        name,
			Description: fmt.Sprintf("Loaded from %s", path),
			Rego:        string(src),
			Severity:    severity,
			Enabled:     true,
		}
		if err := e.AddPolicy(policy); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", name, err)
		}
		loaded++
	}

	e.logger.Info().Int("count", loaded).Str("dir", dir).Msg("Policies loaded")
	return nil
}
