package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates desired-state documents.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a new document loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
	}
}

// rawDocument mirrors Document with string category keys so unknown
// categories can be rejected with a useful message instead of silently
// producing an empty map.
type rawDocument struct {
	Connection   ConnectionConfig                     `yaml:"connection"`
	ReapplyToken string                               `yaml:"reapply_token"`
	Resources    map[string]map[string]ResourceRecord `yaml:"resources"`
}

// LoadFile reads, parses and validates a desired-state document from path.
func (l *Loader) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desired-state document: %w", err)
	}
	doc, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Load parses and validates a desired-state document from raw YAML.
func (l *Loader) Load(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse desired-state document: %w", err)
	}

	doc := &Document{
		Connection:   raw.Connection,
		ReapplyToken: raw.ReapplyToken,
		Categories:   make(map[Category]map[string]ResourceRecord, len(raw.Resources)),
	}

	for catName, recs := range raw.Resources {
		cat := Category(catName)
		if err := cat.Validate(); err != nil {
			return nil, err
		}
		out := make(map[string]ResourceRecord, len(recs))
		for key, rec := range recs {
			rec.Category = cat
			rec.Key = key
			if rec.Attributes == nil {
				rec.Attributes = map[string]any{}
			}
			if err := l.validator.Struct(rec); err != nil {
				return nil, fmt.Errorf("invalid record %s/%s: %w", cat, key, err)
			}
			out[key] = rec
		}
		doc.Categories[cat] = out
	}

	if err := l.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks the document's structural validity: connection config,
// credential path resolution and per-record constraints. The credential
// path is rewritten to its absolute form on success.
func (l *Loader) Validate(doc *Document) error {
	if err := l.validator.Struct(&doc.Connection); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}
	if doc.Connection.Port == 0 {
		doc.Connection.Port = 22
	}

	abs, err := resolveCredentialPath(doc.Connection.CredentialPath)
	if err != nil {
		return err
	}
	doc.Connection.CredentialPath = abs

	for cat, recs := range doc.Categories {
		identity := cat.IdentityAttr()
		for key, rec := range recs {
			if identity == "" {
				continue
			}
			if _, ok := rec.Attributes[identity]; !ok {
				return fmt.Errorf("record %s/%s is missing required attribute %q", cat, key, identity)
			}
		}
	}
	return nil
}

// resolveCredentialPath expands the credential path to an absolute path and
// verifies it exists. A document pointing at a missing key is rejected up
// front rather than failing deep inside the transport.
func resolveCredentialPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("credential path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve credential path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("credential path %s is not accessible: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("credential path %s is a directory", abs)
	}
	return abs, nil
}
