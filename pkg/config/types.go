package config

import (
	"fmt"
)

// Category identifies a resource category in the desired-state document.
type Category string

const (
	// CategoryVMs contains virtual machine definitions.
	CategoryVMs Category = "vms"

	// CategoryContainers contains LXC container definitions.
	CategoryContainers Category = "containers"

	// CategoryStorage contains storage backend definitions.
	CategoryStorage Category = "storage"

	// CategoryNetworks contains network construct definitions (bridges, VLANs).
	CategoryNetworks Category = "networks"

	// CategoryFirewall contains firewall rule and security group definitions.
	CategoryFirewall Category = "firewall"

	// CategoryBackups contains scheduled backup job definitions.
	CategoryBackups Category = "backups"

	// CategorySnapshots contains point-in-time snapshot requests.
	CategorySnapshots Category = "snapshots"

	// CategoryCluster contains cluster membership configuration.
	CategoryCluster Category = "cluster"

	// CategoryPools contains resource pool / HA group definitions.
	CategoryPools Category = "pools"
)

// AllCategories returns every known category in document order.
func AllCategories() []Category {
	return []Category{
		CategoryVMs,
		CategoryContainers,
		CategoryStorage,
		CategoryNetworks,
		CategoryFirewall,
		CategoryBackups,
		CategorySnapshots,
		CategoryCluster,
		CategoryPools,
	}
}

// Validate checks if the category is known.
func (c Category) Validate() error {
	for _, known := range AllCategories() {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("unknown resource category: %s", c)
}

// Preserved reports whether entries of this category are carried forward
// from the applied-state snapshot when the current run collects nothing
// for it. Snapshots are point-in-time actions and cluster membership is
// driven by the freshly-detected cluster fact, so neither is reconstructed
// from prior state.
func (c Category) Preserved() bool {
	switch c {
	case CategorySnapshots, CategoryCluster:
		return false
	default:
		return true
	}
}

// IdentityAttr returns the name of the immutable identity attribute for
// this category. Changing it on an existing key means destroy-and-recreate,
// which the safety guard treats the same as a deletion. Categories keyed
// purely by name return "".
func (c Category) IdentityAttr() string {
	switch c {
	case CategoryVMs, CategoryContainers:
		return "vmid"
	default:
		return ""
	}
}

// ResourceRecord is one desired resource within a category.
type ResourceRecord struct {
	// Category is the category this record belongs to.
	Category Category `json:"category" yaml:"-"`

	// Key is the record's unique name within its category.
	Key string `json:"key" yaml:"-" validate:"required"`

	// Enabled toggles whether the record is emitted to the apply engine.
	// Disabled records still count as "collected" for merge purposes.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Attributes holds the category-specific configuration.
	Attributes map[string]any `json:"attributes" yaml:"attributes" validate:"required"`
}

// Clone returns a deep copy of the record. Attribute values are copied at
// the top level only; nested values are treated as immutable once loaded.
func (r ResourceRecord) Clone() ResourceRecord {
	attrs := make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	return ResourceRecord{
		Category:   r.Category,
		Key:        r.Key,
		Enabled:    r.Enabled,
		Attributes: attrs,
	}
}

// ConnectionConfig describes how to reach the target platform host.
type ConnectionConfig struct {
	// Host is the platform node the transport connects to.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the SSH port (default 22).
	Port int `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the remote user the engine and platform queries run as.
	User string `json:"user" yaml:"user" validate:"required"`

	// CredentialPath points at the private key used to authenticate. It
	// must resolve to an absolute, existing path before the document is
	// considered valid.
	CredentialPath string `json:"credential_path" yaml:"credential_path" validate:"required"`
}

// Document is the complete desired-state description for one run.
type Document struct {
	// Connection carries the transport endpoint and credentials.
	Connection ConnectionConfig `json:"connection" yaml:"connection" validate:"required"`

	// ReapplyToken forces recomputation of otherwise-unchanged resources
	// when its value differs from the previous run.
	ReapplyToken string `json:"reapply_token,omitempty" yaml:"reapply_token,omitempty"`

	// Categories maps each category to its resource records by key.
	Categories map[Category]map[string]ResourceRecord `json:"resources" yaml:"resources"`
}

// Records returns the records of one category, never nil.
func (d *Document) Records(c Category) map[string]ResourceRecord {
	if d.Categories == nil {
		return map[string]ResourceRecord{}
	}
	if m, ok := d.Categories[c]; ok && m != nil {
		return m
	}
	return map[string]ResourceRecord{}
}

// Put inserts a record under its category and key.
func (d *Document) Put(rec ResourceRecord) {
	if d.Categories == nil {
		d.Categories = make(map[Category]map[string]ResourceRecord)
	}
	if d.Categories[rec.Category] == nil {
		d.Categories[rec.Category] = make(map[string]ResourceRecord)
	}
	d.Categories[rec.Category][rec.Key] = rec
}

// Empty reports whether no category holds any record.
func (d *Document) Empty() bool {
	for _, recs := range d.Categories {
		if len(recs) > 0 {
			return false
		}
	}
	return true
}

// RecordCount returns the total number of records across all categories.
func (d *Document) RecordCount() int {
	n := 0
	for _, recs := range d.Categories {
		n += len(recs)
	}
	return n
}
