// Package state reads back the apply engine's applied-state snapshot and
// merges it with freshly-collected resource definitions so that untouched
// resources are never silently dropped from the desired state.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/pvconverge/pvconverge/pkg/config"
)

// Entry is one applied resource read back from the engine's bookkeeping.
// All attribute values arrive as strings and must be coerced before reuse.
type Entry struct {
	Category      config.Category   `json:"category"`
	Key           string            `json:"key"`
	RawAttributes map[string]string `json:"raw_attributes"`
}

// Snapshot is the applied-state read-back for one run.
type Snapshot struct {
	Entries []Entry `json:"entries"`
}

// Empty reports whether the snapshot holds no entries.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Entries) == 0
}

// ByCategory groups the snapshot entries by category and key.
func (s *Snapshot) ByCategory() map[config.Category]map[string]Entry {
	out := make(map[config.Category]map[string]Entry)
	if s == nil {
		return out
	}
	for _, e := range s.Entries {
		if out[e.Category] == nil {
			out[e.Category] = make(map[string]Entry)
		}
		out[e.Category][e.Key] = e
	}
	return out
}

// Category returns the snapshot entries of one category by key, never nil.
func (s *Snapshot) Category(c config.Category) map[string]Entry {
	if m, ok := s.ByCategory()[c]; ok {
		return m
	}
	return map[string]Entry{}
}

// EngineStateReader is the slice of the apply engine surface the snapshot
// reader consumes.
type EngineStateReader interface {
	// StateList returns every resource address in the engine's state.
	StateList(ctx context.Context) ([]string, error)

	// StateShow returns the raw string attributes of one resource address.
	StateShow(ctx context.Context, address string) (map[string]string, error)
}

// addressTypes maps engine resource types to document categories. The
// engine side of each name follows the platform provider's naming.
var addressTypes = map[string]config.Category{
	"proxmox_vm_qemu":    config.CategoryVMs,
	"proxmox_lxc":        config.CategoryContainers,
	"proxmox_storage":    config.CategoryStorage,
	"proxmox_network":    config.CategoryNetworks,
	"proxmox_firewall":   config.CategoryFirewall,
	"proxmox_backup_job": config.CategoryBackups,
	"proxmox_snapshot":   config.CategorySnapshots,
	"proxmox_cluster":    config.CategoryCluster,
	"proxmox_pool":       config.CategoryPools,
}

// AddressType returns the engine resource type for a category.
func AddressType(c config.Category) string {
	for t, cat := range addressTypes {
		if cat == c {
			return t
		}
	}
	return ""
}

// parseAddress splits an engine resource address ("type.name") into its
// category and key. Unknown types are reported so the caller can skip them.
func parseAddress(address string) (config.Category, string, error) {
	parts := strings.SplitN(address, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed resource address: %q", address)
	}
	cat, ok := addressTypes[parts[0]]
	if !ok {
		return "", "", fmt.Errorf("resource address %q has unknown type %q", address, parts[0])
	}
	return cat, parts[1], nil
}
