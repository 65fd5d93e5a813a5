// Package guard is the safety check that blocks deployments which would
// destroy previously-applied resources without explicit consent. Evaluation
// is pure: identical inputs always produce an identical verdict.
package guard

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/state"
)

// ResourceRef names one resource in a verdict.
type ResourceRef struct {
	Category config.Category `json:"category"`
	Key      string          `json:"key"`
}

// String returns the "category/key" form used in diagnostics.
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Category, r.Key)
}

// Verdict is the guard's decision for one merged desired state.
type Verdict struct {
	// Allowed reports whether the deployment may proceed.
	Allowed bool `json:"allowed"`

	// DestructiveKeys lists every resource the plan would destroy or
	// recreate, sorted for deterministic output.
	DestructiveKeys []ResourceRef `json:"destructive_keys,omitempty"`

	// Reason explains a blocked verdict, including the remedies.
	Reason string `json:"reason,omitempty"`
}

// Evaluate computes the safety verdict for the merged desired state against
// the applied snapshot.
//
// The destructive diff contains every applied resource whose key is absent
// from the merged state, plus every resource whose immutable identity
// attribute changed (destroy-and-recreate). A category with no collected
// input this run is "not managed this run" rather than "delete everything",
// provided at least one category has collected content; a run with no
// collected content in any category is blocked unconditionally.
func Evaluate(merged *config.Document, applied *state.Snapshot, collected *config.Document, overrideDestroy bool) Verdict {
	if collected.Empty() {
		if applied.Empty() {
			// Nothing applied, nothing collected: a no-op first run
			return Verdict{Allowed: true}
		}
		diff := allAppliedRefs(applied)
		names := make([]string, len(diff))
		for i, ref := range diff {
			names[i] = ref.String()
		}
		reason := fmt.Sprintf(
			"no category has any collected content this run; applying would destroy %d previously-applied resource(s): %s. "+
				"Collect at least one resource, or remove the state manually if a full teardown is intended.",
			len(diff), strings.Join(names, ", "),
		)
		return Verdict{Allowed: false, DestructiveKeys: diff, Reason: reason}
	}

	diff := destructiveDiff(merged, applied, collected)
	if len(diff) == 0 {
		return Verdict{Allowed: true}
	}

	if overrideDestroy {
		return Verdict{Allowed: true, DestructiveKeys: diff}
	}

	names := make([]string, len(diff))
	for i, ref := range diff {
		names[i] = ref.String()
	}
	reason := fmt.Sprintf(
		"applying this state would destroy %d previously-applied resource(s): %s. "+
			"Either add the resource(s) back to the desired state, or set the destroy override to confirm the deletion.",
		len(diff), strings.Join(names, ", "),
	)
	return Verdict{Allowed: false, DestructiveKeys: diff, Reason: reason}
}

// destructiveDiff computes the sorted set of applied resources the merged
// state would destroy.
//
// Run-scoped categories (those not carried forward from the snapshot) with
// no collected input this run are skipped entirely: their applied entries
// are expected to age out and do not count as deletions. For preservation-
// aware categories the diff runs even when the category collected nothing,
// which is the independent re-check of the merge's preservation invariant.
func destructiveDiff(merged *config.Document, applied *state.Snapshot, collected *config.Document) []ResourceRef {
	var diff []ResourceRef

	for cat, entries := range applied.ByCategory() {
		managed := len(collected.Records(cat)) > 0
		if !managed && !cat.Preserved() {
			continue
		}

		mergedRecs := merged.Records(cat)
		identity := cat.IdentityAttr()

		for key, entry := range entries {
			rec, ok := mergedRecs[key]
			if !ok {
				diff = append(diff, ResourceRef{Category: cat, Key: key})
				continue
			}
			if identity == "" {
				continue
			}
			if identityChanged(entry, rec, identity) {
				diff = append(diff, ResourceRef{Category: cat, Key: key})
			}
		}
	}

	sortRefs(diff)
	return diff
}

// allAppliedRefs lists every applied resource, sorted. Used when a run with
// no collected content would otherwise destroy the whole applied state.
func allAppliedRefs(applied *state.Snapshot) []ResourceRef {
	var refs []ResourceRef
	for cat, entries := range applied.ByCategory() {
		for key := range entries {
			refs = append(refs, ResourceRef{Category: cat, Key: key})
		}
	}
	sortRefs(refs)
	return refs
}

func sortRefs(refs []ResourceRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Category != refs[j].Category {
			return refs[i].Category < refs[j].Category
		}
		return refs[i].Key < refs[j].Key
	})
}

// identityChanged reports whether the immutable identity attribute differs
// between the applied entry and the merged record. The applied side is
// coerced to its typed form first; raw string comparison is never used for
// numeric identity fields.
func identityChanged(entry state.Entry, rec config.ResourceRecord, identity string) bool {
	coerced, err := state.CoerceEntry(entry)
	if err != nil {
		// An entry too malformed to coerce cannot prove a change
		return false
	}
	appliedVal, ok := coerced.Attributes[identity]
	if !ok {
		return false
	}
	mergedVal, ok := rec.Attributes[identity]
	if !ok {
		// Identity missing from the merged record means replacement
		return true
	}
	return !equalAttr(appliedVal, mergedVal)
}

// equalAttr compares attribute values across the int widths YAML and JSON
// decoding produce.
func equalAttr(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
