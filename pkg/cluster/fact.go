// Package cluster establishes ground truth about cluster existence by
// querying the platform directly, independent of anything this tool has
// previously created. The fact is computed once per run and handed to
// consumers by value.
package cluster

import (
	"encoding/json"
	"fmt"
)

// TriState is a boolean that may be unknown.
type TriState string

const (
	// TriTrue means the property definitely holds.
	TriTrue TriState = "true"

	// TriFalse means the property definitely does not hold.
	TriFalse TriState = "false"

	// TriUnknown means the property could not be determined.
	TriUnknown TriState = "unknown"
)

// NodeCountUnknown marks a fact whose node count could not be determined.
const NodeCountUnknown = -1

// Source records which query path produced the fact.
type Source string

const (
	// SourceStructured means the primary structured status query parsed.
	SourceStructured Source = "structured"

	// SourceFallback means the unstructured fallback query was used.
	SourceFallback Source = "fallback"

	// SourceNone means both queries failed; the fact defaults to
	// standalone.
	SourceNone Source = "none"
)

// Fact is the authoritative answer about cluster existence. It is
// immutable after detection: consumers receive it by value.
type Fact struct {
	// Exists reports whether a cluster is configured on the platform.
	Exists bool `json:"exists"`

	// Name is the cluster name, when one exists.
	Name string `json:"name,omitempty"`

	// Quorate reports whether the cluster currently has quorum.
	Quorate TriState `json:"quorate"`

	// NodeCount is the number of member nodes, or NodeCountUnknown.
	NodeCount int `json:"node_count"`

	// Source records which detection path produced the fact.
	Source Source `json:"source"`
}

// Standalone is the degraded fact returned when detection fails entirely.
func Standalone() Fact {
	return Fact{Exists: false, Quorate: TriUnknown, NodeCount: NodeCountUnknown, Source: SourceNone}
}

// String renders the fact for diagnostics.
func (f Fact) String() string {
	if !f.Exists {
		return "no cluster (standalone)"
	}
	return fmt.Sprintf("cluster %q (quorate=%s, nodes=%d, source=%s)", f.Name, f.Quorate, f.NodeCount, f.Source)
}

// normalizeQuorum converts the spellings the platform uses for quorum
// (0/1 numbers, booleans, their string forms) into a tri-state.
func normalizeQuorum(v any) TriState {
	switch q := v.(type) {
	case bool:
		if q {
			return TriTrue
		}
		return TriFalse
	case float64:
		switch q {
		case 1:
			return TriTrue
		case 0:
			return TriFalse
		}
	case json.Number:
		if n, err := q.Int64(); err == nil {
			switch n {
			case 1:
				return TriTrue
			case 0:
				return TriFalse
			}
		}
	case string:
		switch q {
		case "1", "true", "yes", "Yes":
			return TriTrue
		case "0", "false", "no", "No":
			return TriFalse
		}
	}
	return TriUnknown
}

// intField extracts an integer field that may arrive as a JSON number or a
// numeric string, returning NodeCountUnknown when absent or malformed.
func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i
		}
	}
	return NodeCountUnknown
}
