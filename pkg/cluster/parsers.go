package cluster

import (
	"encoding/json"
	"strings"
)

// parser attempts to interpret one known response shape of the structured
// cluster status query. Parsers are pure and share no state; the first one
// to succeed wins.
type parser func(raw []byte) (Fact, bool)

// parsers holds the known response shapes in attempt order.
var parsers = []parser{
	parseTypedArray,
	parseFlatObject,
	parseUntypedArray,
}

// parseTypedArray handles the shape where the response is an array of
// typed entries, one tagged "cluster" carrying the cluster facts and one
// per member node:
//
//	[{"type":"cluster","name":"prod","quorate":1,"nodes":2},
//	 {"type":"node","name":"pve1",...}, ...]
func parseTypedArray(raw []byte) (Fact, bool) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Fact{}, false
	}

	var clusterEntry map[string]any
	nodeCount := 0
	for _, e := range entries {
		switch e["type"] {
		case "cluster":
			clusterEntry = e
		case "node":
			nodeCount++
		}
	}
	if clusterEntry == nil {
		return Fact{}, false
	}

	name, _ := clusterEntry["name"].(string)
	if name == "" {
		return Fact{}, false
	}

	count := intField(clusterEntry["nodes"])
	if count == NodeCountUnknown && nodeCount > 0 {
		count = nodeCount
	}

	return Fact{
		Exists:    true,
		Name:      name,
		Quorate:   normalizeQuorum(clusterEntry["quorate"]),
		NodeCount: count,
		Source:    SourceStructured,
	}, true
}

// parseFlatObject handles the shape where the response is a single object
// carrying name, quorum and node count directly:
//
//	{"name":"prod","quorate":true,"nodes":3}
func parseFlatObject(raw []byte) (Fact, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Fact{}, false
	}

	name, _ := obj["name"].(string)
	if name == "" {
		return Fact{}, false
	}

	return Fact{
		Exists:    true,
		Name:      name,
		Quorate:   normalizeQuorum(obj["quorate"]),
		NodeCount: intField(obj["nodes"]),
		Source:    SourceStructured,
	}, true
}

// parseUntypedArray handles the shape where the response is an array of
// untagged entries with the first entry carrying the cluster facts:
//
//	[{"name":"prod","quorate":"1","nodes":"2"}, {"name":"pve1"}, ...]
func parseUntypedArray(raw []byte) (Fact, bool) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		return Fact{}, false
	}

	first := entries[0]
	name, _ := first["name"].(string)
	if name == "" {
		return Fact{}, false
	}

	count := intField(first["nodes"])
	if count == NodeCountUnknown && len(entries) > 1 {
		count = len(entries) - 1
	}

	return Fact{
		Exists:    true,
		Name:      name,
		Quorate:   normalizeQuorum(first["quorate"]),
		NodeCount: count,
		Source:    SourceStructured,
	}, true
}

// parseFallbackText extracts existence and name from the unstructured
// secondary status output via key-phrase matching:
//
//	Cluster information
//	-------------------
//	Name:             prod
//	...
//	Quorate:          Yes
func parseFallbackText(out string) (Fact, bool) {
	if !strings.Contains(out, "Cluster information") {
		return Fact{}, false
	}

	fact := Fact{Exists: true, Quorate: TriUnknown, NodeCount: NodeCountUnknown, Source: SourceFallback}
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			fact.Name = value
		case "Quorate":
			fact.Quorate = normalizeQuorum(value)
		case "Nodes", "Expected votes":
			if fact.NodeCount == NodeCountUnknown {
				fact.NodeCount = intField(value)
			}
		}
	}

	if fact.Name == "" {
		return Fact{}, false
	}
	return fact, true
}
