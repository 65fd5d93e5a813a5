// Package platform issues read-only queries against the virtualization
// platform over the remote-execution transport: cluster status, node list,
// resource existence and storage status. Nothing here mutates remote state.
package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/engine"
	"github.com/pvconverge/pvconverge/pkg/transports/ssh"
)

// Node is one platform node as reported by the node listing.
type Node struct {
	Name   string `json:"node"`
	Status string `json:"status"`
}

// StorageStatus is the status of one storage backend on one node.
type StorageStatus struct {
	Name    string `json:"storage"`
	Active  bool   `json:"active"`
	Type    string `json:"type"`
	TotalB  int64  `json:"total"`
	UsedB   int64  `json:"used"`
	AvailB  int64  `json:"avail"`
	Enabled bool   `json:"enabled"`
}

// Query runs platform queries over an established transport.
type Query struct {
	transport ssh.Transport
}

// NewQuery creates a platform query client.
func NewQuery(transport ssh.Transport) *Query {
	return &Query{transport: transport}
}

// run executes one remote command, mapping transport failures and non-zero
// exits to command errors.
func (q *Query) run(ctx context.Context, cmd string) (string, error) {
	res, err := q.transport.Run(ctx, cmd)
	if err != nil {
		return "", engine.NewConnectivityError(fmt.Sprintf("platform query %q", cmd), err)
	}
	if !res.Success() {
		return "", fmt.Errorf("platform query %q exited %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// QueryClusterStatus issues the primary structured cluster status query.
func (q *Query) QueryClusterStatus(ctx context.Context) ([]byte, error) {
	out, err := q.run(ctx, "pvesh get /cluster/status --output-format json")
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// QueryClusterStatusText issues the secondary unstructured status query.
func (q *Query) QueryClusterStatusText(ctx context.Context) (string, error) {
	return q.run(ctx, "pvecm status")
}

// QueryNodeList returns the platform's node inventory.
func (q *Query) QueryNodeList(ctx context.Context) ([]Node, error) {
	out, err := q.run(ctx, "pvesh get /nodes --output-format json")
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := json.Unmarshal([]byte(out), &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse node list: %w", err)
	}
	return nodes, nil
}

// QueryResourceExists reports whether a resource with the given numeric
// identifier exists on a node, independent of this tool's bookkeeping.
func (q *Query) QueryResourceExists(ctx context.Context, category config.Category, id int, node string) (bool, error) {
	var cmd string
	switch category {
	case config.CategoryVMs:
		cmd = fmt.Sprintf("pvesh get /nodes/%s/qemu/%d/status/current --output-format json", node, id)
	case config.CategoryContainers:
		cmd = fmt.Sprintf("pvesh get /nodes/%s/lxc/%d/status/current --output-format json", node, id)
	default:
		return false, fmt.Errorf("existence query not supported for category %s", category)
	}

	res, err := q.transport.Run(ctx, cmd)
	if err != nil {
		return false, engine.NewConnectivityError("resource existence query", err)
	}
	// The status endpoint exits non-zero for unknown identifiers
	return res.Success(), nil
}

// QueryStorageStatus returns the status of one storage backend on a node.
func (q *Query) QueryStorageStatus(ctx context.Context, node, name string) (StorageStatus, error) {
	out, err := q.run(ctx, fmt.Sprintf("pvesh get /nodes/%s/storage/%s/status --output-format json", node, name))
	if err != nil {
		return StorageStatus{}, err
	}

	var raw struct {
		Active  any    `json:"active"`
		Enabled any    `json:"enabled"`
		Type    string `json:"type"`
		Total   int64  `json:"total"`
		Used    int64  `json:"used"`
		Avail   int64  `json:"avail"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return StorageStatus{}, fmt.Errorf("failed to parse storage status: %w", err)
	}

	return StorageStatus{
		Name:    name,
		Active:  boolish(raw.Active),
		Enabled: boolish(raw.Enabled),
		Type:    raw.Type,
		TotalB:  raw.Total,
		UsedB:   raw.Used,
		AvailB:  raw.Avail,
	}, nil
}

// boolish accepts the 0/1 and true/false spellings the platform API mixes.
func boolish(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b == 1
	case string:
		return b == "1" || b == "true"
	default:
		return false
	}
}
