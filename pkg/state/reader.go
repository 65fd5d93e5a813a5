package state

import (
	"context"

	"github.com/pvconverge/pvconverge/pkg/telemetry"
)

// ReadSnapshot builds an applied-state snapshot from the engine's state
// surface. A failed listing degrades to an empty snapshot (first run or
// unreachable engine, the merge treats both the same); the error is
// returned alongside so the caller can log the degradation. Individual
// addresses that fail to parse or show are skipped with a warning.
func ReadSnapshot(ctx context.Context, reader EngineStateReader) (*Snapshot, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("state")

	addresses, err := reader.StateList(ctx)
	if err != nil {
		logger.WithError(err).Warn("applied-state listing failed, treating as first run")
		return &Snapshot{}, err
	}

	snap := &Snapshot{Entries: make([]Entry, 0, len(addresses))}
	for _, addr := range addresses {
		cat, key, err := parseAddress(addr)
		if err != nil {
			logger.WithError(err).Warn("skipping unrecognized state entry")
			continue
		}

		raw, err := reader.StateShow(ctx, addr)
		if err != nil {
			logger.WithError(err).WithField("address", addr).Warn("skipping unreadable state entry")
			continue
		}

		snap.Entries = append(snap.Entries, Entry{
			Category:      cat,
			Key:           key,
			RawAttributes: raw,
		})
	}

	logger.WithField("entries", len(snap.Entries)).Debug("applied-state snapshot read")
	return snap, nil
}
