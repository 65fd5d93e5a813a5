package state

import (
	"context"

	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/telemetry"
)

// Merger combines freshly-collected resource definitions with the
// applied-state snapshot from prior runs.
type Merger struct{}

// NewMerger creates a merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Merge produces the merged desired state: for every preservation-aware
// category, snapshot entries are reconstructed into typed records first,
// then collected records are overlaid on top; a collected record with the
// same key replaces the reconstructed one entirely. Entries that fail
// coercion are skipped individually with a warning; the merge itself never
// fails. The returned document is always freshly built; neither input is
// mutated.
func (m *Merger) Merge(ctx context.Context, collected *config.Document, applied *Snapshot) *config.Document {
	logger := telemetry.FromContext(ctx).NewComponentLogger("merger")
	tel := telemetry.FromTelemetryContext(ctx)

	merged := &config.Document{
		Connection:   collected.Connection,
		ReapplyToken: collected.ReapplyToken,
		Categories:   make(map[config.Category]map[string]config.ResourceRecord),
	}

	appliedByCat := applied.ByCategory()

	for _, cat := range config.AllCategories() {
		collectedRecs := collected.Records(cat)
		preserved := 0

		if cat.Preserved() {
			for _, entry := range appliedByCat[cat] {
				rec, err := CoerceEntry(entry)
				if err != nil {
					logger.WithError(err).WithCategory(string(cat)).Warn("skipping unreconstructable applied entry")
					if tel != nil {
						tel.Metrics.RecordSnapshotSkip(string(cat))
					}
					continue
				}
				merged.Put(rec)
				preserved++
			}
		}

		for _, rec := range collectedRecs {
			merged.Put(rec.Clone())
		}

		if tel != nil {
			tel.Metrics.RecordMerged(string(cat), "preserved", preserved)
			tel.Metrics.RecordMerged(string(cat), "collected", len(collectedRecs))
		}
		if preserved > 0 || len(collectedRecs) > 0 {
			logger.WithCategory(string(cat)).
				WithField("preserved", preserved).
				WithField("collected", len(collectedRecs)).
				Debug("category merged")
		}
	}

	return merged
}
