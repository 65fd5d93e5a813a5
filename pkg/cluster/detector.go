package cluster

import (
	"context"

	"github.com/pvconverge/pvconverge/pkg/telemetry"
)

// StatusQuerier is the slice of the platform query surface the detector
// consumes.
type StatusQuerier interface {
	// QueryClusterStatus issues the primary structured status query and
	// returns its raw JSON response.
	QueryClusterStatus(ctx context.Context) ([]byte, error)

	// QueryClusterStatusText issues the secondary unstructured status
	// query and returns its raw text output.
	QueryClusterStatusText(ctx context.Context) (string, error)
}

// Detect establishes the cluster fact. It tries each known structured
// response shape in order, falls back to key-phrase matching on the
// unstructured status output, and degrades to "assume standalone" if both
// paths fail; cluster detection never blocks unrelated work. Callers run
// this exactly once per invocation and thread the result by value.
func Detect(ctx context.Context, q StatusQuerier) Fact {
	logger := telemetry.FromContext(ctx).NewComponentLogger("cluster")

	raw, err := q.QueryClusterStatus(ctx)
	if err == nil {
		for _, parse := range parsers {
			if fact, ok := parse(raw); ok {
				logger.WithField("fact", fact.String()).Debug("cluster fact detected")
				return fact
			}
		}
		logger.Warn("structured cluster status matched no known shape, trying fallback")
	} else {
		logger.WithError(err).Debug("structured cluster status query failed, trying fallback")
	}

	out, err := q.QueryClusterStatusText(ctx)
	if err == nil {
		if fact, ok := parseFallbackText(out); ok {
			logger.WithField("fact", fact.String()).Debug("cluster fact detected via fallback")
			return fact
		}
	} else {
		logger.WithError(err).Debug("fallback cluster status query failed")
	}

	logger.Info("cluster detection inconclusive, assuming standalone")
	return Standalone()
}
