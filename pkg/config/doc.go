// Package config defines the desired-state document model: resource
// categories, per-category resource records, and the connection settings
// used to reach the target platform. Documents arrive as YAML from the
// collection front-end, are validated structurally here, and are re-emitted
// exactly once by the persistence layer as the engine-facing artifact.
package config
