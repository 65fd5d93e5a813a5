// Package stores provides run-history persistence for the deployment
// pipeline. Each run, its stage executions, and its event timeline are
// recorded in an embedded SQLite database so past deployments can be
// inspected after the fact.
package stores
