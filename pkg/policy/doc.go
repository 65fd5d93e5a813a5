// Package policy evaluates Rego rules against the merged desired-state
// document before a deployment is planned. Built-in policies cover the
// common footguns of the platform (missing VM identifiers, malformed
// record keys, disabled records that would be destroyed); operators can
// load additional .rego files from disk.
//
// A policy contributes violations through a "deny" rule set. Violations
// at error severity block the run during the validate stage; warning
// severity is surfaced but does not block.
package policy
