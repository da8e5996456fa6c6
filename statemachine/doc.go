// Package statemachine provides a generic transition-validated state
// machine engine for long-lived stateful entities. Every state change must
// follow an edge of a static per-entity-type transition table, guarded by a
// short-lived transition lock and an optimistic current-state check.
// Expiring mutual-exclusion locks and pluggable conflict resolution cover
// concurrent non-transition updates.
package statemachine
