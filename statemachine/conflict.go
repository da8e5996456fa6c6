package statemachine

import "time"

// ConflictStrategy selects how a concurrent non-transition update is
// resolved. The strategy is chosen per call, not per entity.
type ConflictStrategy string

const (
	// LastWriteWins applies the candidate when its timestamp is not older
	// than the entity's last update.
	LastWriteWins ConflictStrategy = "last_write_wins"
	// FirstWriteWins discards the candidate; the write already applied
	// stays.
	FirstWriteWins ConflictStrategy = "first_write_wins"
	// FieldMerge applies the union of non-overlapping field changes,
	// keeping current values for fields modified since the candidate's
	// base version.
	FieldMerge ConflictStrategy = "field_merge"
	// Manual persists both candidates as an unresolved conflict for
	// external adjudication and applies nothing.
	Manual ConflictStrategy = "manual"
)

// UpdateCandidate is a proposed non-transition field update. BaseVersion is
// the entity version the caller read before computing the change; a
// mismatch at apply time means another actor wrote concurrently and the
// strategy decides the outcome.
type UpdateCandidate struct {
	Fields      map[string]any
	BaseVersion int
	Timestamp   time.Time
	Actor       string
}
