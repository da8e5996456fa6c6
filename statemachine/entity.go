package statemachine

import (
	"time"
)

// TransitionRecord is one appended history entry of an entity.
type TransitionRecord struct {
	From     State          `json:"from"`
	To       State          `json:"to"`
	Actor    string         `json:"actor,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Conflict is an unresolved pair of update candidates persisted by the
// manual strategy for external adjudication.
type Conflict struct {
	ID       string         `json:"id"`
	EntityID string         `json:"entity_id"`
	Current  map[string]any `json:"current"`
	Incoming map[string]any `json:"incoming"`
	Actor    string         `json:"actor,omitempty"`
	At       time.Time      `json:"at"`
}

// entity is the engine's canonical record of one stateful entity.
type entity struct {
	id      string
	state   State
	version int
	fields  map[string]any
	// fieldVersions records the entity version at which each field was
	// last written, so the merge strategy can tell overlapping changes
	// from independent ones.
	fieldVersions map[string]int
	history       []TransitionRecord
	conflicts     []Conflict
	updatedAt     time.Time
}

// EntitySnapshot is the copy of an entity returned to callers.
type EntitySnapshot struct {
	ID        string             `json:"id"`
	State     State              `json:"state"`
	Version   int                `json:"version"`
	Fields    map[string]any     `json:"fields,omitempty"`
	History   []TransitionRecord `json:"history"`
	Conflicts []Conflict         `json:"conflicts,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (e *entity) snapshot() EntitySnapshot {
	snap := EntitySnapshot{
		ID:        e.id,
		State:     e.state,
		Version:   e.version,
		UpdatedAt: e.updatedAt,
	}
	if len(e.fields) > 0 {
		snap.Fields = make(map[string]any, len(e.fields))
		for k, v := range e.fields {
			snap.Fields[k] = v
		}
	}
	snap.History = make([]TransitionRecord, len(e.history))
	copy(snap.History, e.history)
	if len(e.conflicts) > 0 {
		snap.Conflicts = make([]Conflict, len(e.conflicts))
		copy(snap.Conflicts, e.conflicts)
	}
	return snap
}
