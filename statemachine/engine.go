package statemachine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

// TransitionEvent is emitted after every applied transition.
type TransitionEvent struct {
	EntityID string         `json:"entity_id"`
	From     State          `json:"from"`
	To       State          `json:"to"`
	Actor    string         `json:"actor,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// TransitionHandler receives transition events on its own goroutine.
type TransitionHandler func(event TransitionEvent)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// TransitionLockTTL is the lease of the short transition lock taken
	// around every state change.
	TransitionLockTTL time.Duration

	// Locks configures the lock manager when the engine builds its own.
	Locks LockManagerConfig
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TransitionLockTTL: 2 * time.Second,
		Locks:             DefaultLockManagerConfig(),
	}
}

// Engine validates and applies state transitions for entities of one type,
// records their history, and arbitrates concurrent non-transition updates.
// State is held in memory; persistence hooks are the caller's concern.
type Engine struct {
	table  *TransitionTable
	locks  *LockManager
	config EngineConfig
	logger *zap.Logger

	mu       sync.RWMutex
	entities map[string]*entity

	handlerMu sync.RWMutex
	handlers  map[string]TransitionHandler

	now func() time.Time
}

// NewEngine creates an engine over the given transition table.
func NewEngine(table *TransitionTable, config EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TransitionLockTTL <= 0 {
		config.TransitionLockTTL = 2 * time.Second
	}
	return &Engine{
		table:    table,
		locks:    NewLockManager(config.Locks),
		config:   config,
		logger:   logger.With(zap.String("component", "statemachine")),
		entities: make(map[string]*entity),
		handlers: make(map[string]TransitionHandler),
		now:      time.Now,
	}
}

// Table returns the engine's transition table.
func (e *Engine) Table() *TransitionTable {
	return e.table
}

// Locks returns the engine's lock manager, shared with callers that need
// exclusive or shared leases outside a transition.
func (e *Engine) Locks() *LockManager {
	return e.locks
}

// CreateEntity registers a new entity in the given initial state.
func (e *Engine) CreateEntity(id string, initial State) (EntitySnapshot, error) {
	if !e.table.HasState(initial) {
		return EntitySnapshot{}, types.Errorf(types.ErrInvalidState, "unknown state %q", initial)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.entities[id]; exists {
		return EntitySnapshot{}, types.Errorf(types.ErrAlreadyRegistered, "entity %s already exists", id)
	}

	ent := &entity{
		id:            id,
		state:         initial,
		fields:        make(map[string]any),
		fieldVersions: make(map[string]int),
		updatedAt:     e.now(),
	}
	e.entities[id] = ent
	return ent.snapshot(), nil
}

// Get returns a snapshot of an entity.
func (e *Engine) Get(id string) (EntitySnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.entities[id]
	if !ok {
		return EntitySnapshot{}, types.Errorf(types.ErrNotFound, "entity %s not found", id)
	}
	return ent.snapshot(), nil
}

// ValidateTransition checks a single edge against the table.
func (e *Engine) ValidateTransition(from, to State) (TransitionDescriptor, error) {
	return e.table.ValidateTransition(from, to)
}

// Transition moves an entity from one state to another. It acquires a
// short transition lock, re-confirms the current state still equals from
// (guarding the race where another actor already moved it), validates the
// edge, appends a history record, and applies the new state. Any failing
// step aborts with no side effects.
func (e *Engine) Transition(entityID string, from, to State, actor string, metadata map[string]any) error {
	lock, err := e.locks.Acquire(entityID, LockTransition, actor, e.config.TransitionLockTTL)
	if err != nil {
		return err
	}
	defer e.locks.Release(entityID, lock.ID)

	e.mu.Lock()
	ent, ok := e.entities[entityID]
	if !ok {
		e.mu.Unlock()
		return types.Errorf(types.ErrNotFound, "entity %s not found", entityID)
	}
	if ent.state != from {
		current := ent.state
		e.mu.Unlock()
		return types.Errorf(types.ErrStateMismatch,
			"entity %s is in state %q, not %q", entityID, current, from)
	}
	if _, err := e.table.ValidateTransition(from, to); err != nil {
		e.mu.Unlock()
		return err
	}

	now := e.now()
	ent.history = append(ent.history, TransitionRecord{
		From:     from,
		To:       to,
		Actor:    actor,
		Metadata: metadata,
		At:       now,
	})
	ent.state = to
	ent.version++
	ent.updatedAt = now
	e.mu.Unlock()

	e.logger.Debug("transition applied",
		zap.String("entity_id", entityID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	e.emit(TransitionEvent{
		EntityID: entityID,
		From:     from,
		To:       to,
		Actor:    actor,
		Metadata: metadata,
		At:       now,
	})
	return nil
}

// Rollback replays the transition table backward along a computed path to a
// target state the entity has previously visited. Every hop goes through
// the same validated Transition call, so rollback cannot bypass the table.
func (e *Engine) Rollback(entityID string, target State, actor string) error {
	snap, err := e.Get(entityID)
	if err != nil {
		return err
	}

	visited := false
	for _, rec := range snap.History {
		if rec.From == target || rec.To == target {
			visited = true
			break
		}
	}
	if !visited {
		return types.Errorf(types.ErrInvalidState,
			"entity %s never visited state %q", entityID, target)
	}

	path, err := e.table.Path(snap.State, target)
	if err != nil {
		return err
	}

	current := snap.State
	for _, hop := range path {
		if err := e.Transition(entityID, current, hop, actor, map[string]any{"rollback": true}); err != nil {
			return err
		}
		current = hop
	}
	return nil
}

// Update applies a non-transition field update. A candidate whose base
// version matches the entity applies directly; otherwise another actor
// wrote concurrently and the chosen strategy resolves the conflict.
func (e *Engine) Update(entityID string, cand UpdateCandidate, strategy ConflictStrategy) (EntitySnapshot, error) {
	if cand.Timestamp.IsZero() {
		cand.Timestamp = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entities[entityID]
	if !ok {
		return EntitySnapshot{}, types.Errorf(types.ErrNotFound, "entity %s not found", entityID)
	}

	if cand.BaseVersion == ent.version {
		e.applyFields(ent, cand.Fields, cand.Timestamp)
		return ent.snapshot(), nil
	}

	switch strategy {
	case LastWriteWins:
		if !cand.Timestamp.Before(ent.updatedAt) {
			e.applyFields(ent, cand.Fields, cand.Timestamp)
		}

	case FirstWriteWins:
		// The concurrent write that already applied wins; nothing to do.

	case FieldMerge:
		merged := make(map[string]any, len(cand.Fields))
		for k, v := range cand.Fields {
			if ent.fieldVersions[k] <= cand.BaseVersion {
				merged[k] = v
			}
		}
		if len(merged) > 0 {
			e.applyFields(ent, merged, cand.Timestamp)
		}

	case Manual:
		current := make(map[string]any, len(cand.Fields))
		for k := range cand.Fields {
			current[k] = ent.fields[k]
		}
		ent.conflicts = append(ent.conflicts, Conflict{
			ID:       uuid.NewString(),
			EntityID: entityID,
			Current:  current,
			Incoming: cand.Fields,
			Actor:    cand.Actor,
			At:       cand.Timestamp,
		})

	default:
		return EntitySnapshot{}, types.Errorf(types.ErrInvalidState,
			"unknown conflict strategy %q", strategy)
	}

	return ent.snapshot(), nil
}

// ResolveConflict adjudicates a manual conflict by applying the chosen
// field values and discarding the conflict record.
func (e *Engine) ResolveConflict(entityID, conflictID string, chosen map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entities[entityID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "entity %s not found", entityID)
	}
	for i, c := range ent.conflicts {
		if c.ID == conflictID {
			ent.conflicts = append(ent.conflicts[:i], ent.conflicts[i+1:]...)
			e.applyFields(ent, chosen, e.now())
			return nil
		}
	}
	return types.Errorf(types.ErrNotFound, "conflict %s not found on entity %s", conflictID, entityID)
}

// OnTransition subscribes a handler to transition events.
func (e *Engine) OnTransition(handler TransitionHandler) string {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	id := uuid.NewString()
	e.handlers[id] = handler
	return id
}

// OffTransition removes a handler subscription.
func (e *Engine) OffTransition(subscriptionID string) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	delete(e.handlers, subscriptionID)
}

func (e *Engine) emit(event TransitionEvent) {
	e.handlerMu.RLock()
	handlers := make([]TransitionHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.handlerMu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}
}

// applyFields mutates entity fields under e.mu.
func (e *Engine) applyFields(ent *entity, fields map[string]any, ts time.Time) {
	ent.version++
	for k, v := range fields {
		ent.fields[k] = v
		ent.fieldVersions[k] = ent.version
	}
	if ts.After(ent.updatedAt) {
		ent.updatedAt = ts
	}
}
