package statemachine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tasknet-io/tasknet/types"
)

// LockKind distinguishes the three lock flavors.
type LockKind string

const (
	// LockExclusive excludes every other holder.
	LockExclusive LockKind = "exclusive"
	// LockShared permits a bounded number of concurrent holders.
	LockShared LockKind = "shared"
	// LockTransition is the short-timeout exclusive lock the engine takes
	// around a state transition.
	LockTransition LockKind = "transition"
)

// Lock is a live lease on an entity.
type Lock struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Kind       LockKind  `json:"kind"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockManagerConfig configures a LockManager.
type LockManagerConfig struct {
	// MaxSharedHolders bounds concurrent shared holders per entity.
	MaxSharedHolders int

	// DefaultTTL applies when Acquire is called with ttl <= 0.
	DefaultTTL time.Duration
}

// DefaultLockManagerConfig returns sensible defaults.
func DefaultLockManagerConfig() LockManagerConfig {
	return LockManagerConfig{
		MaxSharedHolders: 8,
		DefaultTTL:       5 * time.Second,
	}
}

// LockManager hands out expiring locks. Expiry is reclaimed lazily: there
// is no background sweeper, a request against an expired lock simply
// removes it and proceeds. A holder that never releases is reclaimed once
// its lease passes, favoring availability over strict exclusion.
type LockManager struct {
	config LockManagerConfig

	mu    sync.Mutex
	locks map[string][]*Lock
	now   func() time.Time
}

// NewLockManager creates a lock manager.
func NewLockManager(config LockManagerConfig) *LockManager {
	if config.MaxSharedHolders <= 0 {
		config.MaxSharedHolders = 8
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Second
	}
	return &LockManager{
		config: config,
		locks:  make(map[string][]*Lock),
		now:    time.Now,
	}
}

// Acquire attempts to take a lock on the entity. Exclusive and transition
// locks require the entity to be free of any live lock; shared locks
// coexist with other shared holders up to the configured bound. A
// conflicting live lock yields LOCK_HELD.
func (m *LockManager) Acquire(entityID string, kind LockKind, holder string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	live := m.pruneLocked(entityID, now)

	switch kind {
	case LockExclusive, LockTransition:
		if len(live) > 0 {
			return nil, types.Errorf(types.ErrLockHeld,
				"entity %s locked by %s", entityID, live[0].Holder).WithRetryable(true)
		}
	case LockShared:
		shared := 0
		for _, l := range live {
			if l.Kind != LockShared {
				return nil, types.Errorf(types.ErrLockHeld,
					"entity %s locked by %s", entityID, l.Holder).WithRetryable(true)
			}
			shared++
		}
		if shared >= m.config.MaxSharedHolders {
			return nil, types.Errorf(types.ErrLockHeld,
				"entity %s shared holder bound reached", entityID).WithRetryable(true)
		}
	default:
		return nil, types.Errorf(types.ErrLockHeld, "unknown lock kind %q", kind)
	}

	lock := &Lock{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Kind:       kind,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.locks[entityID] = append(live, lock)
	return lock, nil
}

// Release removes a lock by id. Releasing an expired or already-reclaimed
// lock is not an error; the holder's lease is simply gone.
func (m *LockManager) Release(entityID, lockID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.locks[entityID]
	for i, l := range live {
		if l.ID == lockID {
			live = append(live[:i], live[i+1:]...)
			break
		}
	}
	if len(live) == 0 {
		delete(m.locks, entityID)
	} else {
		m.locks[entityID] = live
	}
}

// Holders returns the live locks on an entity.
func (m *LockManager) Holders(entityID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.pruneLocked(entityID, m.now())
	out := make([]Lock, len(live))
	for i, l := range live {
		out[i] = *l
	}
	return out
}

// pruneLocked drops expired locks for the entity and returns the survivors.
func (m *LockManager) pruneLocked(entityID string, now time.Time) []*Lock {
	live := m.locks[entityID][:0]
	for _, l := range m.locks[entityID] {
		if l.ExpiresAt.After(now) {
			live = append(live, l)
		}
	}
	if len(live) == 0 {
		delete(m.locks, entityID)
		return nil
	}
	m.locks[entityID] = live
	return live
}
