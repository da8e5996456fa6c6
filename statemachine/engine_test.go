package statemachine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(newTestTable(), DefaultEngineConfig(), zap.NewNop())
}

func TestCreateAndGet(t *testing.T) {
	e := newTestEngine(t)

	snap, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)
	assert.Equal(t, State("draft"), snap.State)
	assert.Equal(t, 0, snap.Version)

	_, err = e.CreateEntity("p1", "draft")
	assert.Equal(t, types.ErrAlreadyRegistered, types.CodeOf(err))

	_, err = e.CreateEntity("p2", "ghost")
	assert.Equal(t, types.ErrInvalidState, types.CodeOf(err))

	_, err = e.Get("missing")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestTransition(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	require.NoError(t, e.Transition("p1", "draft", "active", "alice", map[string]any{"reason": "start"}))

	snap, err := e.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, State("active"), snap.State)
	require.Len(t, snap.History, 1)
	assert.Equal(t, State("draft"), snap.History[0].From)
	assert.Equal(t, "alice", snap.History[0].Actor)
}

func TestTransitionStateMismatch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)
	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))

	// Another actor already moved the entity; the stale transition aborts
	// with no side effects.
	err = e.Transition("p1", "draft", "active", "bob", nil)
	assert.Equal(t, types.ErrStateMismatch, types.CodeOf(err))

	snap, _ := e.Get("p1")
	assert.Equal(t, State("active"), snap.State)
	assert.Len(t, snap.History, 1)
}

func TestTransitionInvalidEdge(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	err = e.Transition("p1", "draft", "done", "alice", nil)
	assert.Equal(t, types.ErrInvalidTransition, types.CodeOf(err))

	snap, _ := e.Get("p1")
	assert.Equal(t, State("draft"), snap.State)
	assert.Empty(t, snap.History)
}

func TestTransitionBlockedByLock(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	lock, err := e.Locks().Acquire("p1", LockExclusive, "holder", time.Minute)
	require.NoError(t, err)

	err = e.Transition("p1", "draft", "active", "alice", nil)
	assert.Equal(t, types.ErrLockHeld, types.CodeOf(err))

	e.Locks().Release("p1", lock.ID)
	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))
}

func TestTransitionEvents(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	events := make(chan TransitionEvent, 4)
	subID := e.OnTransition(func(ev TransitionEvent) { events <- ev })

	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))

	select {
	case ev := <-events:
		assert.Equal(t, "p1", ev.EntityID)
		assert.Equal(t, State("active"), ev.To)
	case <-time.After(time.Second):
		t.Fatal("expected transition event")
	}

	e.OffTransition(subID)
	require.NoError(t, e.Transition("p1", "active", "done", "alice", nil))
	select {
	case <-events:
		t.Fatal("unexpected event after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRollback(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)
	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))

	require.NoError(t, e.Rollback("p1", "draft", "alice"))

	snap, _ := e.Get("p1")
	assert.Equal(t, State("draft"), snap.State)
	// The rollback hop is a real, validated transition on the history.
	require.Len(t, snap.History, 2)
	assert.Equal(t, State("draft"), snap.History[1].To)
	assert.Equal(t, true, snap.History[1].Metadata["rollback"])
}

func TestRollbackRequiresVisitedState(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)
	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))

	err = e.Rollback("p1", "done", "alice")
	assert.Equal(t, types.ErrInvalidState, types.CodeOf(err))
}

func TestRollbackCannotBypassTable(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)
	require.NoError(t, e.Transition("p1", "draft", "active", "alice", nil))
	require.NoError(t, e.Transition("p1", "active", "done", "alice", nil))

	// done is terminal with no outgoing edges: no path back to draft.
	err = e.Rollback("p1", "draft", "alice")
	assert.Equal(t, types.ErrInvalidTransition, types.CodeOf(err))
}

func TestUpdateFastPath(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	snap, err := e.Update("p1", UpdateCandidate{
		Fields:      map[string]any{"owner": "alice"},
		BaseVersion: 0,
		Actor:       "alice",
	}, LastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Fields["owner"])
	assert.Equal(t, 1, snap.Version)
}

func TestUpdateConflictStrategies(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) *Engine {
		e := newTestEngine(t)
		e.now = func() time.Time { return base }
		_, err := e.CreateEntity("p1", "draft")
		require.NoError(t, err)
		// The concurrent write both candidates raced against.
		_, err = e.Update("p1", UpdateCandidate{
			Fields:      map[string]any{"owner": "alice", "notes": "v1"},
			BaseVersion: 0,
			Timestamp:   base,
		}, LastWriteWins)
		require.NoError(t, err)
		return e
	}

	t.Run("last write wins with newer timestamp", func(t *testing.T) {
		e := setup(t)
		snap, err := e.Update("p1", UpdateCandidate{
			Fields:      map[string]any{"owner": "bob"},
			BaseVersion: 0,
			Timestamp:   base.Add(time.Second),
		}, LastWriteWins)
		require.NoError(t, err)
		assert.Equal(t, "bob", snap.Fields["owner"])
	})

	t.Run("last write wins with older timestamp discards", func(t *testing.T) {
		e := setup(t)
		snap, err := e.Update("p1", UpdateCandidate{
			Fields:      map[string]any{"owner": "bob"},
			BaseVersion: 0,
			Timestamp:   base.Add(-time.Second),
		}, LastWriteWins)
		require.NoError(t, err)
		assert.Equal(t, "alice", snap.Fields["owner"])
	})

	t.Run("first write wins discards candidate", func(t *testing.T) {
		e := setup(t)
		snap, err := e.Update("p1", UpdateCandidate{
			Fields:      map[string]any{"owner": "bob"},
			BaseVersion: 0,
			Timestamp:   base.Add(time.Second),
		}, FirstWriteWins)
		require.NoError(t, err)
		assert.Equal(t, "alice", snap.Fields["owner"])
	})

	t.Run("field merge unions non-overlapping changes", func(t *testing.T) {
		e := setup(t)
		snap, err := e.Update("p1", UpdateCandidate{
			Fields: map[string]any{
				"owner":    "bob",  // overlaps the concurrent write: kept as alice
				"priority": "high", // untouched since base: applied
			},
			BaseVersion: 0,
			Timestamp:   base.Add(time.Second),
		}, FieldMerge)
		require.NoError(t, err)
		assert.Equal(t, "alice", snap.Fields["owner"])
		assert.Equal(t, "high", snap.Fields["priority"])
	})

	t.Run("manual persists both candidates unresolved", func(t *testing.T) {
		e := setup(t)
		snap, err := e.Update("p1", UpdateCandidate{
			Fields:      map[string]any{"owner": "bob"},
			BaseVersion: 0,
			Timestamp:   base.Add(time.Second),
			Actor:       "bob",
		}, Manual)
		require.NoError(t, err)
		assert.Equal(t, "alice", snap.Fields["owner"])
		require.Len(t, snap.Conflicts, 1)
		assert.Equal(t, "alice", snap.Conflicts[0].Current["owner"])
		assert.Equal(t, "bob", snap.Conflicts[0].Incoming["owner"])

		// External adjudication applies the chosen values.
		require.NoError(t, e.ResolveConflict("p1", snap.Conflicts[0].ID, map[string]any{"owner": "bob"}))
		snap, _ = e.Get("p1")
		assert.Equal(t, "bob", snap.Fields["owner"])
		assert.Empty(t, snap.Conflicts)
	})
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateEntity("p1", "draft")
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Transition("p1", "draft", "active", "racer", nil)
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			code := types.CodeOf(err)
			assert.Contains(t, []types.ErrorCode{types.ErrStateMismatch, types.ErrLockHeld}, code)
		}
	}
	assert.Equal(t, 1, wins)

	snap, _ := e.Get("p1")
	assert.Len(t, snap.History, 1)
}
