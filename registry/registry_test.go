package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

func newTestAgent(t *testing.T, r *Registry, id string, agentType types.AgentType, caps ...string) *LocalHandle {
	t.Helper()
	h := NewLocalHandle(16)
	err := r.Register(id, h, types.AgentMetadata{
		Type:         agentType,
		Capabilities: caps,
		Status:       types.AgentRunning,
	})
	require.NoError(t, err)
	return h
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(zap.NewNop())
	h := newTestAgent(t, r, "a1", types.TypeAnalysis, "code_analysis")

	rec, err := r.Lookup("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID)
	assert.Same(t, h, rec.Handle)
	assert.Equal(t, types.TypeAnalysis, rec.Metadata.Type)

	// Snapshot is a copy, not an alias.
	rec.Metadata.Capabilities[0] = "mutated"
	rec2, err := r.Lookup("a1")
	require.NoError(t, err)
	assert.Equal(t, "code_analysis", rec2.Metadata.Capabilities[0])
}

func TestRegisterDuplicate(t *testing.T) {
	r := New(zap.NewNop())
	newTestAgent(t, r, "a1", types.TypeAnalysis)

	err := r.Register("a1", NewLocalHandle(1), types.AgentMetadata{Type: types.TypeAnalysis})
	require.Error(t, err)
	assert.Equal(t, types.ErrAlreadyRegistered, types.CodeOf(err))
}

func TestRegisterOverDeadRecord(t *testing.T) {
	r := New(zap.NewNop())
	h := newTestAgent(t, r, "a1", types.TypeAnalysis, "old")
	h.Close()

	// Re-registration may race the asynchronous reap; it must succeed either way.
	h2 := NewLocalHandle(1)
	err := r.Register("a1", h2, types.AgentMetadata{Type: types.TypeAnalysis, Capabilities: []string{"new"}})
	require.NoError(t, err)

	rec, err := r.Lookup("a1")
	require.NoError(t, err)
	assert.Same(t, h2, rec.Handle)
	assert.Empty(t, r.FindByCapability("old"))
}

func TestUnregister(t *testing.T) {
	r := New(zap.NewNop())
	newTestAgent(t, r, "a1", types.TypeAnalysis, "code_analysis")

	require.NoError(t, r.Unregister("a1"))

	_, err := r.Lookup("a1")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
	assert.Empty(t, r.FindByCapability("code_analysis"))
	assert.Empty(t, r.FindByType(types.TypeAnalysis))

	err = r.Unregister("a1")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestUpdateReindexesCapabilities(t *testing.T) {
	r := New(zap.NewNop())
	newTestAgent(t, r, "a1", types.TypeAnalysis, "lint", "format")

	status := types.AgentRunning
	err := r.Update("a1", types.MetadataUpdate{
		Capabilities: []string{"lint", "security_scan"},
		Status:       &status,
		Extra:        map[string]any{"version": "2"},
	})
	require.NoError(t, err)

	assert.Len(t, r.FindByCapability("lint"), 1)
	assert.Len(t, r.FindByCapability("security_scan"), 1)
	assert.Empty(t, r.FindByCapability("format"))

	rec, err := r.Lookup("a1")
	require.NoError(t, err)
	assert.Equal(t, "2", rec.Metadata.Extra["version"])
}

func TestUpdateChangesTypeIndex(t *testing.T) {
	r := New(zap.NewNop())
	newTestAgent(t, r, "a1", types.TypeAnalysis)

	newType := types.TypeReview
	require.NoError(t, r.Update("a1", types.MetadataUpdate{Type: &newType}))

	assert.Empty(t, r.FindByType(types.TypeAnalysis))
	assert.Len(t, r.FindByType(types.TypeReview), 1)
}

func TestUpdateNotFound(t *testing.T) {
	r := New(zap.NewNop())
	err := r.Update("ghost", types.MetadataUpdate{})
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestFindByPredicate(t *testing.T) {
	r := New(zap.NewNop())
	newTestAgent(t, r, "a1", types.TypeAnalysis, "lint")
	newTestAgent(t, r, "a2", types.TypeAnalysis, "lint", "security_scan")
	newTestAgent(t, r, "g1", types.TypeGeneration, "codegen")

	found := r.FindByPredicate(func(id string, md types.AgentMetadata) bool {
		return md.HasAllCapabilities([]string{"lint", "security_scan"})
	})
	require.Len(t, found, 1)
	assert.Equal(t, "a2", found[0].ID)

	assert.Len(t, r.ListAll(), 3)
}

func TestTerminationRemovesRecordAndIndexes(t *testing.T) {
	r := New(zap.NewNop())
	h := newTestAgent(t, r, "a1", types.TypeAnalysis, "lint", "format")
	newTestAgent(t, r, "a2", types.TypeAnalysis, "lint")

	h.Close()

	require.Eventually(t, func() bool {
		_, err := r.Lookup("a1")
		return types.CodeOf(err) == types.ErrNotFound
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(r.FindByCapability("lint")) == 1 && len(r.FindByCapability("format")) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "a2", r.FindByCapability("lint")[0].ID)
}

func TestLookupDeadHandleSelfHeals(t *testing.T) {
	r := New(zap.NewNop())
	h := newTestAgent(t, r, "a1", types.TypeAnalysis)
	h.Close()

	_, err := r.Lookup("a1")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	r := New(zap.NewNop())
	h1 := newTestAgent(t, r, "a1", types.TypeAnalysis, "lint")
	h2 := newTestAgent(t, r, "a2", types.TypeAnalysis, "lint")
	newTestAgent(t, r, "g1", types.TypeGeneration, "codegen")

	count := r.BroadcastToType(types.TypeAnalysis, "ping")
	assert.Equal(t, 2, count)
	assert.Len(t, h1.Mailbox(), 1)
	assert.Len(t, h2.Mailbox(), 1)

	count = r.BroadcastToCapability("codegen", "work")
	assert.Equal(t, 1, count)

	h1.Close()
	count = r.BroadcastToType(types.TypeAnalysis, "ping")
	assert.Equal(t, 1, count)
}

func TestPubSub(t *testing.T) {
	r := New(zap.NewNop())
	h1 := NewLocalHandle(4)
	h2 := NewLocalHandle(4)

	r.Subscribe("builds", h1)
	r.Subscribe("builds", h2)

	count := r.Publish("builds", "started")
	assert.Equal(t, 2, count)

	msg := <-h1.Mailbox()
	assert.Equal(t, "builds", msg.Topic)
	assert.Equal(t, "started", msg.Payload)

	r.Unsubscribe("builds", h2)
	assert.Equal(t, 1, r.Publish("builds", "done"))

	// Dead subscribers are pruned during publish.
	h1.Close()
	assert.Equal(t, 0, r.Publish("builds", "again"))
	assert.Equal(t, 0, r.Publish("no-such-topic", "x"))
}

func TestEvents(t *testing.T) {
	r := New(zap.NewNop())

	var mu sync.Mutex
	var got []EventType
	subID := r.OnEvent(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	h := newTestAgent(t, r, "a1", types.TypeAnalysis)
	require.NoError(t, r.Update("a1", types.MetadataUpdate{}))
	h.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []EventType{EventAgentRegistered, EventAgentUpdated, EventAgentTerminated}, got)
	mu.Unlock()

	r.Off(subID)
	newTestAgent(t, r, "a2", types.TypeAnalysis)

	mu.Lock()
	assert.Len(t, got, 3)
	mu.Unlock()
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", n)
			h := NewLocalHandle(1)
			if err := r.Register(id, h, types.AgentMetadata{
				Type:         types.TypeAnalysis,
				Capabilities: []string{"lint"},
			}); err != nil {
				return
			}
			r.FindByCapability("lint")
			_ = r.Unregister(id)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.FindByCapability("lint"))
	assert.Equal(t, 0, r.Len())
}
