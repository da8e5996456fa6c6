package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

// AgentRecord is the point-in-time snapshot a lookup returns. The metadata
// is a copy; mutating it does not affect the registry.
type AgentRecord struct {
	ID       string
	Handle   Handle
	Metadata types.AgentMetadata
}

// record is the canonical registry entry. It exists iff the underlying
// process is alive; the termination watch removes it on death.
type record struct {
	handle   Handle
	metadata types.AgentMetadata
}

// Registry is a concurrent directory of agents with secondary indexes by
// type and capability, group broadcast, and topic publish/subscribe.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*record
	typeIndex map[types.AgentType]map[string]struct{}
	capIndex  map[string]map[string]struct{}

	subMu sync.RWMutex
	subs  map[string]map[Handle]struct{}

	handlerMu sync.RWMutex
	handlers  map[string]EventHandler

	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:    make(map[string]*record),
		typeIndex: make(map[types.AgentType]map[string]struct{}),
		capIndex:  make(map[string]map[string]struct{}),
		subs:      make(map[string]map[Handle]struct{}),
		handlers:  make(map[string]EventHandler),
		logger:    logger.With(zap.String("component", "registry")),
	}
}

// Register inserts an agent record and establishes a termination watch on
// its handle. A live existing record with the same id is an error; a dead
// one whose asynchronous removal has not yet run is replaced in place.
func (r *Registry) Register(id string, handle Handle, metadata types.AgentMetadata) error {
	if id == "" {
		return types.NewError(types.ErrAlreadyRegistered, "agent id is empty")
	}
	if handle == nil {
		return types.NewError(types.ErrNotFound, "handle is nil")
	}

	r.mu.Lock()
	if existing, ok := r.agents[id]; ok {
		if existing.handle.Alive() {
			r.mu.Unlock()
			return types.Errorf(types.ErrAlreadyRegistered, "agent %s already registered", id)
		}
		r.removeLocked(id, existing)
	}

	rec := &record{handle: handle, metadata: metadata.Clone()}
	r.agents[id] = rec
	r.indexLocked(id, rec.metadata)
	r.mu.Unlock()

	go r.watch(id, handle)

	r.logger.Info("agent registered",
		zap.String("agent_id", id),
		zap.String("type", string(metadata.Type)),
		zap.Int("capabilities", len(metadata.Capabilities)),
	)

	r.emitEvent(Event{Type: EventAgentRegistered, AgentID: id, Timestamp: time.Now()})
	return nil
}

// Unregister removes an agent record and all its index entries.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	rec, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	r.removeLocked(id, rec)
	r.mu.Unlock()

	r.dropSubscriber(rec.handle)

	r.logger.Info("agent unregistered", zap.String("agent_id", id))
	r.emitEvent(Event{Type: EventAgentUnregistered, AgentID: id, Timestamp: time.Now()})
	return nil
}

// Update merges a partial metadata mutation into an agent's record, diffing
// the capability set and type so both secondary indexes stay consistent.
func (r *Registry) Update(id string, update types.MetadataUpdate) error {
	r.mu.Lock()
	rec, ok := r.agents[id]
	if !ok || !rec.handle.Alive() {
		r.mu.Unlock()
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}

	r.unindexLocked(id, rec.metadata)

	if update.Type != nil {
		rec.metadata.Type = *update.Type
	}
	if update.Capabilities != nil {
		caps := make([]string, len(update.Capabilities))
		copy(caps, update.Capabilities)
		rec.metadata.Capabilities = caps
	}
	if update.Status != nil {
		rec.metadata.Status = *update.Status
	}
	if len(update.Extra) > 0 {
		if rec.metadata.Extra == nil {
			rec.metadata.Extra = make(map[string]any, len(update.Extra))
		}
		for k, v := range update.Extra {
			rec.metadata.Extra[k] = v
		}
	}

	r.indexLocked(id, rec.metadata)
	r.mu.Unlock()

	r.logger.Debug("agent updated", zap.String("agent_id", id))
	r.emitEvent(Event{Type: EventAgentUpdated, AgentID: id, Timestamp: time.Now()})
	return nil
}

// Lookup returns a snapshot of an agent record. Finding a dead handle
// self-heals: the record is removed asynchronously and not-found is
// returned, so "not found" may mean "was alive a moment ago".
func (r *Registry) Lookup(id string) (AgentRecord, error) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		return AgentRecord{}, types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	if !rec.handle.Alive() {
		go r.reap(id, rec.handle)
		return AgentRecord{}, types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}

	return AgentRecord{ID: id, Handle: rec.handle, Metadata: rec.metadata.Clone()}, nil
}

// FindByType returns snapshots of all live agents of the given type.
func (r *Registry) FindByType(agentType types.AgentType) []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.typeIndex[agentType]
	out := make([]AgentRecord, 0, len(ids))
	for id := range ids {
		if rec, ok := r.agents[id]; ok && rec.handle.Alive() {
			out = append(out, AgentRecord{ID: id, Handle: rec.handle, Metadata: rec.metadata.Clone()})
		}
	}
	return out
}

// FindByCapability returns snapshots of all live agents advertising the
// capability.
func (r *Registry) FindByCapability(capability string) []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.capIndex[capability]
	out := make([]AgentRecord, 0, len(ids))
	for id := range ids {
		if rec, ok := r.agents[id]; ok && rec.handle.Alive() {
			out = append(out, AgentRecord{ID: id, Handle: rec.handle, Metadata: rec.metadata.Clone()})
		}
	}
	return out
}

// FindByPredicate returns snapshots of all live agents whose metadata
// satisfies fn.
func (r *Registry) FindByPredicate(fn func(id string, md types.AgentMetadata) bool) []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AgentRecord
	for id, rec := range r.agents {
		if rec.handle.Alive() && fn(id, rec.metadata) {
			out = append(out, AgentRecord{ID: id, Handle: rec.handle, Metadata: rec.metadata.Clone()})
		}
	}
	return out
}

// ListAll returns snapshots of every live agent.
func (r *Registry) ListAll() []AgentRecord {
	return r.FindByPredicate(func(string, types.AgentMetadata) bool { return true })
}

// Len returns the number of records currently held, dead or alive.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// BroadcastToType delivers a message to every live agent of the type and
// returns the number of successful deliveries.
func (r *Registry) BroadcastToType(agentType types.AgentType, payload any) int {
	return r.deliverAll(r.FindByType(agentType), payload)
}

// BroadcastToCapability delivers a message to every live agent advertising
// the capability and returns the number of successful deliveries.
func (r *Registry) BroadcastToCapability(capability string, payload any) int {
	return r.deliverAll(r.FindByCapability(capability), payload)
}

func (r *Registry) deliverAll(records []AgentRecord, payload any) int {
	count := 0
	for _, rec := range records {
		if rec.Handle.Deliver(Message{Payload: payload}) {
			count++
		}
	}
	return count
}

// Subscribe adds a handle to a topic.
func (r *Registry) Subscribe(topic string, handle Handle) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if r.subs[topic] == nil {
		r.subs[topic] = make(map[Handle]struct{})
	}
	r.subs[topic][handle] = struct{}{}
}

// Unsubscribe removes a handle from a topic, pruning the topic when empty.
func (r *Registry) Unsubscribe(topic string, handle Handle) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if handles, ok := r.subs[topic]; ok {
		delete(handles, handle)
		if len(handles) == 0 {
			delete(r.subs, topic)
		}
	}
}

// Publish delivers a payload to every live subscriber of the topic and
// returns the number of successful deliveries. Dead subscribers found along
// the way are pruned.
func (r *Registry) Publish(topic string, payload any) int {
	r.subMu.RLock()
	handles := make([]Handle, 0, len(r.subs[topic]))
	for h := range r.subs[topic] {
		handles = append(handles, h)
	}
	r.subMu.RUnlock()

	count := 0
	var dead []Handle
	for _, h := range handles {
		if h.Deliver(Message{Topic: topic, Payload: payload}) {
			count++
		} else if !h.Alive() {
			dead = append(dead, h)
		}
	}
	for _, h := range dead {
		r.Unsubscribe(topic, h)
	}
	return count
}

// watch blocks on a handle's termination and removes the record it belongs
// to, so stale entries never accumulate.
func (r *Registry) watch(id string, handle Handle) {
	<-handle.Done()
	if r.reap(id, handle) {
		r.logger.Info("agent terminated, record removed", zap.String("agent_id", id))
		r.emitEvent(Event{Type: EventAgentTerminated, AgentID: id, Timestamp: time.Now()})
	}
}

// reap removes a record only if it still maps to the given handle, guarding
// against a re-registration racing the cleanup.
func (r *Registry) reap(id string, handle Handle) bool {
	r.mu.Lock()
	rec, ok := r.agents[id]
	if !ok || rec.handle != handle {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(id, rec)
	r.mu.Unlock()

	r.dropSubscriber(handle)
	return true
}

// dropSubscriber removes a handle from every topic.
func (r *Registry) dropSubscriber(handle Handle) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for topic, handles := range r.subs {
		delete(handles, handle)
		if len(handles) == 0 {
			delete(r.subs, topic)
		}
	}
}

func (r *Registry) indexLocked(id string, md types.AgentMetadata) {
	if r.typeIndex[md.Type] == nil {
		r.typeIndex[md.Type] = make(map[string]struct{})
	}
	r.typeIndex[md.Type][id] = struct{}{}

	for _, c := range md.Capabilities {
		if r.capIndex[c] == nil {
			r.capIndex[c] = make(map[string]struct{})
		}
		r.capIndex[c][id] = struct{}{}
	}
}

func (r *Registry) unindexLocked(id string, md types.AgentMetadata) {
	if ids, ok := r.typeIndex[md.Type]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.typeIndex, md.Type)
		}
	}
	for _, c := range md.Capabilities {
		if ids, ok := r.capIndex[c]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.capIndex, c)
			}
		}
	}
}

func (r *Registry) removeLocked(id string, rec *record) {
	r.unindexLocked(id, rec.metadata)
	delete(r.agents, id)
}
