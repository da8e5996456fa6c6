package statemachine

import (
	"github.com/tasknet-io/tasknet/types"
)

// State is a named state of an entity type.
type State string

// TransitionDescriptor describes one validated edge of the table.
type TransitionDescriptor struct {
	From       State
	To         State
	ToTerminal bool
}

// stateInfo holds the static properties of one state.
type stateInfo struct {
	terminal bool
	next     map[State]struct{}
}

// TransitionTable is the static mapping of legal state->state edges for an
// entity type. Tables are built once and never mutated afterwards, so they
// are safe for concurrent readers.
type TransitionTable struct {
	states map[State]*stateInfo
}

// NewTransitionTable creates an empty table.
func NewTransitionTable() *TransitionTable {
	return &TransitionTable{states: make(map[State]*stateInfo)}
}

// AddState declares a state. Terminal states may not grow outgoing edges
// except to an archival state added explicitly via AddTransition.
func (t *TransitionTable) AddState(s State, terminal bool) *TransitionTable {
	if info, ok := t.states[s]; ok {
		info.terminal = terminal
		return t
	}
	t.states[s] = &stateInfo{terminal: terminal, next: make(map[State]struct{})}
	return t
}

// AddTransition declares a legal edge. Unknown states are declared
// implicitly as non-terminal.
func (t *TransitionTable) AddTransition(from, to State) *TransitionTable {
	if _, ok := t.states[from]; !ok {
		t.AddState(from, false)
	}
	if _, ok := t.states[to]; !ok {
		t.AddState(to, false)
	}
	t.states[from].next[to] = struct{}{}
	return t
}

// HasState reports whether the table declares the state.
func (t *TransitionTable) HasState(s State) bool {
	_, ok := t.states[s]
	return ok
}

// IsTerminal reports whether the state is terminal.
func (t *TransitionTable) IsTerminal(s State) bool {
	info, ok := t.states[s]
	return ok && info.terminal
}

// NextStates returns the legal successors of a state.
func (t *TransitionTable) NextStates(s State) []State {
	info, ok := t.states[s]
	if !ok {
		return nil
	}
	out := make([]State, 0, len(info.next))
	for n := range info.next {
		out = append(out, n)
	}
	return out
}

// ValidateTransition checks a single edge, returning its descriptor when
// legal. Unknown states yield INVALID_STATE; a missing edge between two
// known states yields INVALID_TRANSITION.
func (t *TransitionTable) ValidateTransition(from, to State) (TransitionDescriptor, error) {
	fromInfo, ok := t.states[from]
	if !ok {
		return TransitionDescriptor{}, types.Errorf(types.ErrInvalidState, "unknown state %q", from)
	}
	toInfo, ok := t.states[to]
	if !ok {
		return TransitionDescriptor{}, types.Errorf(types.ErrInvalidState, "unknown state %q", to)
	}
	if _, legal := fromInfo.next[to]; !legal {
		return TransitionDescriptor{}, types.Errorf(types.ErrInvalidTransition,
			"illegal transition %q -> %q", from, to)
	}
	return TransitionDescriptor{From: from, To: to, ToTerminal: toInfo.terminal}, nil
}

// Path computes a shortest sequence of legal transitions from one state to
// another by breadth-first search over the table. It returns the
// intermediate hops including the target, excluding the start, or
// INVALID_TRANSITION when no path exists. Rollback uses this to replay the
// table backward; it can never bypass it.
func (t *TransitionTable) Path(from, to State) ([]State, error) {
	if !t.HasState(from) {
		return nil, types.Errorf(types.ErrInvalidState, "unknown state %q", from)
	}
	if !t.HasState(to) {
		return nil, types.Errorf(types.ErrInvalidState, "unknown state %q", to)
	}
	if from == to {
		return nil, nil
	}

	prev := map[State]State{from: from}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range t.states[cur].next {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []State
				for s := to; s != from; s = prev[s] {
					path = append(path, s)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, nil
			}
			queue = append(queue, next)
		}
	}

	return nil, types.Errorf(types.ErrInvalidTransition, "no legal path %q -> %q", from, to)
}
