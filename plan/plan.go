// Package plan defines the execution-plan entity type: the lifecycle
// states a plan moves through and the static transition table the state
// machine engine enforces for it.
package plan

import (
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/statemachine"
)

// Plan lifecycle states.
const (
	StateDraft           statemachine.State = "draft"
	StatePendingApproval statemachine.State = "pending_approval"
	StateApproved        statemachine.State = "approved"
	StateActive          statemachine.State = "active"
	StateCompleted       statemachine.State = "completed"
	StateFailed          statemachine.State = "failed"
	StateArchived        statemachine.State = "archived"
)

// Table builds the plan transition table. Completed and failed are
// terminal; their only outgoing edge is to the archival state, which every
// other state can also reach directly. Archived has no outgoing edges.
func Table() *statemachine.TransitionTable {
	t := statemachine.NewTransitionTable()

	t.AddState(StateDraft, false)
	t.AddState(StatePendingApproval, false)
	t.AddState(StateApproved, false)
	t.AddState(StateActive, false)
	t.AddState(StateCompleted, true)
	t.AddState(StateFailed, true)
	t.AddState(StateArchived, true)

	t.AddTransition(StateDraft, StatePendingApproval)
	t.AddTransition(StateDraft, StateActive)
	t.AddTransition(StatePendingApproval, StateApproved)
	t.AddTransition(StatePendingApproval, StateDraft)
	t.AddTransition(StateApproved, StateActive)
	t.AddTransition(StateActive, StateCompleted)
	t.AddTransition(StateActive, StateFailed)

	for _, s := range []statemachine.State{
		StateDraft, StatePendingApproval, StateApproved, StateActive,
		StateCompleted, StateFailed,
	} {
		t.AddTransition(s, StateArchived)
	}

	return t
}

// NewEngine creates a state machine engine over the plan table.
func NewEngine(config statemachine.EngineConfig, logger *zap.Logger) *statemachine.Engine {
	return statemachine.NewEngine(Table(), config, logger)
}
