package workflow

import (
	"context"
	"fmt"
)

// StateMachine evaluates a definition against one case's current status.
type StateMachine interface {
	// State returns the current status
	State() Status

	// CanFire reports whether action is defined from the current status
	CanFire(action Action) bool

	// Fire resolves action and moves the machine to the target status
	Fire(ctx context.Context, action Action) (Rule, error)

	// PermittedActions returns the actions available from the current status
	PermittedActions() []Action
}

type stateMachine struct {
	def          *Definition
	currentState Status
}

// NewMachine returns a machine positioned at current.
func NewMachine(def *Definition, current Status) StateMachine {
	return &stateMachine{def: def, currentState: current}
}

// State returns the current status
func (m *stateMachine) State() Status {
	return m.currentState
}

// CanFire reports whether action is defined from the current status
func (m *stateMachine) CanFire(action Action) bool {
	_, ok := m.def.Lookup(m.currentState, action)
	return ok
}

// Fire resolves action. The machine only moves on success.
func (m *stateMachine) Fire(ctx context.Context, action Action) (Rule, error) {
	if err := ctx.Err(); err != nil {
		return Rule{}, err
	}

	rule, ok := m.def.Lookup(m.currentState, action)
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s has no action %s from status %s", ErrIllegalTransition, m.def.Type(), action, m.currentState)
	}

	m.currentState = rule.To
	return rule, nil
}

// PermittedActions returns the actions available from the current status
func (m *stateMachine) PermittedActions() []Action {
	return m.def.Actions(m.currentState)
}
