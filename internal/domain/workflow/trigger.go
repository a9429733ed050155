package workflow

import "github.com/portal-idjuv/casework/internal/domain/entity"

// Action names a transition trigger in a workflow's table
// (e.g. "assumir", "aprovar", "marcar_presenca").
type Action string

// Reserved actions recorded by the engine itself.
const (
	ActionCreated Action = entity.AuditActionCreated
	ActionAssign  Action = entity.AuditActionAssign
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsReserved reports whether the action name is owned by the engine and
// cannot appear in a transition table.
func (a Action) IsReserved() bool {
	return a == ActionCreated || a == ActionAssign
}
