package entity

import "time"

// Reserved audit actions that do not come from a transition table.
const (
	AuditActionCreated = "created"
	AuditActionAssign  = "assign"
)

// TransitionRecord is one append-only audit entry of a case's status history.
// PreviousStatus is empty for the synthetic "created" entry.
type TransitionRecord struct {
	ID             int64     `json:"id"`
	CaseID         string    `json:"case_id"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status"`
	ActorID        string    `json:"actor_id"`
	Note           string    `json:"note,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsCreation reports whether the entry is the synthetic creation entry.
func (r *TransitionRecord) IsCreation() bool {
	return r.PreviousStatus == "" && r.Action == AuditActionCreated
}
