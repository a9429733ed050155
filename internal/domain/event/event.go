package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys set by the engine.
const (
	KeyPreviousStatus = "previous_status"
	KeyNewStatus      = "new_status"
	KeyAction         = "action"
	KeyAssignedTo     = "assigned_to"
	KeyNote           = "note"
)

// Event is emitted after a case mutation has committed.
type Event struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	CaseID       string                 `json:"case_id"`
	WorkflowType string                 `json:"workflow_type"`
	ActorID      string                 `json:"actor_id"`
	Payload      map[string]interface{} `json:"payload"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewEvent creates a new domain event with generated ID
func NewEvent(eventType Type, caseID, workflowType, actorID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		CaseID:       caseID,
		WorkflowType: workflowType,
		ActorID:      actorID,
		Payload:      payload,
		Timestamp:    time.Now(),
	}
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
