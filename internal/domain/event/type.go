package event

// Type identifies the type of domain event
type Type string

const (
	TypeCaseCreated      Type = "case.created"
	TypeCaseTransitioned Type = "case.transitioned"
	TypeCaseAssigned     Type = "case.assigned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeCaseCreated, TypeCaseTransitioned, TypeCaseAssigned:
		return true
	default:
		return false
	}
}
