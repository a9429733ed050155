package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownWorkflowType is returned when a workflow tag has no registered definition
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrCaseNotFound is returned when a case id does not resolve
	ErrCaseNotFound = errors.New("case not found")

	// ErrIllegalTransition is returned when an action is not defined for the current status
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrMissingRequiredField is returned when an action's declared inputs are absent
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrActorNotAuthorized is returned when the actor lacks the role or assignment an action requires
	ErrActorNotAuthorized = errors.New("actor not authorized")

	// ErrAlreadyAssigned is returned when a single-claim case is held by another actor
	ErrAlreadyAssigned = errors.New("case already assigned")

	// ErrConcurrentModification is returned when the case changed between read and write
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidFieldValue is returned when a case field cannot be stored (NaN, Inf, channels...)
	ErrInvalidFieldValue = errors.New("invalid field value")

	// ErrPersistenceUnavailable marks failures of the underlying store
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrInvalidDefinition is returned by Builder.Build for inconsistent tables
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)

// MissingFieldsError lists every required input absent from a transition request.
type MissingFieldsError struct {
	Action Action
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: action %s requires %s", ErrMissingRequiredField, e.Action, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error {
	return ErrMissingRequiredField
}

// persistenceError keeps the store's cause reachable while classifying it.
type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistenceUnavailable, e.op, e.err)
}

func (e *persistenceError) Unwrap() []error {
	return []error{ErrPersistenceUnavailable, e.err}
}

// WrapPersistence classifies a store failure. Business errors the store
// reports itself (not found, version conflict) pass through untouched.
func WrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInvalidFieldValue) ||
		errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	return &persistenceError{op: op, err: err}
}
