package workflow

import (
	"context"
	"iter"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// TransitionInput carries the caller-supplied part of a transition.
type TransitionInput struct {
	Fields map[string]any `json:"fields,omitempty"`
	Note   string         `json:"note,omitempty"`
}

// Predicate filters cases during ListByStatus. It must not mutate the case.
type Predicate func(c *entity.Case) bool

// ListOption narrows the stored scan behind ListByStatus.
type ListOption func(*port.CaseFilter)

// HeldBy restricts a listing to the cases assigned to actorID.
func HeldBy(actorID string) ListOption {
	return func(f *port.CaseFilter) {
		f.AssignedTo = actorID
	}
}

// WorkflowEngine applies table-driven status transitions to cases
type WorkflowEngine interface {
	// Create starts a case in the workflow's initial status
	Create(ctx context.Context, workflowType string, fields map[string]any, actor entity.Actor) (*entity.Case, error)

	// Transition fires action on the case and commits the result with its audit entry
	Transition(ctx context.Context, caseID string, action domainwf.Action, actor entity.Actor, in TransitionInput) (*entity.Case, error)

	// Assign makes actor the holder of the case without changing its status
	Assign(ctx context.Context, caseID string, actor entity.Actor) (*entity.Case, error)

	// ListByStatus lazily streams the cases of a workflow type; an empty status matches any
	ListByStatus(ctx context.Context, workflowType string, status domainwf.Status, match Predicate, opts ...ListOption) iter.Seq2[*entity.Case, error]

	// CountByStatus returns how many cases of a workflow type sit in each of
	// its statuses, zero included
	CountByStatus(ctx context.Context, workflowType string) (map[domainwf.Status]int, error)

	// History returns the audit trail of a case, oldest first
	History(ctx context.Context, caseID string) ([]*entity.TransitionRecord, error)

	// Get returns the current state of a case
	Get(ctx context.Context, caseID string) (*entity.Case, error)

	// PermittedActions returns the actions the table allows from the case's status
	PermittedActions(ctx context.Context, caseID string) ([]domainwf.Action, error)
}
