package port

import (
	"context"
	"time"

	"github.com/portal-idjuv/casework/internal/domain/entity"
)

// CaseFilter selects the cases a listing visits. Empty fields match everything.
type CaseFilter struct {
	WorkflowType string
	Status       string
	AssignedTo   string
}

// CaseRepository persists the current state of cases.
type CaseRepository interface {
	Create(ctx context.Context, c *entity.Case) error
	GetByID(ctx context.Context, id string) (*entity.Case, error)
	// Update writes c only if the stored version equals expectedVersion and
	// reports workflow.ErrConcurrentModification otherwise.
	Update(ctx context.Context, c *entity.Case, expectedVersion int64) error
	// Each streams matching cases in creation order until fn returns false.
	Each(ctx context.Context, filter CaseFilter, fn func(*entity.Case) bool) error
	CountByStatus(ctx context.Context, workflowType string) (map[string]int, error)
}

// AuditRepository is the append-only transition log.
type AuditRepository interface {
	Append(ctx context.Context, rec *entity.TransitionRecord) error
	ListByCase(ctx context.Context, caseID string) ([]*entity.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Clock supplies transition timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
