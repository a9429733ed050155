package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/dispatcher"
	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	"github.com/portal-idjuv/casework/internal/domain/event"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// noteField is the name reported when a note-requiring action gets none.
const noteField = "note"

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	registry   *domainwf.Registry
	cases      port.CaseRepository
	audit      port.AuditRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	clock      port.Clock
	logger     *zap.Logger
	newID      func() string
	strict     bool
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the wall clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithIDGenerator overrides case id generation
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = fn
	}
}

// WithAuthorization toggles enforcement of declared role and assignee
// restrictions. Single-claim is enforced either way.
func WithAuthorization(strict bool) EngineOption {
	return func(e *engineImpl) {
		e.strict = strict
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	registry *domainwf.Registry,
	cases port.CaseRepository,
	audit port.AuditRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		registry:  registry,
		cases:     cases,
		audit:     audit,
		txManager: txManager,
		clock:     port.SystemClock,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		strict:    true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Create(ctx context.Context, workflowType string, fields map[string]any, actor entity.Actor) (*entity.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	def, err := e.registry.Get(workflowType)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	c := &entity.Case{
		ID:           e.newID(),
		WorkflowType: workflowType,
		Status:       def.Initial().String(),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.MergeFields(fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if err := checkFields(c.Fields); err != nil {
		return nil, err
	}

	rec := &entity.TransitionRecord{
		CaseID:    c.ID,
		Action:    domainwf.ActionCreated.String(),
		NewStatus: c.Status,
		ActorID:   actor.ID,
		Timestamp: now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.cases.Create(txCtx, c); err != nil {
			return fmt.Errorf("failed to create case: %w", err)
		}
		if err := e.audit.Append(txCtx, rec); err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Case creation failed",
			zap.String("workflow_type", workflowType),
			zap.String("actor", actor.ID),
			zap.Error(err))
		return nil, domainwf.WrapPersistence("create case", err)
	}

	e.logger.Info("Case created",
		zap.String("case_id", c.ID),
		zap.String("workflow_type", workflowType),
		zap.String("status", c.Status),
		zap.String("actor", actor.ID))

	e.emit(ctx, event.TypeCaseCreated, c, actor, map[string]interface{}{
		event.KeyNewStatus: c.Status,
	})

	return c.Clone(), nil
}

func (e *engineImpl) Transition(ctx context.Context, caseID string, action domainwf.Action, actor entity.Actor, in TransitionInput) (*entity.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, def, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}

	from := domainwf.Status(current.Status)
	if def.IsTerminal(from) {
		return nil, fmt.Errorf("%w: case %s is in terminal status %s", domainwf.ErrIllegalTransition, caseID, from)
	}

	machine := domainwf.NewMachine(def, from)
	rule, err := machine.Fire(ctx, action)
	if err != nil {
		return nil, err
	}

	if err := e.authorize(def, rule, current, actor); err != nil {
		return nil, err
	}

	if missing := missingInputs(rule, current, in); len(missing) > 0 {
		return nil, &domainwf.MissingFieldsError{Action: action, Fields: missing}
	}

	now := e.now(current)
	next := current.Clone()
	next.MergeFields(in.Fields)
	if len(rule.Derive) > 0 {
		snapshot := *next.Clone()
		for _, derive := range rule.Derive {
			next.MergeFields(derive(snapshot, now, actor))
		}
	}
	if err := checkFields(next.Fields); err != nil {
		return nil, fmt.Errorf("action %s on case %s: %w", action, caseID, err)
	}
	if rule.Claim {
		next.AssignedTo = actor.ID
	}
	if in.Note != "" {
		next.Note = in.Note
	}
	next.Status = machine.State().String()
	next.Version = current.Version + 1
	next.UpdatedAt = now

	rec := &entity.TransitionRecord{
		CaseID:         caseID,
		Action:         action.String(),
		PreviousStatus: current.Status,
		NewStatus:      next.Status,
		ActorID:        actor.ID,
		Note:           in.Note,
		Timestamp:      now,
	}

	if err := e.commit(ctx, next, current.Version, rec); err != nil {
		e.logger.Warn("Transition not committed",
			zap.String("case_id", caseID),
			zap.String("action", action.String()),
			zap.String("actor", actor.ID),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Case transitioned",
		zap.String("case_id", caseID),
		zap.String("workflow_type", next.WorkflowType),
		zap.String("from", current.Status),
		zap.String("to", next.Status),
		zap.String("action", action.String()),
		zap.String("actor", actor.ID))

	e.emit(ctx, event.TypeCaseTransitioned, next, actor, map[string]interface{}{
		event.KeyPreviousStatus: current.Status,
		event.KeyNewStatus:      next.Status,
		event.KeyAction:         action.String(),
		event.KeyNote:           in.Note,
	})

	return next.Clone(), nil
}

func (e *engineImpl) Assign(ctx context.Context, caseID string, actor entity.Actor) (*entity.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, def, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if def.IsTerminal(domainwf.Status(current.Status)) {
		return nil, fmt.Errorf("%w: case %s is in terminal status %s", domainwf.ErrIllegalTransition, caseID, current.Status)
	}
	if current.AssignedTo == actor.ID {
		return current, nil
	}
	if def.SingleClaim() && current.IsAssigned() {
		return nil, fmt.Errorf("%w: case %s is held by %s", domainwf.ErrAlreadyAssigned, caseID, current.AssignedTo)
	}

	now := e.now(current)
	next := current.Clone()
	next.AssignedTo = actor.ID
	next.Version = current.Version + 1
	next.UpdatedAt = now

	rec := &entity.TransitionRecord{
		CaseID:         caseID,
		Action:         domainwf.ActionAssign.String(),
		PreviousStatus: current.Status,
		NewStatus:      current.Status,
		ActorID:        actor.ID,
		Timestamp:      now,
	}

	if err := e.commit(ctx, next, current.Version, rec); err != nil {
		return nil, err
	}

	e.logger.Info("Case assigned",
		zap.String("case_id", caseID),
		zap.String("previous_assignee", current.AssignedTo),
		zap.String("actor", actor.ID))

	e.emit(ctx, event.TypeCaseAssigned, next, actor, map[string]interface{}{
		event.KeyAssignedTo: actor.ID,
	})

	return next.Clone(), nil
}

// ListByStatus re-runs the repository scan every time the sequence is ranged over.
func (e *engineImpl) ListByStatus(ctx context.Context, workflowType string, status domainwf.Status, match Predicate, opts ...ListOption) iter.Seq2[*entity.Case, error] {
	return func(yield func(*entity.Case, error) bool) {
		def, err := e.registry.Get(workflowType)
		if err != nil {
			yield(nil, err)
			return
		}
		if status != "" && !def.IsValid(status) {
			return
		}

		filter := port.CaseFilter{WorkflowType: workflowType, Status: status.String()}
		for _, opt := range opts {
			opt(&filter)
		}
		stopped := false
		err = e.cases.Each(ctx, filter, func(c *entity.Case) bool {
			if match != nil && !match(c) {
				return true
			}
			if !yield(c, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, domainwf.WrapPersistence("list cases", err))
		}
	}
}

func (e *engineImpl) CountByStatus(ctx context.Context, workflowType string) (map[domainwf.Status]int, error) {
	def, err := e.registry.Get(workflowType)
	if err != nil {
		return nil, err
	}

	stored, err := e.cases.CountByStatus(ctx, workflowType)
	if err != nil {
		return nil, domainwf.WrapPersistence("count cases", err)
	}

	counts := make(map[domainwf.Status]int, len(def.Statuses()))
	for _, s := range def.Statuses() {
		counts[s] = stored[s.String()]
	}
	return counts, nil
}

func (e *engineImpl) History(ctx context.Context, caseID string) ([]*entity.TransitionRecord, error) {
	if _, err := e.Get(ctx, caseID); err != nil {
		return nil, err
	}

	records, err := e.audit.ListByCase(ctx, caseID)
	if err != nil {
		return nil, domainwf.WrapPersistence("list history", err)
	}
	return records, nil
}

func (e *engineImpl) Get(ctx context.Context, caseID string) (*entity.Case, error) {
	c, err := e.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, domainwf.WrapPersistence("get case", err)
	}
	return c, nil
}

func (e *engineImpl) PermittedActions(ctx context.Context, caseID string) ([]domainwf.Action, error) {
	c, def, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return domainwf.NewMachine(def, domainwf.Status(c.Status)).PermittedActions(), nil
}

// load reads the case and resolves its definition. A stored status outside
// the definition is a persistence consistency failure.
func (e *engineImpl) load(ctx context.Context, caseID string) (*entity.Case, *domainwf.Definition, error) {
	c, err := e.Get(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}

	def, err := e.registry.Get(c.WorkflowType)
	if err != nil {
		return nil, nil, err
	}

	if !def.IsValid(domainwf.Status(c.Status)) {
		return nil, nil, fmt.Errorf("case %s holds status %q unknown to workflow %s", c.ID, c.Status, def.Type())
	}
	return c, def, nil
}

func (e *engineImpl) authorize(def *domainwf.Definition, rule domainwf.Rule, c *entity.Case, actor entity.Actor) error {
	if rule.Claim && def.SingleClaim() && c.IsAssigned() && c.AssignedTo != actor.ID {
		return fmt.Errorf("%w: case %s is held by %s", domainwf.ErrAlreadyAssigned, c.ID, c.AssignedTo)
	}

	if !e.strict || !rule.Restricted() {
		return nil
	}

	if len(rule.Roles) > 0 && !actor.HasAnyRole(rule.Roles...) {
		return fmt.Errorf("%w: action %s requires one of roles %s", domainwf.ErrActorNotAuthorized, rule.Action, strings.Join(rule.Roles, ", "))
	}
	if rule.AssigneeOnly && (c.AssignedTo == "" || c.AssignedTo != actor.ID) {
		return fmt.Errorf("%w: action %s is reserved to the assignee of case %s", domainwf.ErrActorNotAuthorized, rule.Action, c.ID)
	}
	return nil
}

// commit writes the case at expectedVersion and appends its audit entry in
// one transaction.
func (e *engineImpl) commit(ctx context.Context, next *entity.Case, expectedVersion int64, rec *entity.TransitionRecord) error {
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.cases.Update(txCtx, next, expectedVersion); err != nil {
			return fmt.Errorf("failed to update case: %w", err)
		}
		if err := e.audit.Append(txCtx, rec); err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	return domainwf.WrapPersistence("commit "+rec.Action, err)
}

// now never runs behind the case's last write, keeping history ordered when
// the clock steps backwards.
func (e *engineImpl) now(c *entity.Case) time.Time {
	now := e.clock.Now().UTC()
	if now.Before(c.UpdatedAt) {
		return c.UpdatedAt
	}
	return now
}

func (e *engineImpl) emit(ctx context.Context, t event.Type, c *entity.Case, actor entity.Actor, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(t, c.ID, c.WorkflowType, actor.ID, payload))
}

// checkFields rejects values no store can represent before a transaction
// opens, so they surface as input errors rather than store failures.
func checkFields(fields map[string]any) error {
	if err := json.NewEncoder(io.Discard).Encode(fields); err != nil {
		return fmt.Errorf("%w: %v", domainwf.ErrInvalidFieldValue, err)
	}
	return nil
}

// missingInputs lists required inputs absent from the request. A field
// already present on the case also satisfies the requirement.
func missingInputs(rule domainwf.Rule, c *entity.Case, in TransitionInput) []string {
	var missing []string
	for _, field := range rule.Required {
		if present(in.Fields[field]) {
			continue
		}
		if v, ok := c.Field(field); ok && present(v) {
			continue
		}
		missing = append(missing, field)
	}
	if rule.RequireNote && strings.TrimSpace(in.Note) == "" {
		missing = append(missing, noteField)
	}
	return missing
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}
