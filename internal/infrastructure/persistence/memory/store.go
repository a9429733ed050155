// Package memory keeps cases and their audit trail in process memory. It is
// used for tests and for running the service without a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

type txKey struct{}

// Store implements CaseRepository, AuditRepository and TransactionManager.
// A transaction holds the store lock for its whole duration and restores a
// snapshot when it fails.
type Store struct {
	mu      sync.Mutex
	cases   map[string]*entity.Case
	order   []string
	audit   map[string][]*entity.TransitionRecord
	auditID int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		cases: make(map[string]*entity.Case),
		audit: make(map[string][]*entity.TransitionRecord),
	}
}

type snapshot struct {
	cases   map[string]*entity.Case
	order   []string
	audit   map[string][]*entity.TransitionRecord
	auditID int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		cases:   make(map[string]*entity.Case, len(s.cases)),
		order:   append([]string(nil), s.order...),
		audit:   make(map[string][]*entity.TransitionRecord, len(s.audit)),
		auditID: s.auditID,
	}
	for id, c := range s.cases {
		snap.cases[id] = c.Clone()
	}
	for id, recs := range s.audit {
		snap.audit[id] = append([]*entity.TransitionRecord(nil), recs...)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.cases = snap.cases
	s.order = snap.order
	s.audit = snap.audit
	s.auditID = snap.auditID
}

func (s *Store) inTx(ctx context.Context) bool {
	m, ok := ctx.Value(txKey{}).(*Store)
	return ok && m == s
}

// lock takes the store lock unless ctx already runs inside one of its transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Create(ctx context.Context, c *entity.Case) error {
	defer s.lock(ctx)()

	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	s.cases[c.ID] = c.Clone()
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*entity.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(ctx)()

	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrCaseNotFound, id)
	}
	return c.Clone(), nil
}

func (s *Store) Update(ctx context.Context, c *entity.Case, expectedVersion int64) error {
	defer s.lock(ctx)()

	stored, ok := s.cases[c.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domainwf.ErrCaseNotFound, c.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: case %s is at version %d, not %d", domainwf.ErrConcurrentModification, c.ID, stored.Version, expectedVersion)
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

// Each copies the matching cases under the lock and calls fn outside it.
func (s *Store) Each(ctx context.Context, filter port.CaseFilter, fn func(*entity.Case) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lock(ctx)
	var matched []*entity.Case
	for _, id := range s.order {
		c := s.cases[id]
		if filter.WorkflowType != "" && c.WorkflowType != filter.WorkflowType {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && c.AssignedTo != filter.AssignedTo {
			continue
		}
		matched = append(matched, c.Clone())
	}
	unlock()

	for _, c := range matched {
		if !fn(c) {
			return nil
		}
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, workflowType string) (map[string]int, error) {
	defer s.lock(ctx)()

	counts := make(map[string]int)
	for _, c := range s.cases {
		if c.WorkflowType == workflowType {
			counts[c.Status]++
		}
	}
	return counts, nil
}

func (s *Store) Append(ctx context.Context, rec *entity.TransitionRecord) error {
	defer s.lock(ctx)()

	if _, ok := s.cases[rec.CaseID]; !ok {
		return fmt.Errorf("%w: %s", domainwf.ErrCaseNotFound, rec.CaseID)
	}
	s.auditID++
	rec.ID = s.auditID
	stored := *rec
	s.audit[rec.CaseID] = append(s.audit[rec.CaseID], &stored)
	return nil
}

func (s *Store) ListByCase(ctx context.Context, caseID string) ([]*entity.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(ctx)()

	out := make([]*entity.TransitionRecord, 0, len(s.audit[caseID]))
	for _, rec := range s.audit[caseID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

var (
	_ port.CaseRepository     = (*Store)(nil)
	_ port.AuditRepository    = (*Store)(nil)
	_ port.TransactionManager = (*Store)(nil)
)
