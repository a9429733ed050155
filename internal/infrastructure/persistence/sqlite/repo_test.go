package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
	"github.com/portal-idjuv/casework/pkg/database"
)

type fixture struct {
	db    *DB
	cases *CaseRepository
	audit *AuditRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	raw, err := database.New(ctx, database.Config{Path: filepath.Join(t.TempDir(), "casework.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	_, err = database.NewMigrator(raw, logger).Run(ctx, database.Migrations())
	require.NoError(t, err)

	db := NewDB(raw.DB, logger)
	return &fixture{
		db:    db,
		cases: NewCaseRepository(db, logger),
		audit: NewAuditRepository(db, logger),
	}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

func newCase(id, workflowType, status string) *entity.Case {
	return &entity.Case{
		ID:           id,
		WorkflowType: workflowType,
		Status:       status,
		Fields:       map[string]any{"nome": "Ana " + id, "valor": 10.5},
		Version:      1,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func TestCaseRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := newCase("c1", "gestor", "aguardando")
	require.NoError(t, f.cases.Create(ctx, c))

	got, err := f.cases.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "gestor", got.WorkflowType)
	assert.Equal(t, "Ana c1", got.Fields["nome"])
	assert.Equal(t, json.Number("10.5"), got.Fields["valor"])
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, t0.Equal(got.CreatedAt), got.CreatedAt)

	_, err = f.cases.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domainwf.ErrCaseNotFound)

	assert.Error(t, f.cases.Create(ctx, c), "duplicate id")
}

func TestCaseRepositoryKeepsNumbersExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := newCase("c1", "designacao", "vigente")
	c.Fields = map[string]any{
		"processo": int64(12345678901234567),
		"dias":     3,
		"valor":    1500.25,
	}
	require.NoError(t, f.cases.Create(ctx, c))

	got, err := f.cases.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), got.Fields["processo"])
	assert.Equal(t, json.Number("3"), got.Fields["dias"])
	assert.Equal(t, json.Number("1500.25"), got.Fields["valor"])

	n, err := got.Fields["processo"].(json.Number).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(12345678901234567), n)
	assert.True(t, workflow.FieldEquals("processo", int64(12345678901234567))(got))
}

func TestCaseRepositoryOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cases.Create(ctx, newCase("c1", "gestor", "aguardando")))

	next := newCase("c1", "gestor", "em_processamento")
	next.AssignedTo = "A"
	next.Version = 2
	next.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, f.cases.Update(ctx, next, 1))

	got, err := f.cases.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "em_processamento", got.Status)
	assert.Equal(t, "A", got.AssignedTo)
	assert.Equal(t, int64(2), got.Version)

	stale := newCase("c1", "gestor", "cancelado")
	stale.Version = 2
	err = f.cases.Update(ctx, stale, 1)
	assert.ErrorIs(t, err, domainwf.ErrConcurrentModification)

	ghost := newCase("ghost", "gestor", "cancelado")
	err = f.cases.Update(ctx, ghost, 1)
	assert.ErrorIs(t, err, domainwf.ErrCaseNotFound)
}

func TestCaseRepositoryEach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// more than two pages
	for i := 0; i < 2*scanPageSize+17; i++ {
		status := "aguardando"
		if i%3 == 0 {
			status = "cancelado"
		}
		require.NoError(t, f.cases.Create(ctx, newCase(fmt.Sprintf("g%03d", i), "gestor", status)))
	}
	require.NoError(t, f.cases.Create(ctx, newCase("other", "inscricao", "aguardando")))

	var ids []string
	require.NoError(t, f.cases.Each(ctx, port.CaseFilter{WorkflowType: "gestor"}, func(c *entity.Case) bool {
		ids = append(ids, c.ID)
		return true
	}))
	require.Len(t, ids, 2*scanPageSize+17)
	assert.Equal(t, "g000", ids[0])
	assert.Equal(t, fmt.Sprintf("g%03d", 2*scanPageSize+16), ids[len(ids)-1])

	n := 0
	require.NoError(t, f.cases.Each(ctx, port.CaseFilter{WorkflowType: "gestor", Status: "cancelado"}, func(c *entity.Case) bool {
		assert.Equal(t, "cancelado", c.Status)
		n++
		return true
	}))
	assert.Equal(t, 73, n)

	n = 0
	require.NoError(t, f.cases.Each(ctx, port.CaseFilter{}, func(c *entity.Case) bool {
		n++
		return n < 5
	}))
	assert.Equal(t, 5, n)

	counts, err := f.cases.CountByStatus(ctx, "gestor")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"aguardando": 144, "cancelado": 73}, counts)
}

func TestCaseRepositoryEachAllowsWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.cases.Create(ctx, newCase(fmt.Sprintf("c%d", i), "gestor", "aguardando")))
	}

	err := f.cases.Each(ctx, port.CaseFilter{Status: "aguardando"}, func(c *entity.Case) bool {
		next := c.Clone()
		next.Status = "cancelado"
		next.Version++
		require.NoError(t, f.cases.Update(ctx, next, c.Version))
		return true
	})
	require.NoError(t, err)

	counts, err := f.cases.CountByStatus(ctx, "gestor")
	require.NoError(t, err)
	assert.Equal(t, 5, counts["cancelado"])
}

func TestAuditRepositoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cases.Create(ctx, newCase("c1", "gestor", "aguardando")))

	created := &entity.TransitionRecord{CaseID: "c1", Action: "created", NewStatus: "aguardando", ActorID: "portal", Timestamp: t0}
	claimed := &entity.TransitionRecord{CaseID: "c1", Action: "assumir", PreviousStatus: "aguardando", NewStatus: "em_processamento", ActorID: "A", Timestamp: t0}
	require.NoError(t, f.audit.Append(ctx, created))
	require.NoError(t, f.audit.Append(ctx, claimed))
	assert.Greater(t, claimed.ID, created.ID)

	records, err := f.audit.ListByCase(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].IsCreation())
	assert.Equal(t, "assumir", records[1].Action)
	assert.Equal(t, "aguardando", records[1].PreviousStatus)

	_, err = f.db.ExecContext(ctx, `UPDATE case_transitions SET actor_id = 'B'`)
	assert.Error(t, err)
	_, err = f.db.ExecContext(ctx, `DELETE FROM case_transitions`)
	assert.Error(t, err)

	orphan := &entity.TransitionRecord{CaseID: "nope", Action: "created", NewStatus: "x", ActorID: "a", Timestamp: t0}
	assert.Error(t, f.audit.Append(ctx, orphan), "foreign key")
}

func TestWithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	boom := errors.New("boom")

	err := f.db.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, f.cases.Create(txCtx, newCase("c1", "gestor", "aguardando")))
		// nested calls join the outer transaction
		return f.db.WithTransaction(txCtx, func(inner context.Context) error {
			require.NoError(t, f.audit.Append(inner, &entity.TransitionRecord{
				CaseID: "c1", Action: "created", NewStatus: "aguardando", ActorID: "a", Timestamp: t0,
			}))
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	_, err = f.cases.GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domainwf.ErrCaseNotFound)

	cancelCtx, cancel := context.WithCancel(ctx)
	err = f.db.WithTransaction(cancelCtx, func(txCtx context.Context) error {
		if err := f.cases.Create(txCtx, newCase("c2", "gestor", "aguardando")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.cases.GetByID(ctx, "c2")
	assert.ErrorIs(t, err, domainwf.ErrCaseNotFound)
}

func TestEngineOnSQLite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry, err := workflow.NewRegistry()
	require.NoError(t, err)
	engine := workflow.NewEngine(registry, f.cases, f.audit, f.db)

	c, err := engine.Create(ctx, workflow.TypeGestor, map[string]any{"nome": "Maria"}, entity.Actor{ID: "portal"})
	require.NoError(t, err)

	// racing claims: exactly one wins
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
		errs []error
	)
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := engine.Transition(ctx, c.ID, "assumir", entity.Actor{ID: id}, workflow.TransitionInput{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, id)
				return
			}
			errs = append(errs, err)
		}(id)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	for _, err := range errs {
		assert.True(t,
			errors.Is(err, domainwf.ErrConcurrentModification) || errors.Is(err, domainwf.ErrAlreadyAssigned),
			"unexpected error: %v", err)
	}

	got, err := engine.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], got.AssignedTo)
	assert.Equal(t, int64(2), got.Version)

	history, err := engine.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	def, err := registry.Get(workflow.TypeGestor)
	require.NoError(t, err)
	status, err := def.Replay(history)
	require.NoError(t, err)
	assert.Equal(t, domainwf.Status(got.Status), status)
}

const medicaoYAML = `
type: medicao
initial: aberta
statuses: [aberta, medida]
terminal: [medida]
transitions:
  - from: aberta
    action: medir
    to: medida
    derive: ["percent:pct:feito:total"]
`

func TestEngineOnSQLiteFieldValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	extra, err := workflow.ParseDefinitions([]byte(medicaoYAML))
	require.NoError(t, err)
	registry, err := workflow.NewRegistry(extra...)
	require.NoError(t, err)
	engine := workflow.NewEngine(registry, f.cases, f.audit, f.db)
	portal := entity.Actor{ID: "portal"}

	t.Run("non-finite text derives nothing", func(t *testing.T) {
		c, err := engine.Create(ctx, "medicao", map[string]any{"feito": "NaN", "total": 10}, portal)
		require.NoError(t, err)

		c, err = engine.Transition(ctx, c.ID, "medir", portal, workflow.TransitionInput{})
		require.NoError(t, err)
		assert.Equal(t, "medida", c.Status)
		assert.NotContains(t, c.Fields, "pct")
	})

	t.Run("stored numbers feed derivations", func(t *testing.T) {
		c, err := engine.Create(ctx, "medicao", map[string]any{"feito": 3, "total": 12}, portal)
		require.NoError(t, err)

		c, err = engine.Transition(ctx, c.ID, "medir", portal, workflow.TransitionInput{})
		require.NoError(t, err)
		assert.Equal(t, 25.0, c.Fields["pct"])

		got, err := engine.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, json.Number("25"), got.Fields["pct"])
	})

	t.Run("unstorable value is an input error", func(t *testing.T) {
		c, err := engine.Create(ctx, "medicao", nil, portal)
		require.NoError(t, err)

		_, err = engine.Transition(ctx, c.ID, "medir", portal, workflow.TransitionInput{Fields: map[string]any{"feito": math.NaN()}})
		assert.ErrorIs(t, err, domainwf.ErrInvalidFieldValue)
		assert.NotErrorIs(t, err, domainwf.ErrPersistenceUnavailable)

		got, err := engine.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "aberta", got.Status)
	})
}
