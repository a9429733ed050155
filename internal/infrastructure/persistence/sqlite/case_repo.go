package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// scanPageSize bounds how many rows Each holds open at once. Rows are
// released before the callback runs so callers may write while iterating.
const scanPageSize = 100

const caseColumns = `rowid, id, workflow_type, status, fields, assigned_to, note, version, created_at, updated_at`

// CaseRepository implements port.CaseRepository
type CaseRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *DB, logger *zap.Logger) *CaseRepository {
	return &CaseRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CaseRepository) Create(ctx context.Context, c *entity.Case) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}

	_, err = r.db.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO cases (id, workflow_type, status, fields, assigned_to, note, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkflowType, c.Status, fields,
		nullString(c.AssignedTo), nullString(c.Note), c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create case", zap.String("case_id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (r *CaseRepository) GetByID(ctx context.Context, id string) (*entity.Case, error) {
	row := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)

	c, _, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", id, err)
	}
	return c, nil
}

func (r *CaseRepository) Update(ctx context.Context, c *entity.Case, expectedVersion int64) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}

	exec := r.db.getExecutor(ctx)
	result, err := exec.ExecContext(ctx, `
		UPDATE cases
		SET status = ?, fields = ?, assigned_to = ?, note = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Status, fields, nullString(c.AssignedTo), nullString(c.Note), c.Version, formatTime(c.UpdatedAt),
		c.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = exec.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id = ?`, c.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domainwf.ErrCaseNotFound, c.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to check case %s: %w", c.ID, err)
	}
	return fmt.Errorf("%w: case %s is no longer at version %d", domainwf.ErrConcurrentModification, c.ID, expectedVersion)
}

// Each pages through matching rows in insertion order.
func (r *CaseRepository) Each(ctx context.Context, filter port.CaseFilter, fn func(*entity.Case) bool) error {
	var (
		where []string
		args  []interface{}
	)
	if filter.WorkflowType != "" {
		where = append(where, "workflow_type = ?")
		args = append(args, filter.WorkflowType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	where = append(where, "rowid > ?")

	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY rowid LIMIT ?`

	var cursor int64
	for {
		page, last, err := r.page(ctx, query, append(append([]interface{}{}, args...), cursor, scanPageSize))
		if err != nil {
			return err
		}
		for _, c := range page {
			if !fn(c) {
				return nil
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		cursor = last
	}
}

func (r *CaseRepository) page(ctx context.Context, query string, args []interface{}) ([]*entity.Case, int64, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var (
		page []*entity.Case
		last int64
	)
	for rows.Next() {
		c, rowid, err := scanCase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan case: %w", err)
		}
		page = append(page, c)
		last = rowid
	}
	return page, last, rows.Err()
}

func (r *CaseRepository) CountByStatus(ctx context.Context, workflowType string) (map[string]int, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM cases WHERE workflow_type = ? GROUP BY status`, workflowType)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*entity.Case, int64, error) {
	var (
		c                    entity.Case
		rowid                int64
		fields               string
		assignedTo, note     sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&rowid, &c.ID, &c.WorkflowType, &c.Status, &fields, &assignedTo, &note, &c.Version, &createdAt, &updatedAt); err != nil {
		return nil, 0, err
	}

	// Numbers stay json.Number so integers beyond 2^53 keep every digit.
	dec := json.NewDecoder(strings.NewReader(fields))
	dec.UseNumber()
	if err := dec.Decode(&c.Fields); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fields of case %s: %w", c.ID, err)
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	c.AssignedTo = assignedTo.String
	c.Note = note.String

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, 0, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, 0, err
	}
	return &c, rowid, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode case fields: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ port.CaseRepository = (*CaseRepository)(nil)
