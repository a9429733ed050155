package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/domain/entity"
)

// AuditRepository implements port.AuditRepository over case_transitions.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AuditRepository) Append(ctx context.Context, rec *entity.TransitionRecord) error {
	result, err := r.db.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO case_transitions (case_id, action, previous_status, new_status, actor_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CaseID, rec.Action, nullString(rec.PreviousStatus), rec.NewStatus,
		rec.ActorID, nullString(rec.Note), formatTime(rec.Timestamp),
	)
	if err != nil {
		r.logger.Error("Failed to append transition", zap.String("case_id", rec.CaseID), zap.Error(err))
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListByCase orders by timestamp, breaking ties by insertion.
func (r *AuditRepository) ListByCase(ctx context.Context, caseID string) ([]*entity.TransitionRecord, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, case_id, action, previous_status, new_status, actor_id, note, created_at
		FROM case_transitions
		WHERE case_id = ?
		ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var (
			rec        entity.TransitionRecord
			prev, note sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.Action, &prev, &rec.NewStatus, &rec.ActorID, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.PreviousStatus = prev.String
		rec.Note = note.String
		if rec.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

var _ port.AuditRepository = (*AuditRepository)(nil)
