package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const auditColumns = `id, entity_type, entity_id, action, field_changed, old_value, new_value,
		change_source, batch_id, changed_by, reason, metadata, changed_at`

// SQLiteAuditRepo implements AuditRepo over a DBTX. Rows are append-only;
// there is no update or delete path.
type SQLiteAuditRepo struct {
	db db.DBTX
}

func NewSQLiteAuditRepo(conn db.DBTX) *SQLiteAuditRepo {
	return &SQLiteAuditRepo{db: conn}
}

func (r *SQLiteAuditRepo) Create(ctx context.Context, rec *domain.AuditRecord) error {
	query := `INSERT INTO audit_logs (id, entity_type, entity_id, action, field_changed,
		old_value, new_value, change_source, batch_id, changed_by, reason, metadata, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.EntityType, rec.EntityID, rec.Action, rec.FieldChanged,
		rec.OldValue, rec.NewValue, string(rec.ChangeSource), rec.BatchID,
		rec.ChangedBy, rec.Reason, rec.Metadata, rec.ChangedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// CreateBulk inserts many records in one statement. SQLite caps bound
// parameters, so the batch is chunked.
func (r *SQLiteAuditRepo) CreateBulk(ctx context.Context, recs []*domain.AuditRecord) error {
	const chunkSize = 50
	for start := 0; start < len(recs); start += chunkSize {
		end := start + chunkSize
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO audit_logs (id, entity_type, entity_id, action, field_changed,
			old_value, new_value, change_source, batch_id, changed_by, reason, metadata, changed_at) VALUES `)
		args := make([]any, 0, len(chunk)*13)
		for i, rec := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				rec.ID, rec.EntityType, rec.EntityID, rec.Action, rec.FieldChanged,
				rec.OldValue, rec.NewValue, string(rec.ChangeSource), rec.BatchID,
				rec.ChangedBy, rec.Reason, rec.Metadata, rec.ChangedAt.UTC().Format(time.RFC3339))
		}
		if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("bulk inserting audit records: %w", err)
		}
	}
	return nil
}

func (r *SQLiteAuditRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE batch_id = ? ORDER BY changed_at, id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("listing audit records by batch: %w", err)
	}
	defer rows.Close()
	return scanAuditRecords(rows)
}

func (r *SQLiteAuditRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]*domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		WHERE entity_type = ? AND entity_id = ? ORDER BY changed_at, id`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing audit records by entity: %w", err)
	}
	defer rows.Close()
	return scanAuditRecords(rows)
}

func scanAuditRecords(rows *sql.Rows) ([]*domain.AuditRecord, error) {
	var recs []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var sourceStr, changedAtStr string
		err := rows.Scan(
			&rec.ID, &rec.EntityType, &rec.EntityID, &rec.Action, &rec.FieldChanged,
			&rec.OldValue, &rec.NewValue, &sourceStr, &rec.BatchID,
			&rec.ChangedBy, &rec.Reason, &rec.Metadata, &changedAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec.ChangeSource = domain.ChangeSource(sourceStr)
		if rec.ChangedAt, err = parseTime(changedAtStr, time.RFC3339); err != nil {
			return nil, fmt.Errorf("parsing changed_at: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return recs, nil
}
