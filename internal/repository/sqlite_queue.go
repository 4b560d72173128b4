package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

// SQLiteAlertQueueRepo implements AlertQueueRepo over a DBTX.
type SQLiteAlertQueueRepo struct {
	db db.DBTX
}

func NewSQLiteAlertQueueRepo(conn db.DBTX) *SQLiteAlertQueueRepo {
	return &SQLiteAlertQueueRepo{db: conn}
}

// Enqueue inserts a pending send. The unique idempotency key makes a
// repeat enqueue for the same alert come back as ErrDuplicate.
func (r *SQLiteAlertQueueRepo) Enqueue(ctx context.Context, q *domain.QueuedSend) error {
	query := `INSERT INTO alert_queue (id, alert_id, idempotency_key, due_at, attempts,
		sent_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		q.ID, q.AlertID, q.IdempotencyKey, q.DueAt.UTC().Format(time.RFC3339), q.Attempts,
		nullableTimeToString(q.SentAt, time.RFC3339), q.LastError,
		q.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("queued send %s: %w", q.IdempotencyKey, ErrDuplicate)
		}
		return fmt.Errorf("enqueueing send: %w", err)
	}
	return nil
}

func (r *SQLiteAlertQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedSend, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, alert_id, idempotency_key, due_at, attempts, sent_at, last_error, created_at
		FROM alert_queue
		WHERE sent_at IS NULL AND due_at <= ?
		ORDER BY due_at LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due sends: %w", err)
	}
	defer rows.Close()

	var due []*domain.QueuedSend
	for rows.Next() {
		var q domain.QueuedSend
		var sentStr sql.NullString
		var dueStr, createdStr string
		if err := rows.Scan(&q.ID, &q.AlertID, &q.IdempotencyKey, &dueStr, &q.Attempts,
			&sentStr, &q.LastError, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning queued send: %w", err)
		}
		q.SentAt = parseNullableTime(sentStr, time.RFC3339)
		if q.DueAt, err = parseTime(dueStr, time.RFC3339); err != nil {
			return nil, fmt.Errorf("parsing due_at: %w", err)
		}
		if q.CreatedAt, err = parseTime(createdStr, time.RFC3339); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		due = append(due, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queued sends: %w", err)
	}
	return due, nil
}

func (r *SQLiteAlertQueueRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_queue SET sent_at = ?, last_error = '' WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking send done: %w", err)
	}
	return nil
}

func (r *SQLiteAlertQueueRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		errMsg, id)
	if err != nil {
		return fmt.Errorf("marking send failed: %w", err)
	}
	return nil
}
