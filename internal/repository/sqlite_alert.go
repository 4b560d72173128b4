package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const alertColumns = `id, work_item_id, deadline_date, intended_recipient_id, actual_recipient_id,
		recipient_email, alert_type, escalation_level, urgency, status,
		scheduled_send_at, sent_at, responded_at, expires_at, escalation_timeout_at,
		parent_alert_id, escalation_reason, metadata, created_at, updated_at`

// SQLiteAlertRepo implements AlertRepo over a DBTX.
type SQLiteAlertRepo struct {
	db db.DBTX
}

func NewSQLiteAlertRepo(conn db.DBTX) *SQLiteAlertRepo {
	return &SQLiteAlertRepo{db: conn}
}

// Create inserts an alert. The partial unique index over in-flight
// statuses makes a concurrent duplicate surface as ErrDuplicate; callers
// then look up the winner with GetInFlight.
func (r *SQLiteAlertRepo) Create(ctx context.Context, a *domain.Alert) error {
	query := `INSERT INTO alerts (id, work_item_id, deadline_date, intended_recipient_id, actual_recipient_id,
		recipient_email, alert_type, escalation_level, urgency, status,
		scheduled_send_at, sent_at, responded_at, expires_at, escalation_timeout_at,
		parent_alert_id, escalation_reason, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.WorkItemID, a.DeadlineDate.Format(dateLayout),
		nullableStringToValue(a.IntendedRecipientID), nullableStringToValue(a.ActualRecipientID),
		a.RecipientEmail, string(a.Type), a.EscalationLevel, string(a.Urgency), string(a.Status),
		nullableTimeToString(a.ScheduledSendAt, time.RFC3339),
		nullableTimeToString(a.SentAt, time.RFC3339),
		nullableTimeToString(a.RespondedAt, time.RFC3339),
		nullableTimeToString(a.ExpiresAt, time.RFC3339),
		nullableTimeToString(a.EscalationTimeoutAt, time.RFC3339),
		nullableStringToValue(a.ParentAlertID), a.EscalationReason, a.Metadata,
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("alert for work item %s at level %d: %w", a.WorkItemID, a.EscalationLevel, ErrDuplicate)
		}
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *SQLiteAlertRepo) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlertRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert: %w", ErrNotFound)
	}
	return a, err
}

func (r *SQLiteAlertRepo) GetInFlight(ctx context.Context, workItemID string, deadline time.Time, alertType domain.AlertType, level int) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE work_item_id = ? AND deadline_date = ? AND alert_type = ? AND escalation_level = ?
		  AND status IN ('pending','sent','delivered','opened')`,
		workItemID, deadline.Format(dateLayout), string(alertType), level)
	a, err := scanAlertRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("in-flight alert: %w", ErrNotFound)
	}
	return a, err
}

func (r *SQLiteAlertRepo) ListInFlightForWorkItem(ctx context.Context, workItemID string, deadline time.Time) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE work_item_id = ? AND deadline_date = ?
		  AND status IN ('pending','sent','delivered','opened')
		ORDER BY escalation_level`,
		workItemID, deadline.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("listing in-flight alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *SQLiteAlertRepo) ListTimedOut(ctx context.Context, now time.Time) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE status IN ('sent','delivered','opened')
		  AND escalation_timeout_at IS NOT NULL
		  AND escalation_timeout_at < ?
		ORDER BY escalation_timeout_at`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing timed-out alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *SQLiteAlertRepo) ListExpired(ctx context.Context, now time.Time) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE status IN ('pending','sent','delivered','opened')
		  AND expires_at IS NOT NULL
		  AND expires_at < ?`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing expired alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *SQLiteAlertRepo) ListUnresponded(ctx context.Context, sentBefore time.Time) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE status IN ('sent','delivered','opened')
		  AND sent_at IS NOT NULL
		  AND sent_at < ?
		ORDER BY sent_at`,
		sentBefore.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing unresponded alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *SQLiteAlertRepo) ListByWorkItem(ctx context.Context, workItemID string) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE work_item_id = ? ORDER BY created_at`,
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("listing alerts by work item: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *SQLiteAlertRepo) Update(ctx context.Context, a *domain.Alert) error {
	query := `UPDATE alerts SET status = ?, actual_recipient_id = ?, recipient_email = ?,
		scheduled_send_at = ?, sent_at = ?, responded_at = ?, expires_at = ?,
		escalation_timeout_at = ?, escalation_reason = ?, metadata = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		string(a.Status), nullableStringToValue(a.ActualRecipientID), a.RecipientEmail,
		nullableTimeToString(a.ScheduledSendAt, time.RFC3339),
		nullableTimeToString(a.SentAt, time.RFC3339),
		nullableTimeToString(a.RespondedAt, time.RFC3339),
		nullableTimeToString(a.ExpiresAt, time.RFC3339),
		nullableTimeToString(a.EscalationTimeoutAt, time.RFC3339),
		a.EscalationReason, a.Metadata, nowUTC(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

func scanAlertRow(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var deadlineStr, typeStr, urgencyStr, statusStr, createdAtStr, updatedAtStr string
	var intendedStr, actualStr, parentStr sql.NullString
	var schedStr, sentStr, respStr, expStr, timeoutStr sql.NullString

	err := row.Scan(
		&a.ID, &a.WorkItemID, &deadlineStr, &intendedStr, &actualStr,
		&a.RecipientEmail, &typeStr, &a.EscalationLevel, &urgencyStr, &statusStr,
		&schedStr, &sentStr, &respStr, &expStr, &timeoutStr,
		&parentStr, &a.EscalationReason, &a.Metadata, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning alert: %w", err)
	}

	a.Type = domain.AlertType(typeStr)
	a.Urgency = domain.AlertUrgency(urgencyStr)
	a.Status = domain.AlertStatus(statusStr)
	a.IntendedRecipientID = nullStringToPtr(intendedStr)
	a.ActualRecipientID = nullStringToPtr(actualStr)
	a.ParentAlertID = nullStringToPtr(parentStr)
	a.ScheduledSendAt = parseNullableTime(schedStr, time.RFC3339)
	a.SentAt = parseNullableTime(sentStr, time.RFC3339)
	a.RespondedAt = parseNullableTime(respStr, time.RFC3339)
	a.ExpiresAt = parseNullableTime(expStr, time.RFC3339)
	a.EscalationTimeoutAt = parseNullableTime(timeoutStr, time.RFC3339)

	if a.DeadlineDate, err = parseTime(deadlineStr, dateLayout); err != nil {
		return nil, fmt.Errorf("parsing deadline_date: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}
