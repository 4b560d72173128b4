package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const resourceColumns = `id, external_id, name, primary_email, notification_email, role,
		backup_resource_id, manager_id, availability_status, leave_start, leave_end,
		timezone, max_utilization, chat_user_id, country, created_at, updated_at`

// SQLiteResourceRepo implements ResourceRepo over a DBTX.
type SQLiteResourceRepo struct {
	db db.DBTX
}

func NewSQLiteResourceRepo(conn db.DBTX) *SQLiteResourceRepo {
	return &SQLiteResourceRepo{db: conn}
}

// Upsert inserts or refreshes a resource keyed by external_id. Existing
// rows keep their id so foreign keys stay stable across imports.
func (r *SQLiteResourceRepo) Upsert(ctx context.Context, res *domain.Resource) error {
	query := `INSERT INTO resources (id, external_id, name, primary_email, notification_email, role,
		backup_resource_id, manager_id, availability_status, leave_start, leave_end,
		timezone, max_utilization, chat_user_id, country, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			primary_email = excluded.primary_email,
			notification_email = excluded.notification_email,
			role = excluded.role,
			backup_resource_id = excluded.backup_resource_id,
			manager_id = excluded.manager_id,
			timezone = excluded.timezone,
			max_utilization = excluded.max_utilization,
			country = excluded.country,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		res.ID, res.ExternalID, res.Name, res.PrimaryEmail, res.NotificationEmail, res.Role,
		nullableStringToValue(res.BackupResourceID), nullableStringToValue(res.ManagerID),
		string(res.AvailabilityStatus),
		nullableTimeToString(res.LeaveStart, dateLayout), nullableTimeToString(res.LeaveEnd, dateLayout),
		res.Timezone, res.MaxUtilization, res.ChatUserID, res.Country,
		res.CreatedAt.Format(time.RFC3339), res.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting resource: %w", err)
	}
	return nil
}

// SetAvailability records an availability change made outside the import
// pipeline. Imports never touch these columns, so operator-set leave
// survives subsequent upserts.
func (r *SQLiteResourceRepo) SetAvailability(ctx context.Context, id string, status domain.AvailabilityStatus, leaveStart, leaveEnd *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE resources SET
			availability_status = ?,
			leave_start = ?,
			leave_end = ?,
			updated_at = ?
		WHERE id = ?`,
		string(status),
		nullableTimeToString(leaveStart, dateLayout), nullableTimeToString(leaveEnd, dateLayout),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("setting resource availability: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting resource availability: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("resource: %w", ErrNotFound)
	}
	return nil
}

func (r *SQLiteResourceRepo) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	res, err := scanResourceRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource: %w", ErrNotFound)
	}
	return res, err
}

func (r *SQLiteResourceRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Resource, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE external_id = ?`, externalID)
	res, err := scanResourceRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource: %w", ErrNotFound)
	}
	return res, err
}

func (r *SQLiteResourceRepo) List(ctx context.Context) ([]*domain.Resource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var resources []*domain.Resource
	for rows.Next() {
		res, err := scanResourceRow(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resources: %w", err)
	}
	return resources, nil
}

func scanResourceRow(row rowScanner) (*domain.Resource, error) {
	var res domain.Resource
	var backupStr, managerStr, leaveStartStr, leaveEndStr sql.NullString
	var availStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&res.ID, &res.ExternalID, &res.Name, &res.PrimaryEmail, &res.NotificationEmail, &res.Role,
		&backupStr, &managerStr, &availStr, &leaveStartStr, &leaveEndStr,
		&res.Timezone, &res.MaxUtilization, &res.ChatUserID, &res.Country,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning resource: %w", err)
	}

	res.AvailabilityStatus = domain.AvailabilityStatus(availStr)
	res.BackupResourceID = nullStringToPtr(backupStr)
	res.ManagerID = nullStringToPtr(managerStr)
	res.LeaveStart = parseNullableTime(leaveStartStr, dateLayout)
	res.LeaveEnd = parseNullableTime(leaveEndStr, dateLayout)

	if res.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if res.UpdatedAt, err = parseTime(updatedAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &res, nil
}
