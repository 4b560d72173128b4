package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const tokenColumns = `id, token_hash, work_item_id, resource_id, alert_id,
		expires_at, revoked, used_at, used_by_response_id, created_at`

// SQLiteResponseTokenRepo implements ResponseTokenRepo over a DBTX.
type SQLiteResponseTokenRepo struct {
	db db.DBTX
}

func NewSQLiteResponseTokenRepo(conn db.DBTX) *SQLiteResponseTokenRepo {
	return &SQLiteResponseTokenRepo{db: conn}
}

func (r *SQLiteResponseTokenRepo) Create(ctx context.Context, t *domain.ResponseToken) error {
	query := `INSERT INTO response_tokens (id, token_hash, work_item_id, resource_id, alert_id,
		expires_at, revoked, used_at, used_by_response_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.TokenHash, t.WorkItemID, t.ResourceID, nullableStringToValue(t.AlertID),
		t.ExpiresAt.UTC().Format(time.RFC3339), boolToInt(t.Revoked),
		nullableTimeToString(t.UsedAt, time.RFC3339), nullableStringToValue(t.UsedByResponseID),
		t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("response token: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting response token: %w", err)
	}
	return nil
}

func (r *SQLiteResponseTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.ResponseToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM response_tokens WHERE token_hash = ?`, hash)
	t, err := scanTokenRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("response token: %w", ErrNotFound)
	}
	return t, err
}

func (r *SQLiteResponseTokenRepo) GetByID(ctx context.Context, id string) (*domain.ResponseToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM response_tokens WHERE id = ?`, id)
	t, err := scanTokenRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("response token: %w", ErrNotFound)
	}
	return t, err
}

func (r *SQLiteResponseTokenRepo) Update(ctx context.Context, t *domain.ResponseToken) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE response_tokens SET revoked = ?, used_at = ?, used_by_response_id = ? WHERE id = ?`,
		boolToInt(t.Revoked), nullableTimeToString(t.UsedAt, time.RFC3339),
		nullableStringToValue(t.UsedByResponseID), t.ID)
	if err != nil {
		return fmt.Errorf("updating response token: %w", err)
	}
	return nil
}

// DeleteRevokedBefore prunes revoked and long-expired tokens. Returns the
// number of rows removed.
func (r *SQLiteResponseTokenRepo) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM response_tokens WHERE (revoked = 1 OR expires_at < ?) AND created_at < ?`,
		cutoff.UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning response tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning response tokens: %w", err)
	}
	return int(n), nil
}

func scanTokenRow(row rowScanner) (*domain.ResponseToken, error) {
	var t domain.ResponseToken
	var alertStr, usedAtStr, usedByStr sql.NullString
	var expiresStr, createdAtStr string
	var revokedInt int

	err := row.Scan(
		&t.ID, &t.TokenHash, &t.WorkItemID, &t.ResourceID, &alertStr,
		&expiresStr, &revokedInt, &usedAtStr, &usedByStr, &createdAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning response token: %w", err)
	}

	t.AlertID = nullStringToPtr(alertStr)
	t.Revoked = intToBool(revokedInt)
	t.UsedAt = parseNullableTime(usedAtStr, time.RFC3339)
	t.UsedByResponseID = nullStringToPtr(usedByStr)

	if t.ExpiresAt, err = parseTime(expiresStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &t, nil
}
