package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const batchColumns = `id, program_id, file_name, file_hash, started_at, completed_at,
		status, summary, baseline_version_id`

// SQLiteImportBatchRepo implements ImportBatchRepo over a DBTX.
type SQLiteImportBatchRepo struct {
	db db.DBTX
}

func NewSQLiteImportBatchRepo(conn db.DBTX) *SQLiteImportBatchRepo {
	return &SQLiteImportBatchRepo{db: conn}
}

func (r *SQLiteImportBatchRepo) Create(ctx context.Context, b *domain.ImportBatch) error {
	query := `INSERT INTO import_batches (id, program_id, file_name, file_hash, started_at,
		completed_at, status, summary, baseline_version_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.ProgramID, b.FileName, b.FileHash, b.StartedAt.UTC().Format(time.RFC3339),
		nullableTimeToString(b.CompletedAt, time.RFC3339), string(b.Status), b.Summary,
		nullableStringToValue(b.BaselineVersionID),
	)
	if err != nil {
		return fmt.Errorf("inserting import batch: %w", err)
	}
	return nil
}

func (r *SQLiteImportBatchRepo) GetByID(ctx context.Context, id string) (*domain.ImportBatch, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id)
	b, err := scanBatchRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("import batch: %w", ErrNotFound)
	}
	return b, err
}

func (r *SQLiteImportBatchRepo) List(ctx context.Context, limit int) ([]*domain.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM import_batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing import batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.ImportBatch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating import batches: %w", err)
	}
	return batches, nil
}

func (r *SQLiteImportBatchRepo) Update(ctx context.Context, b *domain.ImportBatch) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE import_batches SET completed_at = ?, status = ?, summary = ?, baseline_version_id = ?
		WHERE id = ?`,
		nullableTimeToString(b.CompletedAt, time.RFC3339), string(b.Status), b.Summary,
		nullableStringToValue(b.BaselineVersionID), b.ID)
	if err != nil {
		return fmt.Errorf("updating import batch: %w", err)
	}
	return nil
}

func scanBatchRow(row rowScanner) (*domain.ImportBatch, error) {
	var b domain.ImportBatch
	var completedStr, baselineStr sql.NullString
	var startedStr, statusStr string

	err := row.Scan(
		&b.ID, &b.ProgramID, &b.FileName, &b.FileHash, &startedStr, &completedStr,
		&statusStr, &b.Summary, &baselineStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning import batch: %w", err)
	}

	b.Status = domain.ImportBatchStatus(statusStr)
	b.CompletedAt = parseNullableTime(completedStr, time.RFC3339)
	b.BaselineVersionID = nullStringToPtr(baselineStr)
	if b.StartedAt, err = parseTime(startedStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	return &b, nil
}

// SQLiteBaselineRepo implements BaselineRepo over a DBTX.
type SQLiteBaselineRepo struct {
	db db.DBTX
}

func NewSQLiteBaselineRepo(conn db.DBTX) *SQLiteBaselineRepo {
	return &SQLiteBaselineRepo{db: conn}
}

func (r *SQLiteBaselineRepo) Create(ctx context.Context, v *domain.BaselineVersion) error {
	query := `INSERT INTO baseline_versions (id, program_id, version_number, snapshot,
		total_items, reason, created_by, import_batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.ProgramID, v.VersionNumber, v.Snapshot, v.TotalItems,
		v.Reason, v.CreatedBy, nullableStringToValue(v.ImportBatchID),
		v.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("baseline version %d for program %s: %w", v.VersionNumber, v.ProgramID, ErrDuplicate)
		}
		return fmt.Errorf("inserting baseline version: %w", err)
	}
	return nil
}

func (r *SQLiteBaselineRepo) MaxVersion(ctx context.Context, programID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(version_number) FROM baseline_versions WHERE program_id = ?`,
		programID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max baseline version: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (r *SQLiteBaselineRepo) ListByProgram(ctx context.Context, programID string) ([]*domain.BaselineVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, program_id, version_number, snapshot, total_items, reason, created_by,
			import_batch_id, created_at
		FROM baseline_versions WHERE program_id = ? ORDER BY version_number DESC`,
		programID)
	if err != nil {
		return nil, fmt.Errorf("listing baseline versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.BaselineVersion
	for rows.Next() {
		var v domain.BaselineVersion
		var batchStr sql.NullString
		var createdStr string
		err := rows.Scan(&v.ID, &v.ProgramID, &v.VersionNumber, &v.Snapshot, &v.TotalItems,
			&v.Reason, &v.CreatedBy, &batchStr, &createdStr)
		if err != nil {
			return nil, fmt.Errorf("scanning baseline version: %w", err)
		}
		v.ImportBatchID = nullStringToPtr(batchStr)
		if v.CreatedAt, err = parseTime(createdStr, time.RFC3339); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating baseline versions: %w", err)
	}
	return versions, nil
}
