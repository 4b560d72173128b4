package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const programColumns = `id, external_id, name, status, baseline_start, baseline_end,
		pm_resource_id, secondary_pm_resource_id, created_at, updated_at`

// SQLiteProgramRepo implements ProgramRepo over a DBTX.
type SQLiteProgramRepo struct {
	db db.DBTX
}

func NewSQLiteProgramRepo(conn db.DBTX) *SQLiteProgramRepo {
	return &SQLiteProgramRepo{db: conn}
}

func (r *SQLiteProgramRepo) Create(ctx context.Context, p *domain.Program) error {
	query := `INSERT INTO programs (id, external_id, name, status, baseline_start, baseline_end,
		pm_resource_id, secondary_pm_resource_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.ExternalID,
		p.Name,
		string(p.Status),
		nullableTimeToString(p.BaselineStart, dateLayout),
		nullableTimeToString(p.BaselineEnd, dateLayout),
		nullableStringToValue(p.PMOwnerID),
		nullableStringToValue(p.SecondaryPMID),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("program %s: %w", p.ExternalID, ErrDuplicate)
		}
		return fmt.Errorf("inserting program: %w", err)
	}
	return nil
}

func (r *SQLiteProgramRepo) GetByID(ctx context.Context, id string) (*domain.Program, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id)
	return r.scanProgram(row)
}

func (r *SQLiteProgramRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Program, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE external_id = ?`, externalID)
	return r.scanProgram(row)
}

func (r *SQLiteProgramRepo) List(ctx context.Context) ([]*domain.Program, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+programColumns+` FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var programs []*domain.Program
	for rows.Next() {
		p, err := scanProgramRow(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating programs: %w", err)
	}
	return programs, nil
}

func (r *SQLiteProgramRepo) Update(ctx context.Context, p *domain.Program) error {
	query := `UPDATE programs SET external_id = ?, name = ?, status = ?, baseline_start = ?,
		baseline_end = ?, pm_resource_id = ?, secondary_pm_resource_id = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		p.ExternalID,
		p.Name,
		string(p.Status),
		nullableTimeToString(p.BaselineStart, dateLayout),
		nullableTimeToString(p.BaselineEnd, dateLayout),
		nullableStringToValue(p.PMOwnerID),
		nullableStringToValue(p.SecondaryPMID),
		nowUTC(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating program: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteProgramRepo) scanProgram(row *sql.Row) (*domain.Program, error) {
	p, err := scanProgramRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("program: %w", ErrNotFound)
	}
	return p, err
}

func scanProgramRow(row rowScanner) (*domain.Program, error) {
	var p domain.Program
	var statusStr, createdAtStr, updatedAtStr string
	var baselineStartStr, baselineEndStr, pmStr, secondaryPMStr sql.NullString

	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &statusStr, &baselineStartStr, &baselineEndStr,
		&pmStr, &secondaryPMStr, &createdAtStr, &updatedAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning program: %w", err)
	}

	p.Status = domain.ProgramStatus(statusStr)
	p.BaselineStart = parseNullableTime(baselineStartStr, dateLayout)
	p.BaselineEnd = parseNullableTime(baselineEndStr, dateLayout)
	p.PMOwnerID = nullStringToPtr(pmStr)
	p.SecondaryPMID = nullStringToPtr(secondaryPMStr)

	if p.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}
