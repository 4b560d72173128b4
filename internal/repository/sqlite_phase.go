package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const phaseColumns = `id, project_id, external_id, name, sequence, created_at, updated_at`

// SQLitePhaseRepo implements PhaseRepo over a DBTX.
type SQLitePhaseRepo struct {
	db db.DBTX
}

func NewSQLitePhaseRepo(conn db.DBTX) *SQLitePhaseRepo {
	return &SQLitePhaseRepo{db: conn}
}

func (r *SQLitePhaseRepo) Create(ctx context.Context, p *domain.Phase) error {
	query := `INSERT INTO phases (id, project_id, external_id, name, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.ProjectID, p.ExternalID, p.Name, p.Sequence,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("phase %s: %w", p.ExternalID, ErrDuplicate)
		}
		return fmt.Errorf("inserting phase: %w", err)
	}
	return nil
}

func (r *SQLitePhaseRepo) GetByExternalID(ctx context.Context, projectID, externalID string) (*domain.Phase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE project_id = ? AND external_id = ?`,
		projectID, externalID)
	p, err := scanPhaseRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("phase: %w", ErrNotFound)
	}
	return p, err
}

func (r *SQLitePhaseRepo) ListByProject(ctx context.Context, projectID string) ([]*domain.Phase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE project_id = ? ORDER BY sequence`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing phases: %w", err)
	}
	defer rows.Close()
	return scanPhases(rows)
}

func (r *SQLitePhaseRepo) ListByProgram(ctx context.Context, programID string) ([]*domain.Phase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.project_id, p.external_id, p.name, p.sequence, p.created_at, p.updated_at
		FROM phases p
		JOIN projects pr ON p.project_id = pr.id
		WHERE pr.program_id = ?
		ORDER BY p.sequence`, programID)
	if err != nil {
		return nil, fmt.Errorf("listing phases by program: %w", err)
	}
	defer rows.Close()
	return scanPhases(rows)
}

func (r *SQLitePhaseRepo) Update(ctx context.Context, p *domain.Phase) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE phases SET name = ?, sequence = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Sequence, nowUTC(), p.ID)
	if err != nil {
		return fmt.Errorf("updating phase: %w", err)
	}
	return nil
}

func scanPhases(rows *sql.Rows) ([]*domain.Phase, error) {
	var phases []*domain.Phase
	for rows.Next() {
		p, err := scanPhaseRow(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating phases: %w", err)
	}
	return phases, nil
}

func scanPhaseRow(row rowScanner) (*domain.Phase, error) {
	var p domain.Phase
	var createdAtStr, updatedAtStr string
	err := row.Scan(&p.ID, &p.ProjectID, &p.ExternalID, &p.Name, &p.Sequence, &createdAtStr, &updatedAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning phase: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}
