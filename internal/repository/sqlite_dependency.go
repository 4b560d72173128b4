package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

// SQLiteDependencyRepo implements DependencyRepo over a DBTX.
type SQLiteDependencyRepo struct {
	db db.DBTX
}

func NewSQLiteDependencyRepo(conn db.DBTX) *SQLiteDependencyRepo {
	return &SQLiteDependencyRepo{db: conn}
}

func (r *SQLiteDependencyRepo) Upsert(ctx context.Context, d *domain.Dependency) error {
	query := `INSERT INTO dependencies (successor_id, predecessor_id, dep_type, lag_days)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(successor_id, predecessor_id) DO UPDATE
		SET dep_type = excluded.dep_type, lag_days = excluded.lag_days`
	_, err := r.db.ExecContext(ctx, query, d.SuccessorID, d.PredecessorID, string(d.Type), d.LagDays)
	if err != nil {
		return fmt.Errorf("upserting dependency: %w", err)
	}
	return nil
}

func (r *SQLiteDependencyRepo) Delete(ctx context.Context, successorID, predecessorID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM dependencies WHERE successor_id = ? AND predecessor_id = ?`,
		successorID, predecessorID)
	if err != nil {
		return fmt.Errorf("deleting dependency: %w", err)
	}
	return nil
}

func (r *SQLiteDependencyRepo) ListByProgram(ctx context.Context, programID string) ([]domain.Dependency, error) {
	query := `SELECT d.successor_id, d.predecessor_id, d.dep_type, d.lag_days
		FROM dependencies d
		JOIN work_items w ON d.successor_id = w.id
		JOIN phases ph ON w.phase_id = ph.id
		JOIN projects pr ON ph.project_id = pr.id
		WHERE pr.program_id = ?`
	rows, err := r.db.QueryContext(ctx, query, programID)
	if err != nil {
		return nil, fmt.Errorf("listing dependencies by program: %w", err)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func (r *SQLiteDependencyRepo) ListSuccessors(ctx context.Context, workItemID string) ([]domain.Dependency, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT successor_id, predecessor_id, dep_type, lag_days
		FROM dependencies WHERE predecessor_id = ?`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("listing successors: %w", err)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func (r *SQLiteDependencyRepo) ListPredecessors(ctx context.Context, workItemID string) ([]domain.Dependency, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT successor_id, predecessor_id, dep_type, lag_days
		FROM dependencies WHERE successor_id = ?`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("listing predecessors: %w", err)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func scanDependencies(rows *sql.Rows) ([]domain.Dependency, error) {
	var deps []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		var typeStr string
		if err := rows.Scan(&d.SuccessorID, &d.PredecessorID, &typeStr, &d.LagDays); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		d.Type = domain.DependencyType(typeStr)
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dependencies: %w", err)
	}
	return deps, nil
}
