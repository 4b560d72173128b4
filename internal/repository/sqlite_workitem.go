package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

// workItemColumns is the canonical SELECT column list for work_items.
const workItemColumns = `id, phase_id, external_id, name,
		planned_start, planned_end, planned_effort_hrs, allocation_percent,
		current_start, current_end, actual_start, actual_end,
		status, completion_percent, resource_id, is_critical_path, slack_days,
		flag_for_review, review_message, cancellation_reason,
		complexity, revenue_impact, strategic_importance, customer_impact,
		is_critical_launch, feature_name, created_at, updated_at`

// workItemColumnsAliased is the same list prefixed with "w." for joins.
const workItemColumnsAliased = `w.id, w.phase_id, w.external_id, w.name,
		w.planned_start, w.planned_end, w.planned_effort_hrs, w.allocation_percent,
		w.current_start, w.current_end, w.actual_start, w.actual_end,
		w.status, w.completion_percent, w.resource_id, w.is_critical_path, w.slack_days,
		w.flag_for_review, w.review_message, w.cancellation_reason,
		w.complexity, w.revenue_impact, w.strategic_importance, w.customer_impact,
		w.is_critical_launch, w.feature_name, w.created_at, w.updated_at`

// SQLiteWorkItemRepo implements WorkItemRepo over a DBTX.
type SQLiteWorkItemRepo struct {
	db db.DBTX
}

func NewSQLiteWorkItemRepo(conn db.DBTX) *SQLiteWorkItemRepo {
	return &SQLiteWorkItemRepo{db: conn}
}

func (r *SQLiteWorkItemRepo) Create(ctx context.Context, w *domain.WorkItem) error {
	query := `INSERT INTO work_items (id, phase_id, external_id, name,
		planned_start, planned_end, planned_effort_hrs, allocation_percent,
		current_start, current_end, actual_start, actual_end,
		status, completion_percent, resource_id, is_critical_path, slack_days,
		flag_for_review, review_message, cancellation_reason,
		complexity, revenue_impact, strategic_importance, customer_impact,
		is_critical_launch, feature_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.PhaseID, w.ExternalID, w.Name,
		w.PlannedStart.Format(dateLayout), w.PlannedEnd.Format(dateLayout),
		w.PlannedEffortHrs, w.AllocationPercent,
		w.CurrentStart.Format(dateLayout), w.CurrentEnd.Format(dateLayout),
		nullableTimeToString(w.ActualStart, dateLayout), nullableTimeToString(w.ActualEnd, dateLayout),
		string(w.Status), w.CompletionPercent, nullableStringToValue(w.ResourceID),
		boolToInt(w.IsCriticalPath), w.SlackDays,
		boolToInt(w.FlagForReview), w.ReviewMessage, w.CancellationReason,
		w.Complexity, w.RevenueImpact, w.StrategicImportance, w.CustomerImpact,
		boolToInt(w.IsCriticalLaunch), w.FeatureName,
		w.CreatedAt.Format(time.RFC3339), w.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("work item %s: %w", w.ExternalID, ErrDuplicate)
		}
		return fmt.Errorf("inserting work item: %w", err)
	}
	return nil
}

func (r *SQLiteWorkItemRepo) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	return scanWorkItemSingle(row)
}

func (r *SQLiteWorkItemRepo) GetByExternalID(ctx context.Context, phaseID, externalID string) (*domain.WorkItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE phase_id = ? AND external_id = ?`,
		phaseID, externalID)
	return scanWorkItemSingle(row)
}

func (r *SQLiteWorkItemRepo) ListByPhase(ctx context.Context, phaseID string) ([]*domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE phase_id = ? ORDER BY planned_start, external_id`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("listing work items by phase: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

func (r *SQLiteWorkItemRepo) ListByProgram(ctx context.Context, programID string) ([]*domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workItemColumnsAliased+`
		FROM work_items w
		JOIN phases ph ON w.phase_id = ph.id
		JOIN projects pr ON ph.project_id = pr.id
		WHERE pr.program_id = ?
		ORDER BY w.planned_start, w.external_id`, programID)
	if err != nil {
		return nil, fmt.Errorf("listing work items by program: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

func (r *SQLiteWorkItemRepo) ListDueBetween(ctx context.Context, after, until time.Time) ([]*domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workItemColumns+`
		FROM work_items
		WHERE current_end > ? AND current_end <= ?
		  AND status NOT IN ('completed', 'cancelled')
		  AND actual_end IS NULL
		ORDER BY current_end`,
		after.Format(dateLayout), until.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("listing due work items: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

func (r *SQLiteWorkItemRepo) ListByResourceOverlapping(ctx context.Context, resourceID string, start, end time.Time) ([]*domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workItemColumns+`
		FROM work_items
		WHERE resource_id = ?
		  AND status NOT IN ('completed', 'cancelled')
		  AND current_start <= ? AND current_end >= ?
		ORDER BY current_start`,
		resourceID, end.Format(dateLayout), start.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("listing overlapping work items: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

func (r *SQLiteWorkItemRepo) Update(ctx context.Context, w *domain.WorkItem) error {
	query := `UPDATE work_items SET phase_id = ?, external_id = ?, name = ?,
		planned_start = ?, planned_end = ?, planned_effort_hrs = ?, allocation_percent = ?,
		current_start = ?, current_end = ?, actual_start = ?, actual_end = ?,
		status = ?, completion_percent = ?, resource_id = ?, is_critical_path = ?, slack_days = ?,
		flag_for_review = ?, review_message = ?, cancellation_reason = ?,
		complexity = ?, revenue_impact = ?, strategic_importance = ?, customer_impact = ?,
		is_critical_launch = ?, feature_name = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		w.PhaseID, w.ExternalID, w.Name,
		w.PlannedStart.Format(dateLayout), w.PlannedEnd.Format(dateLayout),
		w.PlannedEffortHrs, w.AllocationPercent,
		w.CurrentStart.Format(dateLayout), w.CurrentEnd.Format(dateLayout),
		nullableTimeToString(w.ActualStart, dateLayout), nullableTimeToString(w.ActualEnd, dateLayout),
		string(w.Status), w.CompletionPercent, nullableStringToValue(w.ResourceID),
		boolToInt(w.IsCriticalPath), w.SlackDays,
		boolToInt(w.FlagForReview), w.ReviewMessage, w.CancellationReason,
		w.Complexity, w.RevenueImpact, w.StrategicImportance, w.CustomerImpact,
		boolToInt(w.IsCriticalLaunch), w.FeatureName,
		nowUTC(),
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("updating work item: %w", err)
	}
	return nil
}

func (r *SQLiteWorkItemRepo) ProgramIDFor(ctx context.Context, workItemID string) (string, error) {
	var programID string
	err := r.db.QueryRowContext(ctx,
		`SELECT pr.program_id
		FROM work_items w
		JOIN phases ph ON w.phase_id = ph.id
		JOIN projects pr ON ph.project_id = pr.id
		WHERE w.id = ?`, workItemID).Scan(&programID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("work item program: %w", ErrNotFound)
		}
		return "", fmt.Errorf("resolving program for work item: %w", err)
	}
	return programID, nil
}

func scanWorkItemSingle(row *sql.Row) (*domain.WorkItem, error) {
	w, err := scanWorkItemRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work item: %w", ErrNotFound)
	}
	return w, err
}

func scanWorkItems(rows *sql.Rows) ([]*domain.WorkItem, error) {
	var items []*domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating work items: %w", err)
	}
	return items, nil
}

func scanWorkItemRow(row rowScanner) (*domain.WorkItem, error) {
	var w domain.WorkItem
	var plannedStartStr, plannedEndStr, currentStartStr, currentEndStr string
	var actualStartStr, actualEndStr, resourceIDStr sql.NullString
	var statusStr, createdAtStr, updatedAtStr string
	var criticalInt, flagInt, launchInt int

	err := row.Scan(
		&w.ID, &w.PhaseID, &w.ExternalID, &w.Name,
		&plannedStartStr, &plannedEndStr, &w.PlannedEffortHrs, &w.AllocationPercent,
		&currentStartStr, &currentEndStr, &actualStartStr, &actualEndStr,
		&statusStr, &w.CompletionPercent, &resourceIDStr, &criticalInt, &w.SlackDays,
		&flagInt, &w.ReviewMessage, &w.CancellationReason,
		&w.Complexity, &w.RevenueImpact, &w.StrategicImportance, &w.CustomerImpact,
		&launchInt, &w.FeatureName, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning work item: %w", err)
	}

	w.Status = domain.WorkItemStatus(statusStr)
	w.ResourceID = nullStringToPtr(resourceIDStr)
	w.IsCriticalPath = intToBool(criticalInt)
	w.FlagForReview = intToBool(flagInt)
	w.IsCriticalLaunch = intToBool(launchInt)
	w.ActualStart = parseNullableTime(actualStartStr, dateLayout)
	w.ActualEnd = parseNullableTime(actualEndStr, dateLayout)

	if w.PlannedStart, err = parseTime(plannedStartStr, dateLayout); err != nil {
		return nil, fmt.Errorf("parsing planned_start: %w", err)
	}
	if w.PlannedEnd, err = parseTime(plannedEndStr, dateLayout); err != nil {
		return nil, fmt.Errorf("parsing planned_end: %w", err)
	}
	if w.CurrentStart, err = parseTime(currentStartStr, dateLayout); err != nil {
		return nil, fmt.Errorf("parsing current_start: %w", err)
	}
	if w.CurrentEnd, err = parseTime(currentEndStr, dateLayout); err != nil {
		return nil, fmt.Errorf("parsing current_end: %w", err)
	}
	if w.CreatedAt, err = parseTime(createdAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if w.UpdatedAt, err = parseTime(updatedAtStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &w, nil
}
