package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

const responseColumns = `id, alert_id, work_item_id, responder_id, token_id,
		reported_status, proposed_new_date, delay_days, reason_category, reason_details, comment,
		response_version, is_latest, superseded_by_response_version,
		requires_approval, approval_status, approved_by, approved_at, rejection_reason,
		impact_analysis, submitted_at, idempotency_key`

// SQLiteResponseRepo implements ResponseRepo over a DBTX.
type SQLiteResponseRepo struct {
	db db.DBTX
}

func NewSQLiteResponseRepo(conn db.DBTX) *SQLiteResponseRepo {
	return &SQLiteResponseRepo{db: conn}
}

// Create inserts a response. The partial unique index on idempotency_key
// turns a retried submission into ErrDuplicate, and the is_latest index
// rejects a second latest row for the same work item.
func (r *SQLiteResponseRepo) Create(ctx context.Context, resp *domain.WorkItemResponse) error {
	query := `INSERT INTO work_item_responses (id, alert_id, work_item_id, responder_id, token_id,
		reported_status, proposed_new_date, delay_days, reason_category, reason_details, comment,
		response_version, is_latest, superseded_by_response_version,
		requires_approval, approval_status, approved_by, approved_at, rejection_reason,
		impact_analysis, submitted_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		resp.ID, resp.AlertID, resp.WorkItemID, resp.ResponderID, nullableStringToValue(resp.TokenID),
		string(resp.ReportedStatus), nullableTimeToString(resp.ProposedNewDate, dateLayout),
		resp.DelayDays, string(resp.ReasonCategory), resp.ReasonDetails, resp.Comment,
		resp.ResponseVersion, boolToInt(resp.IsLatest), nullableIntToValue(resp.SupersededByResponseVersion),
		boolToInt(resp.RequiresApproval), string(resp.ApprovalStatus),
		nullableStringToValue(resp.ApprovedBy), nullableTimeToString(resp.ApprovedAt, time.RFC3339),
		resp.RejectionReason, resp.ImpactAnalysis,
		resp.SubmittedAt.UTC().Format(time.RFC3339), resp.IdempotencyKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("response for work item %s: %w", resp.WorkItemID, ErrDuplicate)
		}
		return fmt.Errorf("inserting response: %w", err)
	}
	return nil
}

func (r *SQLiteResponseRepo) GetByID(ctx context.Context, id string) (*domain.WorkItemResponse, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM work_item_responses WHERE id = ?`, id)
	resp, err := scanResponseRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("response: %w", ErrNotFound)
	}
	return resp, err
}

func (r *SQLiteResponseRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.WorkItemResponse, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM work_item_responses WHERE idempotency_key = ?`, key)
	resp, err := scanResponseRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("response: %w", ErrNotFound)
	}
	return resp, err
}

func (r *SQLiteResponseRepo) GetLatestForWorkItem(ctx context.Context, workItemID string) (*domain.WorkItemResponse, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM work_item_responses
		WHERE work_item_id = ? AND is_latest = 1`, workItemID)
	resp, err := scanResponseRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest response: %w", ErrNotFound)
	}
	return resp, err
}

func (r *SQLiteResponseRepo) MaxVersionForWorkItem(ctx context.Context, workItemID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(response_version) FROM work_item_responses WHERE work_item_id = ?`,
		workItemID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max response version: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// MarkSuperseded clears is_latest on a prior response and records which
// version replaced it. Must run before inserting the new latest row so
// the is_latest unique index is never violated mid-transaction.
func (r *SQLiteResponseRepo) MarkSuperseded(ctx context.Context, responseID string, newVersion int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE work_item_responses
		SET is_latest = 0, superseded_by_response_version = ?
		WHERE id = ?`, newVersion, responseID)
	if err != nil {
		return fmt.Errorf("superseding response: %w", err)
	}
	return nil
}

func (r *SQLiteResponseRepo) Update(ctx context.Context, resp *domain.WorkItemResponse) error {
	query := `UPDATE work_item_responses SET
		approval_status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?,
		impact_analysis = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		string(resp.ApprovalStatus), nullableStringToValue(resp.ApprovedBy),
		nullableTimeToString(resp.ApprovedAt, time.RFC3339), resp.RejectionReason,
		resp.ImpactAnalysis, resp.ID,
	)
	if err != nil {
		return fmt.Errorf("updating response: %w", err)
	}
	return nil
}

func scanResponseRow(row rowScanner) (*domain.WorkItemResponse, error) {
	var resp domain.WorkItemResponse
	var tokenStr, proposedStr, approvedByStr, approvedAtStr sql.NullString
	var supersededBy sql.NullInt64
	var statusStr, reasonStr, approvalStr, submittedStr string
	var isLatestInt, requiresApprovalInt int

	err := row.Scan(
		&resp.ID, &resp.AlertID, &resp.WorkItemID, &resp.ResponderID, &tokenStr,
		&statusStr, &proposedStr, &resp.DelayDays, &reasonStr, &resp.ReasonDetails, &resp.Comment,
		&resp.ResponseVersion, &isLatestInt, &supersededBy,
		&requiresApprovalInt, &approvalStr, &approvedByStr, &approvedAtStr, &resp.RejectionReason,
		&resp.ImpactAnalysis, &submittedStr, &resp.IdempotencyKey,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning response: %w", err)
	}

	resp.TokenID = nullStringToPtr(tokenStr)
	resp.ReportedStatus = domain.ReportedStatus(statusStr)
	resp.ReasonCategory = domain.ReasonCategory(reasonStr)
	resp.ApprovalStatus = domain.ApprovalStatus(approvalStr)
	resp.ProposedNewDate = parseNullableTime(proposedStr, dateLayout)
	resp.IsLatest = intToBool(isLatestInt)
	resp.RequiresApproval = intToBool(requiresApprovalInt)
	resp.SupersededByResponseVersion = nullIntToPtr(supersededBy)
	resp.ApprovedBy = nullStringToPtr(approvedByStr)
	resp.ApprovedAt = parseNullableTime(approvedAtStr, time.RFC3339)

	if resp.SubmittedAt, err = parseTime(submittedStr, time.RFC3339); err != nil {
		return nil, fmt.Errorf("parsing submitted_at: %w", err)
	}
	return &resp, nil
}
