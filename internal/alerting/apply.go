package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// cascadeApplyCap mirrors the preview cap: a delay never touches more
// than this many downstream items in one application.
const cascadeApplyCap = 100

// applyDelayTx moves the work item to its analyzed window and shifts every
// downstream successor by the delay, all inside the open envelope. A
// failure part-way surfaces as a CascadeFailure naming every attempted
// update; the transaction restores the rows.
func (o *Orchestrator) applyDelayTx(ctx context.Context, tx db.DBTX, wi *domain.WorkItem, analysis *impact.Analysis, source domain.ChangeSource, changedBy string) error {
	workItems := repository.NewSQLiteWorkItemRepo(tx)
	deps := repository.NewSQLiteDependencyRepo(tx)
	audits := repository.NewSQLiteAuditRepo(tx)
	opLog := db.OpLogFrom(ctx)
	now := o.now()

	shift := func(item *domain.WorkItem, newStart, newEnd time.Time, action string) error {
		if opLog != nil {
			opLog.Record(db.Op{
				Kind:     db.OpUpdate,
				Table:    "work_items",
				EntityID: item.ID,
				Field:    "current_end",
				OldValue: item.CurrentEnd.Format("2006-01-02"),
				NewValue: newEnd.Format("2006-01-02"),
			})
		}
		rec := &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item",
			EntityID:     item.ID,
			Action:       action,
			FieldChanged: "current_end",
			OldValue:     item.CurrentEnd.Format("2006-01-02"),
			NewValue:     newEnd.Format("2006-01-02"),
			ChangeSource: source,
			BatchID:      db.BatchIDFrom(ctx),
			ChangedBy:    changedBy,
			ChangedAt:    now,
		}
		item.CurrentStart = newStart
		item.CurrentEnd = newEnd
		item.UpdatedAt = now
		if err := workItems.Update(ctx, item); err != nil {
			return err
		}
		return audits.Create(ctx, rec)
	}

	if err := shift(wi, analysis.NewStart, analysis.NewEnd, "delay_approved"); err != nil {
		return o.cascadeFault(err, opLog)
	}

	// BFS over successors, shifting each window by the delay uniformly.
	delay := analysis.DelayDays
	if delay <= 0 {
		return nil
	}
	visited := map[string]bool{wi.ID: true}
	queue := []string{wi.ID}
	applied := 0
	for len(queue) > 0 && applied < cascadeApplyCap {
		id := queue[0]
		queue = queue[1:]

		succs, err := deps.ListSuccessors(ctx, id)
		if err != nil {
			return o.cascadeFault(err, opLog)
		}
		for _, d := range succs {
			if visited[d.SuccessorID] {
				continue
			}
			visited[d.SuccessorID] = true

			succ, err := workItems.GetByID(ctx, d.SuccessorID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return o.cascadeFault(err, opLog)
			}
			if succ.Terminal() {
				continue
			}

			newStart := succ.CurrentStart.AddDate(0, 0, delay)
			newEnd := succ.CurrentEnd.AddDate(0, 0, delay)
			if err := shift(succ, newStart, newEnd, "cascade_shift"); err != nil {
				return o.cascadeFault(err, opLog)
			}
			applied++
			queue = append(queue, succ.ID)
			if applied >= cascadeApplyCap {
				break
			}
		}
	}
	return nil
}

// cascadeFault wraps a mid-cascade failure with the compensating-order
// list of attempted updates. The surrounding transaction restores them.
func (o *Orchestrator) cascadeFault(err error, opLog *db.OpLog) error {
	var attempted []map[string]string
	if opLog != nil {
		for _, op := range opLog.Reversed() {
			attempted = append(attempted, map[string]string{
				"table":     op.Table,
				"entity_id": op.EntityID,
				"field":     op.Field,
				"old_value": op.OldValue,
				"new_value": op.NewValue,
			})
		}
	}
	f := domain.NewFault(domain.FaultCascade, fmt.Sprintf("delay cascade failed: %v", err), "attempted_updates", attempted)
	return fmt.Errorf("%w: %w", f, err)
}

// ApproveDelay marks a pending delayed response approved and applies its
// stored impact window plus the cascade.
func (o *Orchestrator) ApproveDelay(ctx context.Context, responseID, approver string) (*domain.WorkItemResponse, error) {
	resp, err := repository.NewSQLiteResponseRepo(o.conn).GetByID(ctx, responseID)
	if err != nil {
		return nil, fmt.Errorf("loading response %s: %w", responseID, err)
	}
	if resp.ApprovalStatus != domain.ApprovalPending {
		return nil, domain.NewFault(domain.FaultValidation, "response is not pending approval",
			"response_id", responseID, "approval_status", string(resp.ApprovalStatus))
	}
	var analysis impact.Analysis
	if err := json.Unmarshal([]byte(resp.ImpactAnalysis), &analysis); err != nil {
		return nil, domain.NewFault(domain.FaultValidation, "response carries no usable impact analysis", "response_id", responseID)
	}
	wctx, err := o.loadWorkItemContext(ctx, resp.WorkItemID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	opLog := db.NewOpLog(uuid.New().String())
	err = o.uow.WithinTx(db.WithOpLog(ctx, opLog), func(ctx context.Context, tx db.DBTX) error {
		resp.ApprovalStatus = domain.ApprovalApproved
		resp.ApprovedBy = &approver
		resp.ApprovedAt = &now
		if err := repository.NewSQLiteResponseRepo(tx).Update(ctx, resp); err != nil {
			return fmt.Errorf("marking response approved: %w", err)
		}
		if err := repository.NewSQLiteAuditRepo(tx).Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item_response",
			EntityID:     resp.ID,
			Action:       "APPROVE",
			FieldChanged: "approval_status",
			OldValue:     string(domain.ApprovalPending),
			NewValue:     string(domain.ApprovalApproved),
			ChangeSource: domain.SourceApproval,
			BatchID:      opLog.BatchID,
			ChangedBy:    approver,
			ChangedAt:    now,
		}); err != nil {
			return err
		}
		return o.applyDelayTx(ctx, tx, wctx.WorkItem, &analysis, domain.SourceApproval, approver)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("delay approved",
		"response_id", resp.ID,
		"work_item", wctx.WorkItem.ExternalID,
		"approver", approver,
		"delay_days", resp.DelayDays,
	)
	return resp, nil
}

// RejectDelay marks a pending delayed response rejected. Work-item dates
// are left untouched.
func (o *Orchestrator) RejectDelay(ctx context.Context, responseID, approver, reason string) (*domain.WorkItemResponse, error) {
	resp, err := repository.NewSQLiteResponseRepo(o.conn).GetByID(ctx, responseID)
	if err != nil {
		return nil, fmt.Errorf("loading response %s: %w", responseID, err)
	}
	if resp.ApprovalStatus != domain.ApprovalPending {
		return nil, domain.NewFault(domain.FaultValidation, "response is not pending approval",
			"response_id", responseID, "approval_status", string(resp.ApprovalStatus))
	}

	now := o.now()
	err = o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		resp.ApprovalStatus = domain.ApprovalRejected
		resp.ApprovedBy = &approver
		resp.ApprovedAt = &now
		resp.RejectionReason = reason
		if err := repository.NewSQLiteResponseRepo(tx).Update(ctx, resp); err != nil {
			return fmt.Errorf("marking response rejected: %w", err)
		}
		return repository.NewSQLiteAuditRepo(tx).Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item_response",
			EntityID:     resp.ID,
			Action:       "REJECT",
			FieldChanged: "approval_status",
			OldValue:     string(domain.ApprovalPending),
			NewValue:     string(domain.ApprovalRejected),
			ChangeSource: domain.SourceApproval,
			ChangedBy:    approver,
			Reason:       reason,
			ChangedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
