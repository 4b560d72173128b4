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
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// SubmitRequest is one status response. AlertID and ResponderID may be
// omitted when a token is supplied; they are then taken from its claims.
type SubmitRequest struct {
	AlertID        string
	ResponderID    string
	ReportedStatus domain.ReportedStatus
	Token          string

	ProposedNewDate *time.Time
	ReasonCategory  domain.ReasonCategory
	ReasonDetails   string
	Comment         string
	IdempotencyKey  string

	// Reason-specific impact inputs.
	AdditionalWorkPercent  float64
	AvailableEffortPercent float64
}

// SubmitResult is the processed response plus the branch outcome.
type SubmitResult struct {
	Response         *domain.WorkItemResponse
	Duplicate        bool
	Escalated        bool
	RequiresApproval bool
	Impact           *impact.Analysis
}

// ProcessStatusResponse is the transactional heart of the loop: version
// bookkeeping, token consumption, alert closure and the status branch all
// commit or roll back together.
func (o *Orchestrator) ProcessStatusResponse(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	responses := repository.NewSQLiteResponseRepo(o.conn)

	// Idempotency shortcut: a replayed key returns the original response.
	if req.IdempotencyKey != "" {
		existing, err := responses.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return &SubmitResult{Response: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	// Token gating. Revoked tokens fail here; a valid one binds the
	// response to its alert and responder.
	var tokenID *string
	if req.Token != "" {
		validated, err := o.tokens.Validate(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		if req.ResponderID == "" {
			req.ResponderID = validated.Claims.Subject
		}
		if req.AlertID == "" {
			req.AlertID = validated.Claims.AlertID
		}
		if validated.Record != nil {
			id := validated.Record.ID
			tokenID = &id
		}
	}
	if req.AlertID == "" {
		return nil, domain.NewFault(domain.FaultValidation, "alert_id is required when no token is supplied")
	}
	if !domain.ValidReportedStatuses[string(req.ReportedStatus)] {
		return nil, domain.NewFault(domain.FaultValidation, "unknown reported status", "reported_status", string(req.ReportedStatus))
	}

	alert, err := repository.NewSQLiteAlertRepo(o.conn).GetByID(ctx, req.AlertID)
	if err != nil {
		return nil, fmt.Errorf("loading alert %s: %w", req.AlertID, err)
	}
	wctx, err := o.loadWorkItemContext(ctx, alert.WorkItemID)
	if err != nil {
		return nil, err
	}
	wi := wctx.WorkItem

	version, err := responses.MaxVersionForWorkItem(ctx, wi.ID)
	if err != nil {
		return nil, err
	}
	version++

	now := o.now()
	resp := &domain.WorkItemResponse{
		ID:              uuid.New().String(),
		AlertID:         alert.ID,
		WorkItemID:      wi.ID,
		ResponderID:     req.ResponderID,
		TokenID:         tokenID,
		ReportedStatus:  req.ReportedStatus,
		ReasonCategory:  req.ReasonCategory,
		ReasonDetails:   req.ReasonDetails,
		Comment:         req.Comment,
		ResponseVersion: version,
		IsLatest:        true,
		ApprovalStatus:  domain.ApprovalNotRequired,
		SubmittedAt:     now,
		IdempotencyKey:  req.IdempotencyKey,
	}

	result := &SubmitResult{Response: resp}

	// DELAYED responses get an impact analysis before the envelope opens;
	// approval need follows from the policy's auto-approve window.
	var analysis *impact.Analysis
	if req.ReportedStatus == domain.ReportedDelayed && req.ProposedNewDate != nil {
		analysis, err = o.analyzer.Analyze(ctx, impact.Input{
			WorkItem:               wi,
			ProposedEnd:            *req.ProposedNewDate,
			Reason:                 req.ReasonCategory,
			AdditionalWorkPercent:  req.AdditionalWorkPercent,
			AvailableEffortPercent: req.AvailableEffortPercent,
		})
		if err != nil {
			return nil, fmt.Errorf("analyzing impact: %w", err)
		}
		resp.ProposedNewDate = req.ProposedNewDate
		resp.DelayDays = analysis.DelayDays
		encoded, err := json.Marshal(analysis)
		if err != nil {
			return nil, fmt.Errorf("encoding impact analysis: %w", err)
		}
		resp.ImpactAnalysis = string(encoded)

		resp.RequiresApproval = analysis.DelayDays > wctx.Policy.AutoApproveDelayUpToDays
		if resp.RequiresApproval {
			resp.ApprovalStatus = domain.ApprovalPending
		} else {
			resp.ApprovalStatus = domain.ApprovalAutoApproved
		}
		result.Impact = analysis
		result.RequiresApproval = resp.RequiresApproval
	}

	// Resolve the PM ahead of the envelope; resolver reads must not run
	// on the shared connection while the transaction holds it.
	var pmRecipient *escalation.Recipient
	if req.ReportedStatus == domain.ReportedBlocked || result.RequiresApproval {
		pmRecipient, _, err = o.resolver.FindAvailableRecipient(ctx, wctx.Owner, wctx.Program, escalation.LevelPM)
		if err != nil {
			return nil, fmt.Errorf("resolving PM recipient: %w", err)
		}
	}

	opLog := db.NewOpLog(uuid.New().String())
	err = o.uow.WithinTx(db.WithOpLog(ctx, opLog), func(ctx context.Context, tx db.DBTX) error {
		txResponses := repository.NewSQLiteResponseRepo(tx)

		prior, err := txResponses.GetLatestForWorkItem(ctx, wi.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if prior != nil {
			if err := txResponses.MarkSuperseded(ctx, prior.ID, version); err != nil {
				return fmt.Errorf("superseding response %s: %w", prior.ID, err)
			}
		}
		if err := txResponses.Create(ctx, resp); err != nil {
			return err
		}

		if tokenID != nil {
			txTokens := repository.NewSQLiteResponseTokenRepo(tx)
			rec, err := txTokens.GetByID(ctx, *tokenID)
			if err != nil {
				return fmt.Errorf("loading token %s: %w", *tokenID, err)
			}
			rec.Revoked = true
			rec.UsedAt = &now
			rec.UsedByResponseID = &resp.ID
			if err := txTokens.Update(ctx, rec); err != nil {
				return fmt.Errorf("revoking token: %w", err)
			}
		}

		alert.Status = domain.AlertResponded
		alert.RespondedAt = &now
		if req.ResponderID != "" {
			alert.ActualRecipientID = &req.ResponderID
		}
		alert.UpdatedAt = now
		if err := repository.NewSQLiteAlertRepo(tx).Update(ctx, alert); err != nil {
			return fmt.Errorf("closing alert: %w", err)
		}

		audits := repository.NewSQLiteAuditRepo(tx)
		if err := audits.Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item_response",
			EntityID:     resp.ID,
			Action:       "INSERT",
			NewValue:     string(req.ReportedStatus),
			ChangeSource: domain.SourceResponse,
			BatchID:      opLog.BatchID,
			ChangedBy:    req.ResponderID,
			ChangedAt:    now,
		}); err != nil {
			return err
		}

		return o.applyResponseBranch(ctx, tx, wctx, resp, analysis, pmRecipient, result)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) && req.IdempotencyKey != "" {
			// Lost a race with the same key; the winner's row is the answer.
			existing, lookErr := responses.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookErr == nil {
				return &SubmitResult{Response: existing, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.ResponsesTotal.WithLabelValues(string(req.ReportedStatus)).Inc()
	}
	o.logger.Info("status response processed",
		"work_item", wi.ExternalID,
		"alert_id", alert.ID,
		"reported_status", req.ReportedStatus,
		"version", version,
		"requires_approval", result.RequiresApproval,
		"escalated", result.Escalated,
	)
	return result, nil
}

// applyResponseBranch runs the per-status consequence inside the open
// envelope.
func (o *Orchestrator) applyResponseBranch(ctx context.Context, tx db.DBTX, wctx *workItemContext, resp *domain.WorkItemResponse, analysis *impact.Analysis, pmRecipient *escalation.Recipient, result *SubmitResult) error {
	wi := wctx.WorkItem
	now := o.now()

	switch resp.ReportedStatus {
	case domain.ReportedOnTrack:
		return nil

	case domain.ReportedDelayed:
		if analysis == nil {
			return nil
		}
		if resp.RequiresApproval {
			return o.createPMNoticeTx(ctx, tx, wctx, pmRecipient, domain.AlertApprovalRequest, domain.UrgencyHigh,
				fmt.Sprintf("delay of %d days on %q needs approval", resp.DelayDays, wi.Name))
		}
		return o.applyDelayTx(ctx, tx, wi, analysis, domain.SourceResponse, resp.ResponderID)

	case domain.ReportedBlocked:
		wi.FlagForReview = true
		wi.ReviewMessage = blockedMessage(resp)
		wi.UpdatedAt = now
		if err := repository.NewSQLiteWorkItemRepo(tx).Update(ctx, wi); err != nil {
			return fmt.Errorf("flagging blocked work item: %w", err)
		}
		if err := repository.NewSQLiteAuditRepo(tx).Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item",
			EntityID:     wi.ID,
			Action:       "BLOCKED",
			FieldChanged: "flag_for_review",
			NewValue:     wi.ReviewMessage,
			ChangeSource: domain.SourceResponse,
			BatchID:      db.BatchIDFrom(ctx),
			ChangedBy:    resp.ResponderID,
			ChangedAt:    now,
		}); err != nil {
			return err
		}
		result.Escalated = true
		return o.createPMNoticeTx(ctx, tx, wctx, pmRecipient, domain.AlertBlockerReport, domain.UrgencyCritical,
			blockedMessage(resp))

	case domain.ReportedCompleted:
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		priorStatus := wi.Status
		wi.Status = domain.WorkItemCompleted
		wi.ActualEnd = &today
		wi.CompletionPercent = 100
		wi.UpdatedAt = now
		if err := repository.NewSQLiteWorkItemRepo(tx).Update(ctx, wi); err != nil {
			return fmt.Errorf("completing work item: %w", err)
		}
		return repository.NewSQLiteAuditRepo(tx).Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item",
			EntityID:     wi.ID,
			Action:       "UPDATE",
			FieldChanged: "status",
			OldValue:     string(priorStatus),
			NewValue:     string(domain.WorkItemCompleted),
			ChangeSource: domain.SourceResponse,
			BatchID:      db.BatchIDFrom(ctx),
			ChangedBy:    resp.ResponderID,
			ChangedAt:    now,
		})
	}
	return nil
}

// createPMNoticeTx creates a PM-addressed alert inside the envelope. An
// in-flight duplicate for the same slot is tolerated.
func (o *Orchestrator) createPMNoticeTx(ctx context.Context, tx db.DBTX, wctx *workItemContext, recipient *escalation.Recipient, alertType domain.AlertType, urgency domain.AlertUrgency, reason string) error {
	email := o.resolver.OpsFallbackEmail
	var recipientID *string
	if recipient != nil {
		email = recipient.Email
		recipientID = recipient.ResourceID
	}

	now := o.now()
	alert := &domain.Alert{
		ID:                  uuid.New().String(),
		WorkItemID:          wctx.WorkItem.ID,
		DeadlineDate:        wctx.WorkItem.CurrentEnd,
		IntendedRecipientID: recipientID,
		RecipientEmail:      email,
		Type:                alertType,
		EscalationLevel:     escalation.LevelPM,
		Urgency:             urgency,
		Status:              domain.AlertPending,
		EscalationReason:    reason,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := repository.NewSQLiteAlertRepo(tx).Create(ctx, alert)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.AlertsCreated.WithLabelValues(string(alertType)).Inc()
	}
	return o.enqueueSend(ctx, tx, alert.ID, "send-"+alert.ID, now)
}

func blockedMessage(resp *domain.WorkItemResponse) string {
	detail := resp.ReasonDetails
	if detail == "" {
		detail = resp.Comment
	}
	if detail == "" {
		detail = "no details provided"
	}
	return "BLOCKED: " + detail
}
