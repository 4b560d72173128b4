package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// EscalationResult summarizes one timeout sweep.
type EscalationResult struct {
	Checked   int
	Escalated int
	Terminal  int
	Failed    int
}

// CheckAndEscalateTimeouts finds sent alerts past their escalation
// timeout, creates the next-level alert linked via parent_alert_id and
// expires the old one. Level 3 is terminal: its timeouts expire the alert
// without a successor.
func (o *Orchestrator) CheckAndEscalateTimeouts(ctx context.Context) (*EscalationResult, error) {
	now := o.now()
	timedOut, err := repository.NewSQLiteAlertRepo(o.conn).ListTimedOut(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &EscalationResult{Checked: len(timedOut)}
	for _, alert := range timedOut {
		terminal, err := o.escalateOne(ctx, alert)
		if err != nil {
			res.Failed++
			o.logger.Error("escalation failed", "alert_id", alert.ID, "error", err)
			continue
		}
		if terminal {
			res.Terminal++
		} else {
			res.Escalated++
		}
	}
	if res.Checked > 0 {
		o.logger.Info("escalation sweep complete",
			"checked", res.Checked, "escalated", res.Escalated, "terminal", res.Terminal, "failed", res.Failed)
	}
	return res, nil
}

func (o *Orchestrator) escalateOne(ctx context.Context, alert *domain.Alert) (terminal bool, err error) {
	now := o.now()
	wctx, err := o.loadWorkItemContext(ctx, alert.WorkItemID)
	if err != nil {
		return false, err
	}

	if alert.EscalationLevel >= escalation.LevelPM {
		// Terminal level: nobody above the PM to escalate to.
		err := o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
			alert.Status = domain.AlertExpired
			alert.EscalationReason = "terminal level timed out without a response"
			alert.UpdatedAt = now
			return repository.NewSQLiteAlertRepo(tx).Update(ctx, alert)
		})
		return true, err
	}

	nextLevel := alert.EscalationLevel + 1
	if nextLevel > escalation.LevelPM {
		nextLevel = escalation.LevelPM
	}

	recipient, skipped, err := o.resolver.FindAvailableRecipient(ctx, wctx.Owner, wctx.Program, nextLevel)
	if err != nil {
		return false, fmt.Errorf("resolving level %d recipient: %w", nextLevel, err)
	}
	if recipient == nil {
		for _, s := range skipped {
			o.logger.Warn("escalation chain entry skipped",
				"alert_id", alert.ID, "level", s.Level, "reason", s.Reason)
		}
		return false, fmt.Errorf("no recipient available at level %d or above", nextLevel)
	}

	next := &domain.Alert{
		ID:                  uuid.New().String(),
		WorkItemID:          alert.WorkItemID,
		DeadlineDate:        alert.DeadlineDate,
		IntendedRecipientID: recipient.ResourceID,
		RecipientEmail:      recipient.Email,
		Type:                alert.Type,
		EscalationLevel:     recipient.Level,
		Urgency:             urgencyForLevel(recipient.Level),
		Status:              domain.AlertPending,
		ScheduledSendAt:     &now,
		ExpiresAt:           alert.ExpiresAt,
		ParentAlertID:       &alert.ID,
		EscalationReason:    fmt.Sprintf("no response at level %d within timeout", alert.EscalationLevel),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if timeout, ok := wctx.Policy.TimeoutFor(recipient.Level); ok {
		at := now.Add(timeout)
		next.EscalationTimeoutAt = &at
	}

	if recipient.ResourceID != nil {
		if _, err := o.tokens.Mint(ctx, *recipient.ResourceID, alert.WorkItemID, next.ID, alert.DeadlineDate); err != nil {
			return false, fmt.Errorf("minting token for escalated alert: %w", err)
		}
	}

	err = o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		alerts := repository.NewSQLiteAlertRepo(tx)

		// Expire the old alert first so the in-flight slot at the new
		// level is the only one left standing.
		alert.Status = domain.AlertExpired
		alert.UpdatedAt = now
		if err := alerts.Update(ctx, alert); err != nil {
			return fmt.Errorf("expiring alert: %w", err)
		}

		if err := alerts.Create(ctx, next); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil
			}
			return err
		}
		if err := o.enqueueSend(ctx, tx, next.ID, "send-"+next.ID, now); err != nil {
			return err
		}

		return repository.NewSQLiteAuditRepo(tx).Create(ctx, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "alert",
			EntityID:     alert.ID,
			Action:       "TIMEOUT_NO_RESPONSE",
			FieldChanged: "escalation_level",
			OldValue:     fmt.Sprintf("%d", alert.EscalationLevel),
			NewValue:     fmt.Sprintf("%d", recipient.Level),
			ChangeSource: domain.SourceEscalation,
			ChangedBy:    "system",
			ChangedAt:    now,
		})
	})
	if err != nil {
		return false, err
	}

	if o.metrics != nil {
		o.metrics.AlertsEscalated.Inc()
	}
	o.logger.Info("alert escalated",
		"alert_id", alert.ID,
		"next_alert_id", next.ID,
		"from_level", alert.EscalationLevel,
		"to_level", recipient.Level,
		"recipient", recipient.Email,
	)
	return false, nil
}

// SendReminders re-nudges alerts that were sent longer ago than the
// policy's reminder threshold and still have no response. The queue's
// idempotency key caps it at one reminder per alert.
func (o *Orchestrator) SendReminders(ctx context.Context) (int, error) {
	now := o.now()
	settings := repository.NewSQLiteSettingsRepo(o.conn)
	workItems := repository.NewSQLiteWorkItemRepo(o.conn)

	// Use the widest plausible window, then filter per program policy.
	unresponded, err := repository.NewSQLiteAlertRepo(o.conn).ListUnresponded(ctx, now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, alert := range unresponded {
		programID, err := workItems.ProgramIDFor(ctx, alert.WorkItemID)
		if err != nil {
			continue
		}
		policy, err := settings.PolicyForProgram(ctx, programID)
		if err != nil || policy.ReminderAfterHours <= 0 {
			continue
		}
		threshold := time.Duration(policy.ReminderAfterHours * float64(time.Hour))
		if alert.SentAt == nil || now.Sub(*alert.SentAt) < threshold {
			continue
		}

		err = o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
			return o.enqueueSend(ctx, tx, alert.ID, "remind-"+alert.ID, now)
		})
		if err != nil {
			o.logger.Error("queueing reminder failed", "alert_id", alert.ID, "error", err)
			continue
		}
		queued++
	}
	return queued, nil
}

// CleanupResult summarizes one stale-cleanup run.
type CleanupResult struct {
	ExpiredAlerts int
	PrunedTokens  int
}

// tokenRetention is how long revoked or expired token rows are kept for
// forensics before the cleanup job prunes them.
const tokenRetention = 90 * 24 * time.Hour

// ExpireStale expires alerts past their expires_at and prunes old token
// rows.
func (o *Orchestrator) ExpireStale(ctx context.Context) (*CleanupResult, error) {
	now := o.now()
	res := &CleanupResult{}

	stale, err := repository.NewSQLiteAlertRepo(o.conn).ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, alert := range stale {
		err := o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
			alert.Status = domain.AlertExpired
			alert.UpdatedAt = now
			return repository.NewSQLiteAlertRepo(tx).Update(ctx, alert)
		})
		if err != nil {
			o.logger.Error("expiring stale alert failed", "alert_id", alert.ID, "error", err)
			continue
		}
		res.ExpiredAlerts++
	}

	pruned, err := repository.NewSQLiteResponseTokenRepo(o.conn).DeleteRevokedBefore(ctx, now.Add(-tokenRetention))
	if err != nil {
		return res, fmt.Errorf("pruning tokens: %w", err)
	}
	res.PrunedTokens = pruned

	if res.ExpiredAlerts > 0 || res.PrunedTokens > 0 {
		o.logger.Info("stale cleanup complete", "expired_alerts", res.ExpiredAlerts, "pruned_tokens", res.PrunedTokens)
	}
	return res, nil
}
