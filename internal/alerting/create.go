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
	"github.com/alexanderramin/planwatch/internal/token"
)

// CreatedAlert is the outcome of an alert creation attempt. Duplicate
// means the store's uniqueness guard found an in-flight alert already
// covering the slot; the existing alert is returned.
type CreatedAlert struct {
	Alert     *domain.Alert
	Duplicate bool
	MagicLink string
}

// CreateStatusCheckAlert creates the level-0 status request for one
// pending check: resolve the recipient, schedule the send, mint the
// magic link and enqueue the outbound action. The unique in-flight
// constraint is the authoritative duplicate guard; a collision returns
// the existing alert.
func (o *Orchestrator) CreateStatusCheckAlert(ctx context.Context, p PendingStatusCheck) (*CreatedAlert, error) {
	recipient, skipped, err := o.resolver.FindAvailableRecipient(ctx, p.Owner, p.Program, escalation.LevelPrimary)
	if err != nil {
		return nil, fmt.Errorf("resolving recipient: %w", err)
	}
	if recipient == nil {
		return o.createNoRecipientAlert(ctx, p, skipped)
	}
	for _, s := range skipped {
		o.logger.Info("escalation chain entry skipped",
			"work_item", p.WorkItem.ExternalID, "level", s.Level, "reason", s.Reason)
	}

	scheduledAt, err := o.cal.AlertSendTimestamp(ctx, p.Deadline,
		p.Policy.AlertTimeOfDay, recipient.Timezone, p.Policy.DaysBeforeDeadline, countryOf(p.Owner))
	if err != nil {
		return nil, fmt.Errorf("computing send time: %w", err)
	}

	now := o.now()
	expiresAt := token.ExpiryFor(p.Deadline)
	alert := &domain.Alert{
		ID:                  uuid.New().String(),
		WorkItemID:          p.WorkItem.ID,
		DeadlineDate:        p.Deadline,
		IntendedRecipientID: recipient.ResourceID,
		RecipientEmail:      recipient.Email,
		Type:                domain.AlertStatusCheck,
		EscalationLevel:     recipient.Level,
		Urgency:             urgencyForLevel(recipient.Level),
		Status:              domain.AlertPending,
		ScheduledSendAt:     &scheduledAt,
		ExpiresAt:           &expiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if timeout, ok := p.Policy.TimeoutFor(recipient.Level); ok {
		// Provisional anchor; markSent re-anchors it to the actual send.
		at := scheduledAt.Add(timeout)
		alert.EscalationTimeoutAt = &at
	}

	// Mint before the envelope: a collision below orphans the token row,
	// which is harmless (it expires and is pruned), while minting inside
	// the transaction would write through the non-tx connection.
	var link string
	if recipient.ResourceID != nil {
		minted, err := o.tokens.Mint(ctx, *recipient.ResourceID, p.WorkItem.ID, alert.ID, p.Deadline)
		if err != nil {
			return nil, fmt.Errorf("minting response token: %w", err)
		}
		link = o.magicLink(minted.Token)
	}

	err = o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if err := repository.NewSQLiteAlertRepo(tx).Create(ctx, alert); err != nil {
			return err
		}
		return o.enqueueSend(ctx, tx, alert.ID, "send-"+alert.ID, scheduledAt)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		existing, lookErr := repository.NewSQLiteAlertRepo(o.conn).GetInFlight(ctx,
			p.WorkItem.ID, p.Deadline, domain.AlertStatusCheck, recipient.Level)
		if lookErr != nil {
			return nil, fmt.Errorf("looking up existing alert: %w", lookErr)
		}
		return &CreatedAlert{Alert: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.AlertsCreated.WithLabelValues(string(domain.AlertStatusCheck)).Inc()
	}
	o.logger.Info("status check alert created",
		"alert_id", alert.ID,
		"work_item", p.WorkItem.ExternalID,
		"deadline", p.Deadline.Format("2006-01-02"),
		"recipient", recipient.Email,
		"scheduled_send_at", scheduledAt,
	)
	return &CreatedAlert{Alert: alert, MagicLink: link}, nil
}

// createNoRecipientAlert handles an exhausted chain: an escalation alert
// addressed to the PM lookup, flagged for manual intervention, with a
// best-effort notification fired immediately.
func (o *Orchestrator) createNoRecipientAlert(ctx context.Context, p PendingStatusCheck, skipped []escalation.Skipped) (*CreatedAlert, error) {
	reason := "no available recipient in escalation chain"
	for _, s := range skipped {
		reason += fmt.Sprintf("; level %d: %s", s.Level, s.Reason)
	}

	email := o.resolver.OpsFallbackEmail
	now := o.now()
	expiresAt := token.ExpiryFor(p.Deadline)
	alert := &domain.Alert{
		ID:               uuid.New().String(),
		WorkItemID:       p.WorkItem.ID,
		DeadlineDate:     p.Deadline,
		RecipientEmail:   email,
		Type:             domain.AlertEscalation,
		EscalationLevel:  escalation.LevelPM,
		Urgency:          domain.UrgencyCritical,
		Status:           domain.AlertPending,
		ExpiresAt:        &expiresAt,
		EscalationReason: reason,
		Metadata:         `{"manual_intervention_required":true}`,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if err := repository.NewSQLiteAlertRepo(tx).Create(ctx, alert); err != nil {
			return err
		}
		return o.enqueueSend(ctx, tx, alert.ID, "send-"+alert.ID, now)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		existing, lookErr := repository.NewSQLiteAlertRepo(o.conn).GetInFlight(ctx,
			p.WorkItem.ID, p.Deadline, domain.AlertEscalation, escalation.LevelPM)
		if lookErr != nil {
			return nil, fmt.Errorf("looking up existing alert: %w", lookErr)
		}
		return &CreatedAlert{Alert: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	o.notifyBestEffort(ctx, alert, fmt.Sprintf(
		"Nobody in the escalation chain for %q can take a status check due %s. Manual intervention required.",
		p.WorkItem.Name, p.Deadline.Format("2006-01-02")))

	if o.metrics != nil {
		o.metrics.AlertsCreated.WithLabelValues(string(domain.AlertEscalation)).Inc()
	}
	return &CreatedAlert{Alert: alert}, nil
}

// enqueueSend stages an outbound action; a duplicate idempotency key
// means the action is already queued and is not an error.
func (o *Orchestrator) enqueueSend(ctx context.Context, tx db.DBTX, alertID, idemKey string, dueAt time.Time) error {
	err := repository.NewSQLiteAlertQueueRepo(tx).Enqueue(ctx, &domain.QueuedSend{
		ID:             uuid.New().String(),
		AlertID:        alertID,
		IdempotencyKey: idemKey,
		DueAt:          dueAt,
		CreatedAt:      o.now(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

// notifyBestEffort fires a notification and logs failures instead of
// propagating them.
func (o *Orchestrator) notifyBestEffort(ctx context.Context, alert *domain.Alert, body string) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Send(ctx, notifyMessage(alert, body))
	if err != nil {
		o.logger.Error("best-effort notification failed", "alert_id", alert.ID, "error", err)
	}
}
