package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/notify"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// QueueResult summarizes one queue drain.
type QueueResult struct {
	Sent    int
	Skipped int
	Failed  int
}

// ProcessQueue drains due outbound actions: render, emit via the
// notifier, mark sent. Actions for alerts that are no longer in flight
// are drained without sending. Each send is committed individually so a
// failing transport does not hold up the batch.
func (o *Orchestrator) ProcessQueue(ctx context.Context, batchSize int) (*QueueResult, error) {
	now := o.now()
	queue := repository.NewSQLiteAlertQueueRepo(o.conn)
	alerts := repository.NewSQLiteAlertRepo(o.conn)

	due, err := queue.ListDue(ctx, now, batchSize)
	if err != nil {
		return nil, err
	}

	res := &QueueResult{}
	for _, item := range due {
		alert, err := alerts.GetByID(ctx, item.AlertID)
		if err != nil {
			o.markFailed(ctx, item.ID, fmt.Sprintf("loading alert: %v", err))
			res.Failed++
			continue
		}

		if !alert.InFlight() {
			// Responded, expired or cancelled since enqueueing; drain
			// without sending.
			o.markSent(ctx, item.ID, alert, false)
			res.Skipped++
			continue
		}

		msg := notifyMessage(alert, bodyFor(alert))
		if alert.IntendedRecipientID != nil {
			// A fresh link per send: the plaintext from mint time is
			// never stored, and extra token rows expire harmlessly.
			minted, err := o.tokens.Mint(ctx, *alert.IntendedRecipientID, alert.WorkItemID, alert.ID, alert.DeadlineDate)
			if err != nil {
				o.markFailed(ctx, item.ID, fmt.Sprintf("minting link: %v", err))
				res.Failed++
				continue
			}
			msg.ReplyURL = o.magicLink(minted.Token)
		}

		if err := o.notifier.Send(ctx, msg); err != nil {
			o.markFailed(ctx, item.ID, err.Error())
			res.Failed++
			if o.metrics != nil {
				o.metrics.QueueSendsTotal.WithLabelValues("failed").Inc()
			}
			continue
		}

		o.markSent(ctx, item.ID, alert, true)
		res.Sent++
		if o.metrics != nil {
			o.metrics.QueueSendsTotal.WithLabelValues("sent").Inc()
		}
	}

	if res.Sent > 0 || res.Failed > 0 {
		o.logger.Info("queue drained", "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res, nil
}

// markSent drains the queue row and, for a live first send, advances the
// alert to sent.
func (o *Orchestrator) markSent(ctx context.Context, queueID string, alert *domain.Alert, delivered bool) {
	now := o.now()
	err := o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if err := repository.NewSQLiteAlertQueueRepo(tx).MarkSent(ctx, queueID, now); err != nil {
			return err
		}
		if delivered && alert.Status == domain.AlertPending {
			alert.Status = domain.AlertSent
			alert.SentAt = &now
			// The response window runs from the actual send; queue
			// latency must not eat into it.
			if alert.EscalationTimeoutAt != nil && alert.ScheduledSendAt != nil {
				at := now.Add(alert.EscalationTimeoutAt.Sub(*alert.ScheduledSendAt))
				alert.EscalationTimeoutAt = &at
			}
			alert.UpdatedAt = now
			return repository.NewSQLiteAlertRepo(tx).Update(ctx, alert)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("marking queue row sent failed", "queue_id", queueID, "error", err)
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, queueID, reason string) {
	err := o.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return repository.NewSQLiteAlertQueueRepo(tx).MarkFailed(ctx, queueID, reason)
	})
	if err != nil {
		o.logger.Error("marking queue row failed failed", "queue_id", queueID, "error", err)
	}
}

// notifyMessage builds the transport message for one alert.
func notifyMessage(alert *domain.Alert, body string) notify.Message {
	return notify.Message{
		To:      alert.RecipientEmail,
		Subject: subjectFor(alert),
		Body:    body,
		AlertID: alert.ID,
		Urgency: alert.Urgency,
	}
}

func subjectFor(alert *domain.Alert) string {
	deadline := alert.DeadlineDate.Format("2006-01-02")
	switch alert.Type {
	case domain.AlertStatusCheck:
		return fmt.Sprintf("Status check: work due %s", deadline)
	case domain.AlertApprovalRequest:
		return "Delay approval needed"
	case domain.AlertBlockerReport:
		return "Blocker reported"
	case domain.AlertReminder:
		return fmt.Sprintf("Reminder: status check due %s", deadline)
	default:
		return fmt.Sprintf("Escalation: work due %s", deadline)
	}
}

func bodyFor(alert *domain.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deadline %s, escalation level %d.", alert.DeadlineDate.Format("2006-01-02"), alert.EscalationLevel)
	if alert.EscalationReason != "" {
		fmt.Fprintf(&b, " %s.", alert.EscalationReason)
	}
	return b.String()
}
