// Package notify defines the outbound notification sink. Real transports
// (SMTP, SendGrid, chat webhooks) implement Notifier behind this
// interface; the default sink logs the message, which keeps every send
// path exercised without external credentials.
package notify

import (
	"context"
	"log/slog"

	"github.com/alexanderramin/planwatch/internal/domain"
)

// Message is one rendered outbound notification.
type Message struct {
	To       string
	Subject  string
	Body     string
	AlertID  string
	Urgency  domain.AlertUrgency
	ReplyURL string
}

// Notifier delivers a message over one transport. Implementations must be
// safe for concurrent use; the queue processor fans out over a batch.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes every message to the structured log. Used as the
// default transport and as the best-effort fallback when no transport is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		"to", msg.To,
		"subject", msg.Subject,
		"alert_id", msg.AlertID,
		"urgency", msg.Urgency,
		"reply_url", msg.ReplyURL,
	)
	return nil
}
