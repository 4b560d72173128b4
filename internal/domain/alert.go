package domain

import "time"

// Alert is a single status request or escalation notice. The store's
// unique (work_item_id, deadline_date, alert_type, escalation_level)
// constraint over in-flight statuses is the authoritative duplicate guard.
type Alert struct {
	ID                  string
	WorkItemID          string
	DeadlineDate        time.Time
	IntendedRecipientID *string
	ActualRecipientID   *string
	RecipientEmail      string
	Type                AlertType
	EscalationLevel     int
	Urgency             AlertUrgency
	Status              AlertStatus
	ScheduledSendAt     *time.Time
	SentAt              *time.Time
	RespondedAt         *time.Time
	ExpiresAt           *time.Time
	EscalationTimeoutAt *time.Time
	ParentAlertID       *string
	EscalationReason    string
	Metadata            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// InFlight reports whether the alert still counts toward the
// at-most-one-in-flight rule.
func (a *Alert) InFlight() bool {
	switch a.Status {
	case AlertPending, AlertSent, AlertDelivered, AlertOpened:
		return true
	}
	return false
}

// ResponseToken is the stored side of a magic link. Only the SHA-256 hash
// of the signed token is persisted; the plaintext lives in the URL alone.
type ResponseToken struct {
	ID               string
	TokenHash        string
	WorkItemID       string
	ResourceID       string
	AlertID          *string
	ExpiresAt        time.Time
	Revoked          bool
	UsedAt           *time.Time
	UsedByResponseID *string
	CreatedAt        time.Time
}

// WorkItemResponse is one versioned status report for a work item.
// Exactly one response per work item has IsLatest=true.
type WorkItemResponse struct {
	ID                          string
	AlertID                     string
	WorkItemID                  string
	ResponderID                 string
	TokenID                     *string
	ReportedStatus              ReportedStatus
	ProposedNewDate             *time.Time
	DelayDays                   int
	ReasonCategory              ReasonCategory
	ReasonDetails               string
	Comment                     string
	ResponseVersion             int
	IsLatest                    bool
	SupersededByResponseVersion *int
	RequiresApproval            bool
	ApprovalStatus              ApprovalStatus
	ApprovedBy                  *string
	ApprovedAt                  *time.Time
	RejectionReason             string
	ImpactAnalysis              string
	SubmittedAt                 time.Time
	IdempotencyKey              string
}

// QueuedSend is one pending outbound notification. IdempotencyKey is
// unique in the store, which prevents double-enqueue for the same alert.
type QueuedSend struct {
	ID             string
	AlertID        string
	IdempotencyKey string
	DueAt          time.Time
	Attempts       int
	SentAt         *time.Time
	LastError      string
	CreatedAt      time.Time
}
