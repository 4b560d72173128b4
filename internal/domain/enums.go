package domain

type WorkItemStatus string

const (
	WorkItemNotStarted WorkItemStatus = "not_started"
	WorkItemInProgress WorkItemStatus = "in_progress"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemOnHold     WorkItemStatus = "on_hold"
	WorkItemCancelled  WorkItemStatus = "cancelled"
)

// ValidWorkItemStatuses is the canonical set of accepted work item statuses.
var ValidWorkItemStatuses = map[string]bool{
	"not_started": true, "in_progress": true, "completed": true,
	"on_hold": true, "cancelled": true,
}

type DependencyType string

const (
	DepFinishToStart  DependencyType = "FS"
	DepStartToStart   DependencyType = "SS"
	DepFinishToFinish DependencyType = "FF"
	DepStartToFinish  DependencyType = "SF"
)

// ValidDependencyTypes is the canonical set of accepted dependency type strings.
var ValidDependencyTypes = map[string]bool{"FS": true, "SS": true, "FF": true, "SF": true}

type AvailabilityStatus string

const (
	AvailabilityActive      AvailabilityStatus = "active"
	AvailabilityOnLeave     AvailabilityStatus = "on_leave"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
	AvailabilityPartial     AvailabilityStatus = "partial"
)

type ProgramStatus string

const (
	ProgramActive    ProgramStatus = "active"
	ProgramOnHold    ProgramStatus = "on_hold"
	ProgramCompleted ProgramStatus = "completed"
	ProgramCancelled ProgramStatus = "cancelled"
)

type AlertType string

const (
	AlertStatusCheck     AlertType = "STATUS_CHECK"
	AlertApprovalRequest AlertType = "APPROVAL_REQUEST"
	AlertBlockerReport   AlertType = "BLOCKER_REPORT"
	AlertEscalation      AlertType = "ESCALATION"
	AlertReminder        AlertType = "REMINDER"
)

type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertSent      AlertStatus = "sent"
	AlertDelivered AlertStatus = "delivered"
	AlertOpened    AlertStatus = "opened"
	AlertResponded AlertStatus = "responded"
	AlertExpired   AlertStatus = "expired"
	AlertCancelled AlertStatus = "cancelled"
)

// InFlightAlertStatuses are the statuses that count toward the
// at-most-one-in-flight uniqueness rule.
var InFlightAlertStatuses = []AlertStatus{AlertPending, AlertSent, AlertDelivered, AlertOpened}

type AlertUrgency string

const (
	UrgencyNormal   AlertUrgency = "normal"
	UrgencyHigh     AlertUrgency = "high"
	UrgencyCritical AlertUrgency = "critical"
)

type ReportedStatus string

const (
	ReportedOnTrack   ReportedStatus = "ON_TRACK"
	ReportedDelayed   ReportedStatus = "DELAYED"
	ReportedBlocked   ReportedStatus = "BLOCKED"
	ReportedCompleted ReportedStatus = "COMPLETED"
)

// ValidReportedStatuses is the canonical set of statuses a responder may report.
var ValidReportedStatuses = map[string]bool{
	"ON_TRACK": true, "DELAYED": true, "BLOCKED": true, "COMPLETED": true,
}

type ReasonCategory string

const (
	ReasonScopeIncrease      ReasonCategory = "SCOPE_INCREASE"
	ReasonStartedLate        ReasonCategory = "STARTED_LATE"
	ReasonResourcePulled     ReasonCategory = "RESOURCE_PULLED"
	ReasonTechnicalBlocker   ReasonCategory = "TECHNICAL_BLOCKER"
	ReasonExternalDependency ReasonCategory = "EXTERNAL_DEPENDENCY"
	ReasonSpecChange         ReasonCategory = "SPECIFICATION_CHANGE"
	ReasonQualityIssue       ReasonCategory = "QUALITY_ISSUE"
	ReasonOther              ReasonCategory = "OTHER"
)

// ValidReasonCategories is the canonical set of delay reason categories.
var ValidReasonCategories = map[string]bool{
	"SCOPE_INCREASE": true, "STARTED_LATE": true, "RESOURCE_PULLED": true,
	"TECHNICAL_BLOCKER": true, "EXTERNAL_DEPENDENCY": true,
	"SPECIFICATION_CHANGE": true, "QUALITY_ISSUE": true, "OTHER": true,
}

type ApprovalStatus string

const (
	ApprovalNotRequired  ApprovalStatus = "not_required"
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type ImportBatchStatus string

const (
	ImportRunning          ImportBatchStatus = "running"
	ImportSuccess          ImportBatchStatus = "success"
	ImportPartialSuccess   ImportBatchStatus = "partial_success"
	ImportValidationFailed ImportBatchStatus = "validation_failed"
	ImportFailed           ImportBatchStatus = "failed"
)

type ChangeSource string

const (
	SourceImport     ChangeSource = "import"
	SourceResponse   ChangeSource = "response"
	SourceEscalation ChangeSource = "escalation"
	SourceRecalc     ChangeSource = "recalculation"
	SourceApproval   ChangeSource = "approval"
	SourceScheduler  ChangeSource = "scheduler"
)
