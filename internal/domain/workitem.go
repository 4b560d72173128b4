package domain

import (
	"fmt"
	"time"
)

// WorkItem carries three date layers: planned (baseline, owned by the
// spreadsheet), current (the system's best projection), and actual
// (recorded truth, never overwritten by import).
type WorkItem struct {
	ID         string
	ExternalID string
	PhaseID    string
	Name       string

	// Baseline
	PlannedStart      time.Time
	PlannedEnd        time.Time
	PlannedEffortHrs  float64
	AllocationPercent float64

	// Projection
	CurrentStart time.Time
	CurrentEnd   time.Time

	// Truth
	ActualStart *time.Time
	ActualEnd   *time.Time

	Status            WorkItemStatus
	CompletionPercent float64
	ResourceID        *string

	IsCriticalPath bool
	SlackDays      int

	FlagForReview      bool
	ReviewMessage      string
	CancellationReason string

	// Prioritization metadata carried through from the plan.
	Complexity          string
	RevenueImpact       float64
	StrategicImportance int
	CustomerImpact      string
	IsCriticalLaunch    bool
	FeatureName         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DurationDays is the inclusive calendar-day span of the current window.
func (w *WorkItem) DurationDays() int {
	return int(w.CurrentEnd.Sub(w.CurrentStart).Hours()/24) + 1
}

// Terminal reports whether the item no longer participates in tracking.
func (w *WorkItem) Terminal() bool {
	return w.Status == WorkItemCompleted || w.Status == WorkItemCancelled
}

// CheckDateInvariants verifies planned_start <= planned_end and
// current_start <= current_end.
func (w *WorkItem) CheckDateInvariants() error {
	if w.PlannedEnd.Before(w.PlannedStart) {
		return fmt.Errorf("work item %s: planned_end %s before planned_start %s",
			w.ExternalID, w.PlannedEnd.Format("2006-01-02"), w.PlannedStart.Format("2006-01-02"))
	}
	if w.CurrentEnd.Before(w.CurrentStart) {
		return fmt.Errorf("work item %s: current_end %s before current_start %s",
			w.ExternalID, w.CurrentEnd.Format("2006-01-02"), w.CurrentStart.Format("2006-01-02"))
	}
	return nil
}

// Dependency links a successor to a predecessor with one of the four
// standard edge types and a lag in days. Unique per (successor, predecessor).
type Dependency struct {
	SuccessorID   string
	PredecessorID string
	Type          DependencyType
	LagDays       int
}
