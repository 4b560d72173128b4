package merge

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/importer"
)

// rowToNewItem builds the initial state for an inserted row: current
// window mirrors planned, status NotStarted, zero completion.
func rowToNewItem(row importer.WorkItemRow, phaseID string, resourceIDs map[string]string, now time.Time) *domain.WorkItem {
	start, _ := time.Parse("2006-01-02", row.PlannedStart)
	end, _ := time.Parse("2006-01-02", row.PlannedEnd)

	wi := &domain.WorkItem{
		ID:                  uuid.New().String(),
		ExternalID:          row.ExternalID,
		PhaseID:             phaseID,
		Name:                row.Name,
		PlannedStart:        start,
		PlannedEnd:          end,
		PlannedEffortHrs:    row.PlannedEffortHrs,
		AllocationPercent:   defaultFloat(row.AllocationPercent, 100),
		CurrentStart:        start,
		CurrentEnd:          end,
		Status:              domain.WorkItemNotStarted,
		CompletionPercent:   0,
		Complexity:          row.Complexity,
		RevenueImpact:       row.RevenueImpact,
		StrategicImportance: row.StrategicImportance,
		CustomerImpact:      row.CustomerImpact,
		IsCriticalLaunch:    row.IsCriticalLaunch,
		FeatureName:         row.FeatureName,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if id, ok := resourceIDs[row.ResourceExternalID]; ok {
		wi.ResourceID = &id
	}
	return wi
}

// diffBaselineFields computes the per-field whitelist diff between an
// existing item and its incoming row. No-ops produce an empty slice.
func diffBaselineFields(existing *domain.WorkItem, row importer.WorkItemRow, resourceIDs map[string]string) []FieldChange {
	var changes []FieldChange
	add := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			changes = append(changes, FieldChange{Field: field, OldValue: oldVal, NewValue: newVal})
		}
	}

	add("name", existing.Name, row.Name)
	add("planned_start", existing.PlannedStart.Format("2006-01-02"), row.PlannedStart)
	add("planned_end", existing.PlannedEnd.Format("2006-01-02"), row.PlannedEnd)
	add("planned_effort_hrs", formatFloat(existing.PlannedEffortHrs), formatFloat(row.PlannedEffortHrs))
	add("allocation_percent", formatFloat(existing.AllocationPercent), formatFloat(defaultFloat(row.AllocationPercent, 100)))
	add("resource_id", ptrString(existing.ResourceID), resourceIDs[row.ResourceExternalID])
	add("complexity", existing.Complexity, row.Complexity)
	add("revenue_impact", formatFloat(existing.RevenueImpact), formatFloat(row.RevenueImpact))
	add("strategic_importance", fmt.Sprintf("%d", existing.StrategicImportance), fmt.Sprintf("%d", row.StrategicImportance))
	add("customer_impact", existing.CustomerImpact, row.CustomerImpact)
	add("is_critical_launch", formatBool(existing.IsCriticalLaunch), formatBool(row.IsCriticalLaunch))
	add("feature_name", existing.FeatureName, row.FeatureName)

	return changes
}

// applyBaselineFields writes the whitelisted fields onto the existing
// item, leaving execution truth alone.
func applyBaselineFields(existing *domain.WorkItem, row importer.WorkItemRow, resourceIDs map[string]string) {
	existing.Name = row.Name
	if start, err := time.Parse("2006-01-02", row.PlannedStart); err == nil {
		existing.PlannedStart = start
	}
	if end, err := time.Parse("2006-01-02", row.PlannedEnd); err == nil {
		existing.PlannedEnd = end
	}
	existing.PlannedEffortHrs = row.PlannedEffortHrs
	existing.AllocationPercent = defaultFloat(row.AllocationPercent, 100)
	if id, ok := resourceIDs[row.ResourceExternalID]; ok {
		existing.ResourceID = &id
	} else if row.ResourceExternalID == "" {
		existing.ResourceID = nil
	}
	existing.Complexity = row.Complexity
	existing.RevenueImpact = row.RevenueImpact
	existing.StrategicImportance = row.StrategicImportance
	existing.CustomerImpact = row.CustomerImpact
	existing.IsCriticalLaunch = row.IsCriticalLaunch
	existing.FeatureName = row.FeatureName
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func ptrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
