// Package importer holds the normalized plan records produced by the
// spreadsheet reader and the pure validation pass that runs before any
// store write.
package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PlanImport is the top-level structure of one parsed plan file.
type PlanImport struct {
	Program      ProgramImport   `json:"program"`
	Resources    []ResourceRow   `json:"resources,omitempty"`
	WorkItems    []WorkItemRow   `json:"work_items"`
	Dependencies []DependencyRow `json:"dependencies,omitempty"`
}

// ProgramImport names the program this plan belongs to.
type ProgramImport struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// ResourceRow is one person referenced by the plan.
type ResourceRow struct {
	ExternalID         string  `json:"external_id"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	NotificationEmail  string  `json:"notification_email,omitempty"`
	Role               string  `json:"role,omitempty"`
	BackupExternalID   string  `json:"backup_external_id,omitempty"`
	ManagerExternalID  string  `json:"manager_external_id,omitempty"`
	Timezone           string  `json:"timezone,omitempty"`
	MaxUtilization     float64 `json:"max_utilization,omitempty"`
	Country            string  `json:"country,omitempty"`
}

// WorkItemRow is one plan row, carrying its own project/phase placement so
// the hierarchy can be derived without a separate sheet.
type WorkItemRow struct {
	ExternalID        string `json:"external_id"`
	ProjectExternalID string `json:"project_external_id"`
	ProjectName       string `json:"project_name,omitempty"`
	PhaseExternalID   string `json:"phase_external_id"`
	PhaseName         string `json:"phase_name,omitempty"`
	PhaseSequence     int    `json:"phase_sequence,omitempty"`
	Name              string `json:"name"`

	PlannedStart      string  `json:"planned_start"`
	PlannedEnd        string  `json:"planned_end"`
	PlannedEffortHrs  float64 `json:"planned_effort_hrs,omitempty"`
	AllocationPercent float64 `json:"allocation_percent,omitempty"`

	ResourceExternalID string `json:"resource_external_id,omitempty"`

	Complexity          string  `json:"complexity,omitempty"`
	RevenueImpact       float64 `json:"revenue_impact,omitempty"`
	StrategicImportance int     `json:"strategic_importance,omitempty"`
	CustomerImpact      string  `json:"customer_impact,omitempty"`
	IsCriticalLaunch    bool    `json:"is_critical_launch,omitempty"`
	FeatureName         string  `json:"feature_name,omitempty"`
}

// DependencyRow links two work-item rows by external id.
type DependencyRow struct {
	SuccessorExternalID   string `json:"successor_external_id"`
	PredecessorExternalID string `json:"predecessor_external_id"`
	Type                  string `json:"type,omitempty"`
	LagDays               int    `json:"lag_days,omitempty"`
}

// LoadPlanImport reads and parses a normalized plan JSON file.
func LoadPlanImport(path string) (*PlanImport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePlanImport(f)
}

// ParsePlanImport decodes a normalized plan JSON stream, such as an
// uploaded file.
func ParsePlanImport(r io.Reader) (*PlanImport, error) {
	var plan PlanImport
	if err := json.NewDecoder(r).Decode(&plan); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	return &plan, nil
}
