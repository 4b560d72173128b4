package importer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *PlanImport {
	return &PlanImport{
		Program: ProgramImport{ExternalID: "PRG-1", Name: "Apollo"},
		Resources: []ResourceRow{
			{ExternalID: "RES-1", Name: "Sam Chen", Email: "sam@example.com"},
		},
		WorkItems: []WorkItemRow{
			{
				ExternalID: "WI-1", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
				Name: "Build API", PlannedStart: "2026-09-01", PlannedEnd: "2026-09-10",
				AllocationPercent: 100, ResourceExternalID: "RES-1",
			},
			{
				ExternalID: "WI-2", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
				Name: "Test API", PlannedStart: "2026-09-11", PlannedEnd: "2026-09-15",
				AllocationPercent: 100, ResourceExternalID: "RES-1",
			},
		},
		Dependencies: []DependencyRow{
			{SuccessorExternalID: "WI-2", PredecessorExternalID: "WI-1", Type: "FS"},
		},
	}
}

func TestValidatePlan_Valid(t *testing.T) {
	rep := ValidatePlan(validPlan())
	assert.True(t, rep.Valid())
	assert.Empty(t, rep.Errors)
}

func TestValidatePlan_MissingRequiredFields(t *testing.T) {
	plan := validPlan()
	plan.Program.ExternalID = ""
	plan.WorkItems[0].Name = ""
	plan.WorkItems[0].PlannedStart = ""

	rep := ValidatePlan(plan)
	assert.False(t, rep.Valid())
	assert.Len(t, rep.Errors, 3)
}

func TestValidatePlan_DateOrderAndFormat(t *testing.T) {
	plan := validPlan()
	plan.WorkItems[0].PlannedStart = "2026-09-10"
	plan.WorkItems[0].PlannedEnd = "2026-09-01"
	plan.WorkItems[1].PlannedEnd = "10/09/2026"

	rep := ValidatePlan(plan)
	require.Len(t, rep.Errors, 2)
	assert.Contains(t, rep.Errors[0].Error(), "planned_end")
	assert.Contains(t, rep.Errors[1].Error(), "invalid date format")
}

func TestValidatePlan_AllocationRange(t *testing.T) {
	plan := validPlan()
	plan.WorkItems[0].AllocationPercent = 130
	plan.WorkItems[1].AllocationPercent = -5

	rep := ValidatePlan(plan)
	assert.Len(t, rep.Errors, 2)
}

func TestValidatePlan_DuplicateExternalIDs(t *testing.T) {
	plan := validPlan()
	plan.WorkItems[1].ExternalID = "WI-1"

	rep := ValidatePlan(plan)
	require.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0].Error(), "duplicate")
}

func TestValidatePlan_MalformedEmail(t *testing.T) {
	plan := validPlan()
	plan.Resources[0].Email = "not-an-address"

	rep := ValidatePlan(plan)
	require.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0].Error(), "malformed address")
}

func TestValidatePlan_UnknownResourceRef(t *testing.T) {
	plan := validPlan()
	plan.WorkItems[0].ResourceExternalID = "RES-404"

	rep := ValidatePlan(plan)
	require.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0].Error(), "not found in resources")
}

func TestValidatePlan_DependencyProblems(t *testing.T) {
	plan := validPlan()
	plan.Dependencies = []DependencyRow{
		{SuccessorExternalID: "WI-1", PredecessorExternalID: "WI-1"},
		{SuccessorExternalID: "WI-2", PredecessorExternalID: "WI-404"},
		{SuccessorExternalID: "WI-2", PredecessorExternalID: "WI-1", Type: "XX"},
	}

	rep := ValidatePlan(plan)
	require.False(t, rep.Valid())
	assert.Len(t, rep.Errors, 3)
}

func TestValidatePlan_CycleDetection(t *testing.T) {
	plan := validPlan()
	plan.WorkItems = append(plan.WorkItems, WorkItemRow{
		ExternalID: "WI-3", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
		Name: "Ship API", PlannedStart: "2026-09-16", PlannedEnd: "2026-09-20",
		AllocationPercent: 100,
	})
	plan.Dependencies = []DependencyRow{
		{SuccessorExternalID: "WI-2", PredecessorExternalID: "WI-1"},
		{SuccessorExternalID: "WI-3", PredecessorExternalID: "WI-2"},
		{SuccessorExternalID: "WI-1", PredecessorExternalID: "WI-3"},
	}

	rep := ValidatePlan(plan)
	require.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0].Error(), "circular dependency")
}

func TestValidatePlan_OverAllocationIsWarning(t *testing.T) {
	plan := validPlan()
	// Move the second row on top of the first: two concurrent 100% rows.
	plan.WorkItems[1].PlannedStart = "2026-09-05"
	plan.WorkItems[1].PlannedEnd = "2026-09-10"

	rep := ValidatePlan(plan)
	assert.True(t, rep.Valid(), "over-allocation must not block the import")
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "200%")
}

func TestValidatePlan_SequentialFullTimeRowsNotOverAllocated(t *testing.T) {
	// validPlan's two 100% rows are back to back, not concurrent.
	rep := ValidatePlan(validPlan())
	assert.True(t, rep.Valid())
	assert.Empty(t, rep.Warnings)
}

func TestValidatePlan_OrphanRatioWarning(t *testing.T) {
	plan := validPlan()
	plan.WorkItems[0].ResourceExternalID = ""

	rep := ValidatePlan(plan)
	assert.True(t, rep.Valid())
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "1 of 2 work items")
}

func TestValidatePlan_OrphanRatioBelowThreshold(t *testing.T) {
	plan := validPlan()
	for i := 2; i < 10; i++ {
		plan.WorkItems = append(plan.WorkItems, WorkItemRow{
			ExternalID: fmt.Sprintf("WI-%d", i+1), ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
			Name: fmt.Sprintf("Task %d", i+1), PlannedStart: "2026-09-01", PlannedEnd: "2026-09-05",
			AllocationPercent: 10, ResourceExternalID: "RES-1",
		})
	}
	plan.WorkItems[0].ResourceExternalID = "" // 1 of 10 = 10%, below threshold
	plan.WorkItems[1].AllocationPercent = 10

	rep := ValidatePlan(plan)
	assert.True(t, rep.Valid())
	for _, w := range rep.Warnings {
		assert.NotContains(t, w, "no assigned resource")
	}
}
