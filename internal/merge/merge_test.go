package merge

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/importer"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *sql.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(db, testutil.NewTestUoW(db), logger), db
}

func basePlan() *importer.PlanImport {
	return &importer.PlanImport{
		Program: importer.ProgramImport{ExternalID: "PRG-1", Name: "Apollo"},
		Resources: []importer.ResourceRow{
			{ExternalID: "RES-1", Name: "Sam Chen", Email: "sam@example.com"},
		},
		WorkItems: []importer.WorkItemRow{
			{
				ExternalID: "WI-1", ProjectExternalID: "PRJ-1", ProjectName: "Payments",
				PhaseExternalID: "PH-1", PhaseName: "Build", Name: "Build API",
				PlannedStart: "2026-09-01", PlannedEnd: "2026-09-10",
				AllocationPercent: 50, ResourceExternalID: "RES-1",
			},
			{
				ExternalID: "WI-2", ProjectExternalID: "PRJ-1", ProjectName: "Payments",
				PhaseExternalID: "PH-1", PhaseName: "Build", Name: "Test API",
				PlannedStart: "2026-09-11", PlannedEnd: "2026-09-15",
				AllocationPercent: 50, ResourceExternalID: "RES-1",
			},
		},
		Dependencies: []importer.DependencyRow{
			{SuccessorExternalID: "WI-2", PredecessorExternalID: "WI-1", Type: "FS"},
		},
	}
}

func TestExecute_InitialImport(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()

	result, err := engine.Execute(ctx, basePlan(), Options{GhostCheck: true, SaveBaseline: true, FileName: "plan.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportSuccess, result.Status)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.ResourcesUpserted)
	assert.Equal(t, 1, result.Dependencies)
	assert.Equal(t, 1, result.BaselineVersion)

	// Inserted items start life mirroring the plan.
	wiRepo := repository.NewSQLiteWorkItemRepo(db)
	items, err := wiRepo.ListByProgram(ctx, result.ProgramID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, wi := range items {
		assert.Equal(t, domain.WorkItemNotStarted, wi.Status)
		assert.Equal(t, 0.0, wi.CompletionPercent)
		assert.True(t, wi.CurrentStart.Equal(wi.PlannedStart))
		assert.True(t, wi.CurrentEnd.Equal(wi.PlannedEnd))
		require.NotNil(t, wi.ResourceID)
	}

	// Program window derives from the rows.
	prog, err := repository.NewSQLiteProgramRepo(db).GetByID(ctx, result.ProgramID)
	require.NoError(t, err)
	require.NotNil(t, prog.BaselineStart)
	assert.True(t, prog.BaselineStart.Equal(testutil.MustDate("2026-09-01")))
	assert.True(t, prog.BaselineEnd.Equal(testutil.MustDate("2026-09-15")))

	// Batch completed and references the baseline snapshot.
	batch, err := repository.NewSQLiteImportBatchRepo(db).GetByID(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportSuccess, batch.Status)
	require.NotNil(t, batch.CompletedAt)
	require.NotNil(t, batch.BaselineVersionID)

	// Every insert got an audit row under the batch id.
	audits, err := repository.NewSQLiteAuditRepo(db).ListByBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Len(t, audits, 2)
}

func TestExecute_ReimportIsIdempotent(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Execute(ctx, basePlan(), Options{GhostCheck: true})
	require.NoError(t, err)

	second, err := engine.Execute(ctx, basePlan(), Options{GhostCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, 0, second.Cancelled)
	assert.Empty(t, second.FieldChanges)
}

func TestExecute_ProgressiveElaboration(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()

	first, err := engine.Execute(ctx, basePlan(), Options{})
	require.NoError(t, err)

	// Mark WI-1 in progress to prove execution truth survives re-import.
	wiRepo := repository.NewSQLiteWorkItemRepo(db)
	items, err := wiRepo.ListByProgram(ctx, first.ProgramID)
	require.NoError(t, err)
	var started *domain.WorkItem
	for _, wi := range items {
		if wi.ExternalID == "WI-1" {
			started = wi
		}
	}
	require.NotNil(t, started)
	started.Status = domain.WorkItemInProgress
	started.CompletionPercent = 30
	started.CurrentEnd = testutil.MustDate("2026-09-12")
	require.NoError(t, wiRepo.Update(ctx, started))

	// Re-import with a changed planned_end and a new row.
	plan := basePlan()
	plan.WorkItems[0].PlannedEnd = "2026-09-12"
	plan.WorkItems = append(plan.WorkItems, importer.WorkItemRow{
		ExternalID: "WI-3", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
		Name: "Ship API", PlannedStart: "2026-09-16", PlannedEnd: "2026-09-20",
		AllocationPercent: 50, ResourceExternalID: "RES-1",
	})

	second, err := engine.Execute(ctx, plan, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	require.Len(t, second.FieldChanges, 1)
	assert.Equal(t, "planned_end", second.FieldChanges[0].Field)
	assert.Equal(t, "2026-09-10", second.FieldChanges[0].OldValue)
	assert.Equal(t, "2026-09-12", second.FieldChanges[0].NewValue)

	// Execution truth untouched.
	got, err := wiRepo.GetByID(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemInProgress, got.Status)
	assert.Equal(t, 30.0, got.CompletionPercent)
	assert.True(t, got.CurrentEnd.Equal(testutil.MustDate("2026-09-12")))
	assert.True(t, got.PlannedEnd.Equal(testutil.MustDate("2026-09-12")), "baseline field updated")
}

func TestExecute_PlannedStartPushWarning(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Execute(ctx, basePlan(), Options{})
	require.NoError(t, err)

	plan := basePlan()
	plan.WorkItems[0].PlannedStart = "2026-09-05"
	result, err := engine.Execute(ctx, plan, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "push current dates forward")
	assert.Equal(t, domain.ImportPartialSuccess, result.Status)
}

func TestExecute_GhostCheck(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()

	plan := basePlan()
	plan.WorkItems = append(plan.WorkItems,
		importer.WorkItemRow{
			ExternalID: "WI-3", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
			Name: "Started work", PlannedStart: "2026-09-01", PlannedEnd: "2026-09-05",
			AllocationPercent: 10, ResourceExternalID: "RES-1",
		},
		importer.WorkItemRow{
			ExternalID: "WI-4", ProjectExternalID: "PRJ-1", PhaseExternalID: "PH-1",
			Name: "Finished work", PlannedStart: "2026-08-01", PlannedEnd: "2026-08-10",
			AllocationPercent: 10, ResourceExternalID: "RES-1",
		})
	first, err := engine.Execute(ctx, plan, Options{})
	require.NoError(t, err)

	wiRepo := repository.NewSQLiteWorkItemRepo(db)
	items, err := wiRepo.ListByProgram(ctx, first.ProgramID)
	require.NoError(t, err)
	byExternal := map[string]*domain.WorkItem{}
	for _, wi := range items {
		byExternal[wi.ExternalID] = wi
	}
	inProgress := byExternal["WI-3"]
	inProgress.Status = domain.WorkItemInProgress
	inProgress.CompletionPercent = 45
	require.NoError(t, wiRepo.Update(ctx, inProgress))
	completed := byExternal["WI-4"]
	completed.Status = domain.WorkItemCompleted
	completed.CompletionPercent = 100
	require.NoError(t, wiRepo.Update(ctx, completed))

	// Re-import the trimmed plan: WI-2/3/4 vanish from the sheet.
	trimmed := basePlan()
	trimmed.WorkItems = trimmed.WorkItems[:1]
	trimmed.Dependencies = nil

	result, err := engine.Execute(ctx, trimmed, Options{GhostCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled, "not-started ghost cancelled")
	assert.Equal(t, 1, result.Flagged, "in-progress ghost flagged, not cancelled")
	assert.Equal(t, 1, result.PreservedCompleted)

	items, err = wiRepo.ListByProgram(ctx, first.ProgramID)
	require.NoError(t, err)
	byExternal = map[string]*domain.WorkItem{}
	for _, wi := range items {
		byExternal[wi.ExternalID] = wi
	}
	assert.Equal(t, domain.WorkItemCancelled, byExternal["WI-2"].Status)
	assert.NotEmpty(t, byExternal["WI-2"].CancellationReason)
	assert.Equal(t, domain.WorkItemInProgress, byExternal["WI-3"].Status)
	assert.True(t, byExternal["WI-3"].FlagForReview)
	assert.Contains(t, byExternal["WI-3"].ReviewMessage, "45%")
	assert.Equal(t, domain.WorkItemCompleted, byExternal["WI-4"].Status)
	assert.False(t, byExternal["WI-4"].FlagForReview)
}

func TestExecute_ValidationFailureWritesNothing(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()

	plan := basePlan()
	plan.WorkItems[0].PlannedEnd = "2026-08-01" // before start

	result, err := engine.Execute(ctx, plan, Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportValidationFailed, result.Status)
	assert.NotEmpty(t, result.Errors)

	progs, err := repository.NewSQLiteProgramRepo(db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, progs, "validation failure must not touch the store")
}

func TestExecute_DryRunWritesNothing(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()

	result, err := engine.Execute(ctx, basePlan(), Options{DryRun: true, GhostCheck: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.Inserted)

	progs, err := repository.NewSQLiteProgramRepo(db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, progs)
}

func TestExecute_DryRunClassifiesAgainstLiveState(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Execute(ctx, basePlan(), Options{})
	require.NoError(t, err)

	plan := basePlan()
	plan.WorkItems[0].PlannedEnd = "2026-09-12"
	result, err := engine.Execute(ctx, plan, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Unchanged)
	require.Len(t, result.FieldChanges, 1)
	assert.Equal(t, "planned_end", result.FieldChanges[0].Field)
}

func TestExecute_FailureRollsBackEnvelope(t *testing.T) {
	db := testutil.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Fail deep inside Pass 3, after resources and hierarchy writes.
	uow := &testutil.FailOnNthExecUoW{DB: db, FailOn: 8, Err: errors.New("disk full")}
	engine := NewEngine(db, uow, logger)
	ctx := context.Background()

	result, err := engine.Execute(ctx, basePlan(), Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "disk full")

	// Everything staged in the envelope is gone.
	progs, err := repository.NewSQLiteProgramRepo(db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, progs)

	// But the failure itself stays visible as a failed batch.
	batch, err := repository.NewSQLiteImportBatchRepo(db).GetByID(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportFailed, batch.Status)
}
