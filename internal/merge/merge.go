// Package merge implements the three-pass plan reconcile: a validated
// plan is classified against live state into inserts, updates and ghosts,
// then applied in bulk inside one transactional envelope with per-field
// audit records.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/importer"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// Options controls one import run.
type Options struct {
	DryRun       bool
	GhostCheck   bool
	SaveBaseline bool
	FileName     string
	FileHash     string
	ChangedBy    string
}

// FieldChange is one whitelisted baseline-field diff on an updated item.
type FieldChange struct {
	WorkItemExternalID string `json:"work_item_external_id"`
	Field              string `json:"field"`
	OldValue           string `json:"old_value"`
	NewValue           string `json:"new_value"`
}

// Result summarizes one import run. For a dry run the counts describe
// what would happen; nothing is written.
type Result struct {
	BatchID            string                   `json:"batch_id,omitempty"`
	ProgramID          string                   `json:"program_id,omitempty"`
	Status             domain.ImportBatchStatus `json:"status"`
	DryRun             bool                     `json:"dry_run"`
	Inserted           int                      `json:"inserted"`
	Updated            int                      `json:"updated"`
	Unchanged          int                      `json:"unchanged"`
	Cancelled          int                      `json:"cancelled"`
	Flagged            int                      `json:"flagged"`
	PreservedCompleted int                      `json:"preserved_completed"`
	ResourcesUpserted  int                      `json:"resources_upserted"`
	Dependencies       int                      `json:"dependencies"`
	BaselineVersion    int                      `json:"baseline_version,omitempty"`
	FieldChanges       []FieldChange            `json:"field_changes,omitempty"`
	Errors             []string                 `json:"errors,omitempty"`
	Warnings           []string                 `json:"warnings,omitempty"`
	RolledBack         []string                 `json:"rolled_back,omitempty"`
}

// Engine runs the smart merge pipeline. Reads outside the envelope go
// through conn; the execute phase builds tx-scoped repositories.
type Engine struct {
	conn   db.DBTX
	uow    db.UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(conn db.DBTX, uow db.UnitOfWork, logger *slog.Logger) *Engine {
	return &Engine{conn: conn, uow: uow, logger: logger, now: time.Now}
}

// WithClock overrides the clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Execute validates the plan, then classifies and applies it. Validation
// errors stop the run before any write. Execute-phase failures roll the
// whole envelope back and record a failed batch.
func (e *Engine) Execute(ctx context.Context, plan *importer.PlanImport, opts Options) (*Result, error) {
	rep := importer.ValidatePlan(plan)
	result := &Result{DryRun: opts.DryRun, Warnings: rep.Warnings}
	if !rep.Valid() {
		result.Status = domain.ImportValidationFailed
		for _, err := range rep.Errors {
			result.Errors = append(result.Errors, err.Error())
		}
		return result, nil
	}

	if opts.DryRun {
		if err := e.classifyOnly(ctx, plan, opts, result); err != nil {
			return nil, err
		}
		result.Status = domain.ImportSuccess
		return result, nil
	}

	batchID := uuid.New().String()
	result.BatchID = batchID
	opLog := db.NewOpLog(batchID)

	err := e.uow.WithinTx(db.WithOpLog(ctx, opLog), func(ctx context.Context, tx db.DBTX) error {
		return e.executeTx(ctx, tx, plan, opts, result)
	})
	if err != nil {
		// The SQLite transaction already restored every row; the op log
		// names what was attempted, in compensating order.
		for _, op := range opLog.Reversed() {
			result.RolledBack = append(result.RolledBack,
				fmt.Sprintf("%s %s %s", op.Kind, op.Table, op.EntityID))
		}
		result.Status = domain.ImportFailed
		result.Errors = append(result.Errors, err.Error())
		e.recordFailedBatch(ctx, plan, opts, result)
		e.logger.Error("import failed, envelope rolled back",
			"batch_id", batchID, "staged_ops", opLog.Len(), "error", err)
		return result, nil
	}

	if len(result.Warnings) > 0 {
		result.Status = domain.ImportPartialSuccess
	} else {
		result.Status = domain.ImportSuccess
	}
	e.finishBatch(ctx, batchID, result)
	e.logger.Info("import complete",
		"batch_id", batchID, "inserted", result.Inserted, "updated", result.Updated,
		"cancelled", result.Cancelled, "flagged", result.Flagged)
	return result, nil
}

// executeTx is Pass 3, strictly ordered per the pipeline contract.
func (e *Engine) executeTx(ctx context.Context, tx db.DBTX, plan *importer.PlanImport, opts Options, result *Result) error {
	programs := repository.NewSQLiteProgramRepo(tx)
	projects := repository.NewSQLiteProjectRepo(tx)
	phases := repository.NewSQLitePhaseRepo(tx)
	workItems := repository.NewSQLiteWorkItemRepo(tx)
	deps := repository.NewSQLiteDependencyRepo(tx)
	resources := repository.NewSQLiteResourceRepo(tx)
	audit := repository.NewSQLiteAuditRepo(tx)
	batches := repository.NewSQLiteImportBatchRepo(tx)
	baselines := repository.NewSQLiteBaselineRepo(tx)

	opLog := db.OpLogFrom(ctx)
	now := e.now().UTC()

	// 1. Resources, two passes so backup/manager links resolve regardless
	// of row order.
	resourceIDs, err := e.upsertResources(ctx, resources, plan.Resources, now)
	if err != nil {
		return err
	}
	result.ResourcesUpserted = len(resourceIDs)

	// 2. Hierarchy, with the program window derived from the rows.
	program, phaseIDs, err := e.upsertHierarchy(ctx, programs, projects, phases, plan, now)
	if err != nil {
		return err
	}
	result.ProgramID = program.ID

	// 3. Batch record inside the envelope.
	batch := &domain.ImportBatch{
		ID:        result.BatchID,
		ProgramID: program.ID,
		FileName:  opts.FileName,
		FileHash:  opts.FileHash,
		StartedAt: now,
		Status:    domain.ImportRunning,
	}
	if err := batches.Create(ctx, batch); err != nil {
		return err
	}

	// 4. Baseline snapshot before any work-item mutation.
	if opts.SaveBaseline {
		baselineID, version, err := e.snapshotBaseline(ctx, baselines, workItems, program.ID, result.BatchID, opts.ChangedBy, now)
		if err != nil {
			return err
		}
		result.BaselineVersion = version
		batch.BaselineVersionID = &baselineID
		if err := batches.Update(ctx, batch); err != nil {
			return err
		}
	}

	// 5-6. Classify and bulk-apply.
	existingByKey, existingByExternal, err := loadExisting(ctx, workItems, program.ID)
	if err != nil {
		return err
	}

	var auditRecs []*domain.AuditRecord
	itemIDs := make(map[string]string, len(plan.WorkItems))

	for _, row := range plan.WorkItems {
		phaseID := phaseIDs[hierKey(row.ProjectExternalID, row.PhaseExternalID)]
		key := hierKey(phaseID, row.ExternalID)

		existing, found := existingByKey[key]
		if !found {
			wi := rowToNewItem(row, phaseID, resourceIDs, now)
			if err := workItems.Create(ctx, wi); err != nil {
				return err
			}
			itemIDs[row.ExternalID] = wi.ID
			result.Inserted++
			if opLog != nil {
				opLog.Record(db.Op{Kind: db.OpInsert, Table: "work_items", EntityID: wi.ID})
			}
			auditRecs = append(auditRecs, newAuditRecord(result.BatchID, "work_item", wi.ID, "INSERT", "", "", row.ExternalID, opts.ChangedBy, now))
			continue
		}

		itemIDs[row.ExternalID] = existing.ID
		changes := diffBaselineFields(existing, row, resourceIDs)
		if len(changes) == 0 {
			result.Unchanged++
			continue
		}
		if newStart, err := time.Parse("2006-01-02", row.PlannedStart); err == nil {
			if newStart.After(existing.CurrentStart) {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"work item %s: new planned_start %s is after current_start %s; recalculation will push current dates forward",
					row.ExternalID, row.PlannedStart, existing.CurrentStart.Format("2006-01-02")))
			}
		}
		applyBaselineFields(existing, row, resourceIDs)
		existing.UpdatedAt = now
		if err := workItems.Update(ctx, existing); err != nil {
			return err
		}
		result.Updated++
		for _, ch := range changes {
			ch.WorkItemExternalID = row.ExternalID
			result.FieldChanges = append(result.FieldChanges, ch)
			if opLog != nil {
				opLog.Record(db.Op{Kind: db.OpUpdate, Table: "work_items", EntityID: existing.ID,
					Field: ch.Field, OldValue: ch.OldValue, NewValue: ch.NewValue})
			}
			auditRecs = append(auditRecs, newAuditRecord(result.BatchID, "work_item", existing.ID, "UPDATE",
				ch.Field, ch.OldValue, ch.NewValue, opts.ChangedBy, now))
		}
	}

	// 7. Ghost check.
	if opts.GhostCheck {
		imported := make(map[string]bool, len(plan.WorkItems))
		for _, row := range plan.WorkItems {
			imported[row.ExternalID] = true
		}
		ghostRecs, err := e.ghostCheck(ctx, workItems, existingByExternal, imported, result, opts.ChangedBy, now)
		if err != nil {
			return err
		}
		auditRecs = append(auditRecs, ghostRecs...)
	}

	// 8. Dependencies.
	for _, d := range plan.Dependencies {
		succID, okS := itemIDs[d.SuccessorExternalID]
		predID, okP := itemIDs[d.PredecessorExternalID]
		if !okS || !okP {
			continue
		}
		depType := domain.DependencyType(d.Type)
		if d.Type == "" {
			depType = domain.DepFinishToStart
		}
		if err := deps.Upsert(ctx, &domain.Dependency{
			SuccessorID: succID, PredecessorID: predID, Type: depType, LagDays: d.LagDays,
		}); err != nil {
			return err
		}
		result.Dependencies++
	}

	// 9. One bulk audit insert for everything staged above.
	if len(auditRecs) > 0 {
		if err := audit.CreateBulk(ctx, auditRecs); err != nil {
			return err
		}
	}
	return nil
}

// classifyOnly runs the classification pass against live state without
// writing anything. Used by dry runs.
func (e *Engine) classifyOnly(ctx context.Context, plan *importer.PlanImport, opts Options, result *Result) error {
	programs := repository.NewSQLiteProgramRepo(e.conn)
	phases := repository.NewSQLitePhaseRepo(e.conn)
	workItems := repository.NewSQLiteWorkItemRepo(e.conn)
	resources := repository.NewSQLiteResourceRepo(e.conn)

	result.ResourcesUpserted = len(plan.Resources)
	result.Dependencies = len(plan.Dependencies)

	program, err := programs.GetByExternalID(ctx, plan.Program.ExternalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// First import: everything is an insert.
			result.Inserted = len(plan.WorkItems)
			return nil
		}
		return err
	}
	result.ProgramID = program.ID

	resourceIDs := make(map[string]string, len(plan.Resources))
	for _, row := range plan.Resources {
		if res, err := resources.GetByExternalID(ctx, row.ExternalID); err == nil {
			resourceIDs[row.ExternalID] = res.ID
		}
	}

	phaseIDs := make(map[string]string)
	existingPhases, err := phases.ListByProgram(ctx, program.ID)
	if err != nil {
		return err
	}
	projectsByID := make(map[string]string)
	projRepo := repository.NewSQLiteProjectRepo(e.conn)
	existingProjects, err := projRepo.ListByProgram(ctx, program.ID)
	if err != nil {
		return err
	}
	for _, pr := range existingProjects {
		projectsByID[pr.ID] = pr.ExternalID
	}
	for _, ph := range existingPhases {
		phaseIDs[hierKey(projectsByID[ph.ProjectID], ph.ExternalID)] = ph.ID
	}

	existingByKey, existingByExternal, err := loadExisting(ctx, workItems, program.ID)
	if err != nil {
		return err
	}

	imported := make(map[string]bool, len(plan.WorkItems))
	for _, row := range plan.WorkItems {
		imported[row.ExternalID] = true
		phaseID := phaseIDs[hierKey(row.ProjectExternalID, row.PhaseExternalID)]
		existing, found := existingByKey[hierKey(phaseID, row.ExternalID)]
		if !found {
			result.Inserted++
			continue
		}
		changes := diffBaselineFields(existing, row, resourceIDs)
		if len(changes) == 0 {
			result.Unchanged++
			continue
		}
		result.Updated++
		for _, ch := range changes {
			ch.WorkItemExternalID = row.ExternalID
			result.FieldChanges = append(result.FieldChanges, ch)
		}
	}

	if opts.GhostCheck {
		for externalID, wi := range existingByExternal {
			if imported[externalID] {
				continue
			}
			switch wi.Status {
			case domain.WorkItemNotStarted:
				result.Cancelled++
			case domain.WorkItemInProgress, domain.WorkItemOnHold:
				result.Flagged++
			case domain.WorkItemCompleted:
				result.PreservedCompleted++
			}
		}
	}
	return nil
}

// ghostCheck classifies program items missing from the import. Started
// work is never auto-cancelled.
func (e *Engine) ghostCheck(ctx context.Context, workItems repository.WorkItemRepo, existing map[string]*domain.WorkItem, imported map[string]bool, result *Result, changedBy string, now time.Time) ([]*domain.AuditRecord, error) {
	opLog := db.OpLogFrom(ctx)
	var recs []*domain.AuditRecord

	for externalID, wi := range existing {
		if imported[externalID] {
			continue
		}
		switch wi.Status {
		case domain.WorkItemNotStarted:
			old := string(wi.Status)
			wi.Status = domain.WorkItemCancelled
			wi.CancellationReason = "removed from imported plan"
			wi.UpdatedAt = now
			if err := workItems.Update(ctx, wi); err != nil {
				return nil, err
			}
			result.Cancelled++
			if opLog != nil {
				opLog.Record(db.Op{Kind: db.OpUpdate, Table: "work_items", EntityID: wi.ID,
					Field: "status", OldValue: old, NewValue: string(domain.WorkItemCancelled)})
			}
			recs = append(recs, newAuditRecord(result.BatchID, "work_item", wi.ID, "CANCEL",
				"status", old, string(domain.WorkItemCancelled), changedBy, now))

		case domain.WorkItemInProgress, domain.WorkItemOnHold:
			wi.FlagForReview = true
			wi.ReviewMessage = fmt.Sprintf(
				"missing from latest import but %.0f%% complete; review before cancelling", wi.CompletionPercent)
			wi.UpdatedAt = now
			if err := workItems.Update(ctx, wi); err != nil {
				return nil, err
			}
			result.Flagged++
			if opLog != nil {
				opLog.Record(db.Op{Kind: db.OpUpdate, Table: "work_items", EntityID: wi.ID,
					Field: "flag_for_review", OldValue: "0", NewValue: "1"})
			}
			recs = append(recs, newAuditRecord(result.BatchID, "work_item", wi.ID, "FLAG",
				"flag_for_review", "0", "1", changedBy, now))

		case domain.WorkItemCompleted:
			result.PreservedCompleted++
		}
	}
	return recs, nil
}

func (e *Engine) upsertResources(ctx context.Context, resources repository.ResourceRepo, rows []importer.ResourceRow, now time.Time) (map[string]string, error) {
	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		res := &domain.Resource{
			ID:                 uuid.New().String(),
			ExternalID:         row.ExternalID,
			Name:               row.Name,
			PrimaryEmail:       row.Email,
			NotificationEmail:  row.NotificationEmail,
			Role:               row.Role,
			AvailabilityStatus: domain.AvailabilityActive,
			Timezone:           defaultString(row.Timezone, "UTC"),
			MaxUtilization:     defaultFloat(row.MaxUtilization, 100),
			Country:            row.Country,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := resources.Upsert(ctx, res); err != nil {
			return nil, err
		}
		stored, err := resources.GetByExternalID(ctx, row.ExternalID)
		if err != nil {
			return nil, err
		}
		ids[row.ExternalID] = stored.ID
	}

	// Second pass: backup and manager links.
	for _, row := range rows {
		if row.BackupExternalID == "" && row.ManagerExternalID == "" {
			continue
		}
		stored, err := resources.GetByExternalID(ctx, row.ExternalID)
		if err != nil {
			return nil, err
		}
		if id, ok := ids[row.BackupExternalID]; ok {
			stored.BackupResourceID = &id
		}
		if id, ok := ids[row.ManagerExternalID]; ok {
			stored.ManagerID = &id
		}
		stored.UpdatedAt = now
		if err := resources.Upsert(ctx, stored); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (e *Engine) upsertHierarchy(ctx context.Context, programs repository.ProgramRepo, projects repository.ProjectRepo, phases repository.PhaseRepo, plan *importer.PlanImport, now time.Time) (*domain.Program, map[string]string, error) {
	minStart, maxEnd := planWindow(plan.WorkItems)

	program, err := programs.GetByExternalID(ctx, plan.Program.ExternalID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, err
		}
		program = &domain.Program{
			ID:         uuid.New().String(),
			ExternalID: plan.Program.ExternalID,
			Name:       plan.Program.Name,
			Status:     domain.ProgramActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		program.BaselineStart = minStart
		program.BaselineEnd = maxEnd
		if err := programs.Create(ctx, program); err != nil {
			return nil, nil, err
		}
	} else {
		program.Name = plan.Program.Name
		program.BaselineStart = minStart
		program.BaselineEnd = maxEnd
		program.UpdatedAt = now
		if err := programs.Update(ctx, program); err != nil {
			return nil, nil, err
		}
	}

	projectIDs := make(map[string]string)
	phaseIDs := make(map[string]string)
	for _, row := range plan.WorkItems {
		if _, ok := projectIDs[row.ProjectExternalID]; !ok {
			proj, err := projects.GetByExternalID(ctx, program.ID, row.ProjectExternalID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return nil, nil, err
				}
				proj = &domain.Project{
					ID:         uuid.New().String(),
					ExternalID: row.ProjectExternalID,
					ProgramID:  program.ID,
					Name:       defaultString(row.ProjectName, row.ProjectExternalID),
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := projects.Create(ctx, proj); err != nil {
					return nil, nil, err
				}
			}
			projectIDs[row.ProjectExternalID] = proj.ID
		}

		key := hierKey(row.ProjectExternalID, row.PhaseExternalID)
		if _, ok := phaseIDs[key]; !ok {
			projID := projectIDs[row.ProjectExternalID]
			phase, err := phases.GetByExternalID(ctx, projID, row.PhaseExternalID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return nil, nil, err
				}
				phase = &domain.Phase{
					ID:         uuid.New().String(),
					ExternalID: row.PhaseExternalID,
					ProjectID:  projID,
					Name:       defaultString(row.PhaseName, row.PhaseExternalID),
					Sequence:   row.PhaseSequence,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := phases.Create(ctx, phase); err != nil {
					return nil, nil, err
				}
			}
			phaseIDs[key] = phase.ID
		}
	}
	return program, phaseIDs, nil
}

func (e *Engine) snapshotBaseline(ctx context.Context, baselines repository.BaselineRepo, workItems repository.WorkItemRepo, programID, batchID, createdBy string, now time.Time) (string, int, error) {
	items, err := workItems.ListByProgram(ctx, programID)
	if err != nil {
		return "", 0, err
	}
	type snapItem struct {
		ID           string `json:"id"`
		ExternalID   string `json:"external_id"`
		PlannedStart string `json:"planned_start"`
		PlannedEnd   string `json:"planned_end"`
		CurrentStart string `json:"current_start"`
		CurrentEnd   string `json:"current_end"`
		Status       string `json:"status"`
		Completion   string `json:"completion_percent"`
	}
	snap := make([]snapItem, 0, len(items))
	for _, wi := range items {
		snap = append(snap, snapItem{
			ID: wi.ID, ExternalID: wi.ExternalID,
			PlannedStart: wi.PlannedStart.Format("2006-01-02"),
			PlannedEnd:   wi.PlannedEnd.Format("2006-01-02"),
			CurrentStart: wi.CurrentStart.Format("2006-01-02"),
			CurrentEnd:   wi.CurrentEnd.Format("2006-01-02"),
			Status:       string(wi.Status),
			Completion:   fmt.Sprintf("%.1f", wi.CompletionPercent),
		})
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return "", 0, err
	}

	maxVersion, err := baselines.MaxVersion(ctx, programID)
	if err != nil {
		return "", 0, err
	}
	version := maxVersion + 1
	baselineID := uuid.New().String()
	if err := baselines.Create(ctx, &domain.BaselineVersion{
		ID:            baselineID,
		ProgramID:     programID,
		VersionNumber: version,
		Snapshot:      string(blob),
		TotalItems:    len(items),
		Reason:        "pre-import snapshot",
		CreatedBy:     createdBy,
		ImportBatchID: &batchID,
		CreatedAt:     now,
	}); err != nil {
		return "", 0, err
	}
	return baselineID, version, nil
}

// finishBatch stamps the batch row after the envelope commits.
func (e *Engine) finishBatch(ctx context.Context, batchID string, result *Result) {
	batches := repository.NewSQLiteImportBatchRepo(e.conn)
	batch, err := batches.GetByID(ctx, batchID)
	if err != nil {
		e.logger.Warn("finishing import batch", "batch_id", batchID, "error", err)
		return
	}
	now := e.now().UTC()
	batch.CompletedAt = &now
	batch.Status = result.Status
	batch.Summary = marshalSummary(result)
	if err := batches.Update(ctx, batch); err != nil {
		e.logger.Warn("finishing import batch", "batch_id", batchID, "error", err)
	}
}

// recordFailedBatch writes a failed batch row outside the rolled-back
// envelope so the failure stays visible.
func (e *Engine) recordFailedBatch(ctx context.Context, plan *importer.PlanImport, opts Options, result *Result) {
	programID := result.ProgramID
	if programID == "" {
		programID = plan.Program.ExternalID
	}
	now := e.now().UTC()
	batch := &domain.ImportBatch{
		ID:          result.BatchID,
		ProgramID:   programID,
		FileName:    opts.FileName,
		FileHash:    opts.FileHash,
		StartedAt:   now,
		CompletedAt: &now,
		Status:      domain.ImportFailed,
		Summary:     marshalSummary(result),
	}
	if err := repository.NewSQLiteImportBatchRepo(e.conn).Create(ctx, batch); err != nil {
		e.logger.Warn("recording failed import batch", "batch_id", result.BatchID, "error", err)
	}
}

func marshalSummary(result *Result) string {
	blob, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(blob)
}

func loadExisting(ctx context.Context, workItems repository.WorkItemRepo, programID string) (map[string]*domain.WorkItem, map[string]*domain.WorkItem, error) {
	items, err := workItems.ListByProgram(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	byKey := make(map[string]*domain.WorkItem, len(items))
	byExternal := make(map[string]*domain.WorkItem, len(items))
	for _, wi := range items {
		byKey[hierKey(wi.PhaseID, wi.ExternalID)] = wi
		byExternal[wi.ExternalID] = wi
	}
	return byKey, byExternal, nil
}

func hierKey(a, b string) string {
	return a + "\x00" + b
}

func planWindow(rows []importer.WorkItemRow) (*time.Time, *time.Time) {
	var minStart, maxEnd *time.Time
	for _, row := range rows {
		if start, err := time.Parse("2006-01-02", row.PlannedStart); err == nil {
			if minStart == nil || start.Before(*minStart) {
				s := start
				minStart = &s
			}
		}
		if end, err := time.Parse("2006-01-02", row.PlannedEnd); err == nil {
			if maxEnd == nil || end.After(*maxEnd) {
				e := end
				maxEnd = &e
			}
		}
	}
	return minStart, maxEnd
}

func newAuditRecord(batchID, entityType, entityID, action, field, oldVal, newVal, changedBy string, now time.Time) *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:           uuid.New().String(),
		EntityType:   entityType,
		EntityID:     entityID,
		Action:       action,
		FieldChanged: field,
		OldValue:     oldVal,
		NewValue:     newVal,
		ChangeSource: domain.SourceImport,
		BatchID:      batchID,
		ChangedBy:    changedBy,
		ChangedAt:    now,
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
