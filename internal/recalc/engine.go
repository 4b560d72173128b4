package recalc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// Engine loads a program's graph, runs the computation and persists the
// moved windows, critical flags and slack inside one transaction.
type Engine struct {
	conn   db.DBTX
	uow    db.UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(conn db.DBTX, uow db.UnitOfWork, logger *slog.Logger) *Engine {
	return &Engine{
		conn:   conn,
		uow:    uow,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run recalculates one program. The returned Result reflects what was
// persisted; a CycleError aborts before any write.
func (e *Engine) Run(ctx context.Context, programID string) (*Result, error) {
	items, err := repository.NewSQLiteWorkItemRepo(e.conn).ListByProgram(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("loading work items: %w", err)
	}
	deps, err := repository.NewSQLiteDependencyRepo(e.conn).ListByProgram(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("loading dependencies: %w", err)
	}

	in := Input{Edges: deps, Items: make([]Item, 0, len(items))}
	byID := make(map[string]*domain.WorkItem, len(items))
	for _, wi := range items {
		byID[wi.ID] = wi
		in.Items = append(in.Items, Item{
			ID:           wi.ID,
			ExternalID:   wi.ExternalID,
			Name:         wi.Name,
			DurationDays: wi.DurationDays(),
			CurrentStart: wi.CurrentStart,
			CurrentEnd:   wi.CurrentEnd,
			PlannedStart: wi.PlannedStart,
			PlannedEnd:   wi.PlannedEnd,
			ActualStart:  wi.ActualStart,
			Terminal:     wi.Terminal(),
		})
	}

	result, err := Compute(in)
	if err != nil {
		e.logger.Error("recalculation refused", "program_id", programID, "error", err)
		return nil, err
	}

	runID := uuid.New().String()
	err = e.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return e.persist(ctx, tx, runID, byID, result)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting recalculation: %w", err)
	}

	e.logger.Info("recalculation complete",
		"program_id", programID,
		"run_id", runID,
		"updated", len(result.Changes),
		"critical", len(result.CriticalPath),
		"project_end", result.ProjectEnd.Format("2006-01-02"),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (e *Engine) persist(ctx context.Context, tx db.DBTX, runID string, byID map[string]*domain.WorkItem, result *Result) error {
	workItems := repository.NewSQLiteWorkItemRepo(tx)
	audits := repository.NewSQLiteAuditRepo(tx)
	now := e.now()

	var records []*domain.AuditRecord
	addRecord := func(entityID, field, oldVal, newVal string) {
		records = append(records, &domain.AuditRecord{
			ID:           uuid.New().String(),
			EntityType:   "work_item",
			EntityID:     entityID,
			Action:       "UPDATE",
			FieldChanged: field,
			OldValue:     oldVal,
			NewValue:     newVal,
			ChangeSource: domain.SourceRecalc,
			BatchID:      runID,
			ChangedBy:    "system",
			ChangedAt:    now,
		})
	}

	moved := make(map[string]bool, len(result.Changes))
	for _, ch := range result.Changes {
		moved[ch.ID] = true
	}

	for id, sched := range result.Schedules {
		wi := byID[id]
		if wi == nil || wi.Terminal() {
			continue
		}

		dirty := false
		if moved[id] {
			if !sched.Start.Equal(wi.CurrentStart) {
				addRecord(id, "current_start", wi.CurrentStart.Format("2006-01-02"), sched.Start.Format("2006-01-02"))
				wi.CurrentStart = sched.Start
			}
			if !sched.End.Equal(wi.CurrentEnd) {
				addRecord(id, "current_end", wi.CurrentEnd.Format("2006-01-02"), sched.End.Format("2006-01-02"))
				wi.CurrentEnd = sched.End
			}
			dirty = true
		}
		if wi.IsCriticalPath != sched.Critical || wi.SlackDays != sched.SlackDays {
			wi.IsCriticalPath = sched.Critical
			wi.SlackDays = sched.SlackDays
			dirty = true
		}
		if !dirty {
			continue
		}

		wi.UpdatedAt = now
		if err := workItems.Update(ctx, wi); err != nil {
			return fmt.Errorf("updating work item %s: %w", wi.ExternalID, err)
		}
	}

	if len(records) > 0 {
		if err := audits.CreateBulk(ctx, records); err != nil {
			return fmt.Errorf("writing audit records: %w", err)
		}
	}
	return nil
}
