// Package alerting is the orchestrator for the deadline tracking loop:
// the daily scan, alert creation, response processing, timeout
// escalation, the approval workflow and delay cascades.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/alexanderramin/planwatch/internal/calendar"
	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/metrics"
	"github.com/alexanderramin/planwatch/internal/notify"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/token"
)

// Orchestrator wires the calendar, escalation resolver, token service and
// impact analyzer around the repositories. Reads go through conn; every
// multi-step write runs under the unit of work.
type Orchestrator struct {
	conn     db.DBTX
	uow      db.UnitOfWork
	cal      *calendar.Calendar
	resolver *escalation.Resolver
	tokens   *token.Service
	analyzer *impact.Analyzer
	notifier notify.Notifier
	metrics  *metrics.Registry
	logger   *slog.Logger

	// FrontendBaseURL is where magic links point.
	frontendBaseURL string
	now             func() time.Time
}

type Config struct {
	Conn            db.DBTX
	UoW             db.UnitOfWork
	Calendar        *calendar.Calendar
	Resolver        *escalation.Resolver
	Tokens          *token.Service
	Analyzer        *impact.Analyzer
	Notifier        notify.Notifier
	Metrics         *metrics.Registry
	Logger          *slog.Logger
	FrontendBaseURL string
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		conn:            cfg.Conn,
		uow:             cfg.UoW,
		cal:             cfg.Calendar,
		resolver:        cfg.Resolver,
		tokens:          cfg.Tokens,
		analyzer:        cfg.Analyzer,
		notifier:        cfg.Notifier,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		frontendBaseURL: cfg.FrontendBaseURL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the orchestrator clock. Test hook.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// magicLink renders the URL a recipient clicks to respond.
func (o *Orchestrator) magicLink(plaintext string) string {
	return fmt.Sprintf("%s/respond?token=%s", o.frontendBaseURL, url.QueryEscape(plaintext))
}

// workItemContext loads the work item with its owner, program and policy.
// Owner is nil when the item has no resource.
type workItemContext struct {
	WorkItem *domain.WorkItem
	Owner    *domain.Resource
	Program  *domain.Program
	Policy   domain.EscalationPolicy
}

func (o *Orchestrator) loadWorkItemContext(ctx context.Context, workItemID string) (*workItemContext, error) {
	workItems := repository.NewSQLiteWorkItemRepo(o.conn)
	wi, err := workItems.GetByID(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("loading work item %s: %w", workItemID, err)
	}

	programID, err := workItems.ProgramIDFor(ctx, wi.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving program for %s: %w", wi.ExternalID, err)
	}
	program, err := repository.NewSQLiteProgramRepo(o.conn).GetByID(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("loading program %s: %w", programID, err)
	}
	policy, err := repository.NewSQLiteSettingsRepo(o.conn).PolicyForProgram(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("loading policy for %s: %w", programID, err)
	}

	wctx := &workItemContext{WorkItem: wi, Program: program, Policy: policy}
	if wi.ResourceID != nil {
		owner, err := repository.NewSQLiteResourceRepo(o.conn).GetByID(ctx, *wi.ResourceID)
		if err == nil {
			wctx.Owner = owner
		}
	}
	return wctx, nil
}

// urgencyForLevel maps escalation depth to urgency.
func urgencyForLevel(level int) domain.AlertUrgency {
	switch {
	case level >= escalation.LevelPM:
		return domain.UrgencyCritical
	case level >= escalation.LevelManager:
		return domain.UrgencyHigh
	}
	return domain.UrgencyNormal
}

func countryOf(r *domain.Resource) string {
	if r == nil {
		return ""
	}
	return r.Country
}
