package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// scanHorizonDays is how far ahead the daily scan looks for deadlines.
const scanHorizonDays = 7

// PendingStatusCheck is one work item due for a status request today.
type PendingStatusCheck struct {
	WorkItem *domain.WorkItem
	Owner    *domain.Resource
	Program  *domain.Program
	Policy   domain.EscalationPolicy
	Deadline time.Time
}

// ScanForPendingStatusChecks finds work items whose alert send date is
// target. Rows lacking a resource, deadline or resolvable program are
// logged and skipped, never errored.
func (o *Orchestrator) ScanForPendingStatusChecks(ctx context.Context, target time.Time) ([]PendingStatusCheck, error) {
	workItems := repository.NewSQLiteWorkItemRepo(o.conn)
	responses := repository.NewSQLiteResponseRepo(o.conn)
	alerts := repository.NewSQLiteAlertRepo(o.conn)

	due, err := workItems.ListDueBetween(ctx, target, target.AddDate(0, 0, scanHorizonDays))
	if err != nil {
		return nil, err
	}

	var pending []PendingStatusCheck
	for _, wi := range due {
		if wi.ResourceID == nil {
			o.logger.Warn("scan: work item has no resource", "work_item", wi.ExternalID)
			continue
		}
		if wi.CurrentEnd.IsZero() {
			o.logger.Warn("scan: work item has no deadline", "work_item", wi.ExternalID)
			continue
		}

		wctx, err := o.loadWorkItemContext(ctx, wi.ID)
		if err != nil {
			o.logger.Warn("scan: skipping work item", "work_item", wi.ExternalID, "error", err)
			continue
		}
		if wctx.Owner == nil {
			o.logger.Warn("scan: resource not found", "work_item", wi.ExternalID, "resource_id", *wi.ResourceID)
			continue
		}

		deadline := wi.CurrentEnd
		alertDate, err := o.cal.BusinessDaysBefore(ctx, deadline, wctx.Policy.DaysBeforeDeadline, countryOf(wctx.Owner))
		if err != nil {
			o.logger.Warn("scan: calendar lookup failed", "work_item", wi.ExternalID, "error", err)
			continue
		}
		if !sameDate(alertDate, target) {
			continue
		}

		// An in-flight alert whose latest response says on-track means
		// nobody needs another nudge for this deadline.
		inFlight, err := alerts.ListInFlightForWorkItem(ctx, wi.ID, deadline)
		if err != nil {
			return nil, err
		}
		if len(inFlight) > 0 {
			latest, err := responses.GetLatestForWorkItem(ctx, wi.ID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			if latest != nil && latest.ReportedStatus == domain.ReportedOnTrack {
				continue
			}
		}

		pending = append(pending, PendingStatusCheck{
			WorkItem: wi,
			Owner:    wctx.Owner,
			Program:  wctx.Program,
			Policy:   wctx.Policy,
			Deadline: deadline,
		})
	}
	return pending, nil
}

// ScanResult summarizes one daily scan run.
type ScanResult struct {
	Scanned    int
	Created    int
	Duplicates int
	Failed     int
}

// RunDailyScan scans for pending status checks and creates an alert for
// each. Individual creation failures are logged and counted, not fatal.
func (o *Orchestrator) RunDailyScan(ctx context.Context, target time.Time) (*ScanResult, error) {
	pending, err := o.ScanForPendingStatusChecks(ctx, target)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{Scanned: len(pending)}
	for _, p := range pending {
		created, err := o.CreateStatusCheckAlert(ctx, p)
		if err != nil {
			res.Failed++
			o.logger.Error("daily scan: alert creation failed", "work_item", p.WorkItem.ExternalID, "error", err)
			continue
		}
		if created.Duplicate {
			res.Duplicates++
		} else {
			res.Created++
		}
	}
	o.logger.Info("daily scan complete",
		"target", target.Format("2006-01-02"),
		"scanned", res.Scanned,
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
	)
	return res, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
