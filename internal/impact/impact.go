// Package impact computes the consequences of a proposed deadline change:
// the reworked item window, a downstream cascade preview, resource
// conflicts and a bucketed risk level. It reads the plan but never
// writes; applying a change is the orchestrator's job.
package impact

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// cascadeCap bounds the BFS preview so a dense graph cannot blow up a
// response submission.
const cascadeCap = 100

// Input describes a proposed change to one work item's end date.
type Input struct {
	WorkItem    *domain.WorkItem
	ProposedEnd time.Time
	Reason      domain.ReasonCategory

	// AdditionalWorkPercent applies to SCOPE_INCREASE only.
	AdditionalWorkPercent float64
	// AvailableEffortPercent applies to RESOURCE_PULLED only, in (0,100).
	AvailableEffortPercent float64
}

// CascadeItem is one downstream work item the delay would push.
type CascadeItem struct {
	WorkItemID   string    `json:"work_item_id"`
	Name         string    `json:"name"`
	CurrentEnd   time.Time `json:"current_end"`
	ProjectedEnd time.Time `json:"projected_end"`
	Depth        int       `json:"depth"`
}

// ResourceConflict reports an over-allocated owner on the proposed window.
type ResourceConflict struct {
	ResourceID      string  `json:"resource_id"`
	ResourceName    string  `json:"resource_name"`
	TotalAllocation float64 `json:"total_allocation"`
	MaxUtilization  float64 `json:"max_utilization"`
	OverlapCount    int     `json:"overlap_count"`
}

// Analysis is the full preview returned to responders and approvers.
type Analysis struct {
	NewStart         time.Time          `json:"new_start"`
	NewEnd           time.Time          `json:"new_end"`
	NewDurationDays  int                `json:"new_duration_days"`
	DelayDays        int                `json:"delay_days"`
	OnCriticalPath   bool               `json:"on_critical_path"`
	Cascade          []CascadeItem      `json:"cascade"`
	CascadeTruncated bool               `json:"cascade_truncated"`
	Conflicts        []ResourceConflict `json:"conflicts"`
	RiskScore        int                `json:"risk_score"`
	RiskLevel        domain.RiskLevel   `json:"risk_level"`
}

// Analyzer previews delay impact over the live plan.
type Analyzer struct {
	workItems repository.WorkItemRepo
	deps      repository.DependencyRepo
	resources repository.ResourceRepo
}

func NewAnalyzer(workItems repository.WorkItemRepo, deps repository.DependencyRepo, resources repository.ResourceRepo) *Analyzer {
	return &Analyzer{workItems: workItems, deps: deps, resources: resources}
}

// Analyze runs the reason-specific window math plus cascade and conflict
// previews, then scores the overall risk.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	if in.WorkItem == nil {
		return nil, fmt.Errorf("impact: work item required")
	}
	wi := in.WorkItem

	newStart, newEnd := reworkWindow(wi, in)
	delayDays := daysBetween(wi.CurrentEnd, newEnd)

	out := &Analysis{
		NewStart:        newStart,
		NewEnd:          newEnd,
		NewDurationDays: daysBetween(newStart, newEnd) + 1,
		DelayDays:       delayDays,
		OnCriticalPath:  wi.IsCriticalPath,
	}

	if delayDays > 0 {
		cascade, truncated, err := a.cascadePreview(ctx, wi.ID, delayDays)
		if err != nil {
			return nil, err
		}
		out.Cascade = cascade
		out.CascadeTruncated = truncated
	}

	conflicts, err := a.conflictPreview(ctx, wi, newStart, newEnd)
	if err != nil {
		return nil, err
	}
	out.Conflicts = conflicts

	out.RiskScore = scoreRisk(delayDays, wi.IsCriticalPath, len(out.Cascade), len(conflicts) > 0)
	out.RiskLevel = bucketRisk(out.RiskScore)
	return out, nil
}

// reworkWindow applies the reason-specific duration math.
func reworkWindow(wi *domain.WorkItem, in Input) (time.Time, time.Time) {
	origDuration := wi.DurationDays()
	start := wi.CurrentStart

	switch in.Reason {
	case domain.ReasonScopeIncrease:
		if in.AdditionalWorkPercent > 0 {
			newDuration := int(math.Ceil(float64(origDuration) * (1 + in.AdditionalWorkPercent/100)))
			end := start.AddDate(0, 0, newDuration-1)
			return start, laterOf(end, in.ProposedEnd)
		}
		return start, in.ProposedEnd

	case domain.ReasonStartedLate:
		// Shift the whole window, preserving duration.
		delta := daysBetween(wi.CurrentEnd, in.ProposedEnd)
		return start.AddDate(0, 0, delta), in.ProposedEnd

	case domain.ReasonResourcePulled:
		if in.AvailableEffortPercent > 0 && in.AvailableEffortPercent < 100 {
			newDuration := int(math.Ceil(float64(origDuration) / (in.AvailableEffortPercent / 100)))
			end := start.AddDate(0, 0, newDuration-1)
			return start, laterOf(end, in.ProposedEnd)
		}
		return start, in.ProposedEnd

	default:
		return start, in.ProposedEnd
	}
}

// cascadePreview walks successors breadth-first, applying the delay
// uniformly. Full edge-type math happens at propagation time, not here.
func (a *Analyzer) cascadePreview(ctx context.Context, rootID string, delayDays int) ([]CascadeItem, bool, error) {
	type queued struct {
		id    string
		depth int
	}
	visited := map[string]bool{rootID: true}
	queue := []queued{{id: rootID, depth: 0}}
	var cascade []CascadeItem
	truncated := false

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges, err := a.deps.ListSuccessors(ctx, cur.id)
		if err != nil {
			return nil, false, fmt.Errorf("cascade preview: %w", err)
		}
		for _, edge := range edges {
			if visited[edge.SuccessorID] {
				continue
			}
			visited[edge.SuccessorID] = true

			succ, err := a.workItems.GetByID(ctx, edge.SuccessorID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return nil, false, fmt.Errorf("cascade preview: %w", err)
			}
			if succ.Terminal() {
				continue
			}
			if len(cascade) >= cascadeCap {
				return cascade, true, nil
			}
			cascade = append(cascade, CascadeItem{
				WorkItemID:   succ.ID,
				Name:         succ.Name,
				CurrentEnd:   succ.CurrentEnd,
				ProjectedEnd: succ.CurrentEnd.AddDate(0, 0, delayDays),
				Depth:        cur.depth + 1,
			})
			queue = append(queue, queued{id: succ.ID, depth: cur.depth + 1})
		}
	}
	return cascade, truncated, nil
}

// conflictPreview sums the owner's allocation across tasks overlapping the
// proposed window and reports an overload against max_utilization.
func (a *Analyzer) conflictPreview(ctx context.Context, wi *domain.WorkItem, newStart, newEnd time.Time) ([]ResourceConflict, error) {
	if wi.ResourceID == nil {
		return nil, nil
	}
	res, err := a.resources.GetByID(ctx, *wi.ResourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("conflict preview: %w", err)
	}

	overlapping, err := a.workItems.ListByResourceOverlapping(ctx, res.ID, newStart, newEnd)
	if err != nil {
		return nil, fmt.Errorf("conflict preview: %w", err)
	}
	active := lo.Filter(overlapping, func(item *domain.WorkItem, _ int) bool {
		return !item.Terminal()
	})
	total := lo.SumBy(active, func(item *domain.WorkItem) float64 {
		return item.AllocationPercent
	})
	if total <= res.MaxUtilization {
		return nil, nil
	}
	return []ResourceConflict{{
		ResourceID:      res.ID,
		ResourceName:    res.Name,
		TotalAllocation: total,
		MaxUtilization:  res.MaxUtilization,
		OverlapCount:    len(active),
	}}, nil
}

// scoreRisk implements the additive 0-9 scale.
func scoreRisk(delayDays int, critical bool, cascadeCount int, hasConflict bool) int {
	score := 0
	switch {
	case delayDays >= 7:
		score += 3
	case delayDays >= 3:
		score += 2
	case delayDays >= 1:
		score++
	}
	if critical {
		score += 3
	}
	switch {
	case cascadeCount >= 5:
		score += 2
	case cascadeCount >= 2:
		score++
	}
	if hasConflict {
		score++
	}
	return score
}

func bucketRisk(score int) domain.RiskLevel {
	switch {
	case score >= 6:
		return domain.RiskCritical
	case score >= 4:
		return domain.RiskHigh
	case score >= 2:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
