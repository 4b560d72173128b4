// Package recalc implements the critical-path recalculation: cycle check,
// forward and backward passes over the four dependency edge kinds, float
// and critical-path flagging, and monotonic forward propagation of the
// current date window.
package recalc

import (
	"fmt"
	"math"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
)

// Item is the computation view of one work item. Terminal items keep
// their dates frozen but still constrain successors.
type Item struct {
	ID           string
	ExternalID   string
	Name         string
	DurationDays int
	CurrentStart time.Time
	CurrentEnd   time.Time
	PlannedStart time.Time
	PlannedEnd   time.Time
	ActualStart  *time.Time
	Terminal     bool
}

// Input is one program's graph.
type Input struct {
	Items []Item
	Edges []domain.Dependency
}

// ItemChange is one moved window.
type ItemChange struct {
	ID       string
	OldStart time.Time
	OldEnd   time.Time
	NewStart time.Time
	NewEnd   time.Time
}

// ItemSchedule carries the per-item pass outputs.
type ItemSchedule struct {
	ID        string
	Start     time.Time
	End       time.Time
	SlackDays int
	Critical  bool
}

// Result is the full recalculation outcome.
type Result struct {
	Schedules    map[string]*ItemSchedule
	Changes      []ItemChange
	CriticalPath []string
	MinSlackDays int
	MaxSlackDays int
	ProjectEnd   time.Time
	Warnings     []string
	Elapsed      time.Duration
}

// CycleError reports the first dependency cycle found.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %v", e.Path)
}

const maxInt = math.MaxInt32

// Compute runs the full recalculation. Pure: the caller persists changes.
func Compute(in Input) (*Result, error) {
	started := time.Now()

	items := make(map[string]*Item, len(in.Items))
	for i := range in.Items {
		items[in.Items[i].ID] = &in.Items[i]
	}

	// Drop edges referencing unknown items rather than failing the run.
	var edges []domain.Dependency
	var warnings []string
	for _, e := range in.Edges {
		if _, ok := items[e.PredecessorID]; !ok {
			warnings = append(warnings, fmt.Sprintf("dependency references unknown predecessor %s", e.PredecessorID))
			continue
		}
		if _, ok := items[e.SuccessorID]; !ok {
			warnings = append(warnings, fmt.Sprintf("dependency references unknown successor %s", e.SuccessorID))
			continue
		}
		edges = append(edges, e)
	}

	if cyc := findCycle(items, edges); cyc != nil {
		return nil, cyc
	}

	// Baseline-vs-current conflict resolution before the passes. The
	// original windows are kept so adopting a planned date still counts
	// as a change.
	origStart := make(map[string]time.Time, len(items))
	origEnd := make(map[string]time.Time, len(items))
	for id, it := range items {
		origStart[id] = it.CurrentStart
		origEnd[id] = it.CurrentEnd
	}
	for _, it := range items {
		if it.Terminal {
			continue
		}
		if it.ActualStart == nil {
			if it.PlannedStart.After(it.CurrentStart) {
				it.CurrentStart = it.PlannedStart
			}
			if it.PlannedEnd.After(it.CurrentEnd) {
				it.CurrentEnd = it.PlannedEnd
			}
		} else if it.PlannedEnd.After(it.CurrentEnd) {
			// Started work keeps its start; only the end may extend.
			it.CurrentEnd = it.PlannedEnd
		}
		if it.CurrentEnd.Before(it.CurrentStart) {
			it.CurrentEnd = it.CurrentStart
		}
		it.DurationDays = dayOf(it.CurrentEnd) - dayOf(it.CurrentStart) + 1
	}

	es, ef := forwardPass(items, edges, &warnings)
	lf := backwardPass(items, edges, ef)

	result := &Result{
		Schedules:    make(map[string]*ItemSchedule, len(items)),
		MinSlackDays: maxInt,
		MaxSlackDays: -maxInt,
	}
	result.Warnings = warnings

	projectEndDay := -maxInt
	for id, it := range items {
		sched := &ItemSchedule{ID: id}

		startDay := es[id]
		endDay := ef[id]
		if it.Terminal {
			startDay = dayOf(it.CurrentStart)
			endDay = dayOf(it.CurrentEnd)
		}
		sched.Start = dateOf(startDay)
		sched.End = dateOf(endDay)

		if !it.Terminal {
			slack := lf[id] - ef[id]
			sched.SlackDays = slack
			sched.Critical = slack <= 0
			if sched.Critical {
				result.CriticalPath = append(result.CriticalPath, id)
			}
			if slack < result.MinSlackDays {
				result.MinSlackDays = slack
			}
			if slack > result.MaxSlackDays {
				result.MaxSlackDays = slack
			}
			if endDay > projectEndDay {
				projectEndDay = endDay
			}

			// Monotonic forward propagation only.
			if sched.Start.After(origStart[id]) || sched.End.After(origEnd[id]) {
				result.Changes = append(result.Changes, ItemChange{
					ID:       id,
					OldStart: origStart[id],
					OldEnd:   origEnd[id],
					NewStart: sched.Start,
					NewEnd:   sched.End,
				})
			}
		}
		result.Schedules[id] = sched
	}
	if projectEndDay > -maxInt {
		result.ProjectEnd = dateOf(projectEndDay)
	}
	if result.MinSlackDays == maxInt {
		result.MinSlackDays, result.MaxSlackDays = 0, 0
	}

	result.Elapsed = time.Since(started)
	return result, nil
}

// forwardPass relaxes early starts to a fixpoint. Start days only ever
// move forward, so termination is guaranteed on a DAG.
func forwardPass(items map[string]*Item, edges []domain.Dependency, warnings *[]string) (map[string]int, map[string]int) {
	es := make(map[string]int, len(items))
	ef := make(map[string]int, len(items))
	for id, it := range items {
		es[id] = dayOf(it.CurrentStart)
		ef[id] = es[id] + it.DurationDays - 1
	}

	bySuccessor := make(map[string][]domain.Dependency)
	for _, e := range edges {
		bySuccessor[e.SuccessorID] = append(bySuccessor[e.SuccessorID], e)
	}

	queue := make([]string, 0, len(items))
	for id := range items {
		queue = append(queue, id)
	}
	queued := make(map[string]bool, len(items))

	outgoing := make(map[string][]domain.Dependency)
	for _, e := range edges {
		outgoing[e.PredecessorID] = append(outgoing[e.PredecessorID], e)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		it := items[id]
		minStart := es[id]
		for _, e := range bySuccessor[id] {
			predES, predEF := es[e.PredecessorID], ef[e.PredecessorID]
			var required int
			switch e.Type {
			case domain.DepStartToStart:
				required = predES + e.LagDays
			case domain.DepFinishToFinish:
				required = predEF + e.LagDays - (it.DurationDays - 1)
			case domain.DepStartToFinish:
				required = predES + e.LagDays - (it.DurationDays - 1)
			default: // FS
				required = predEF + e.LagDays + 1
			}
			if required > minStart {
				minStart = required
			}
		}
		if minStart <= es[id] {
			continue
		}

		if it.Terminal {
			continue
		}
		if it.ActualStart != nil {
			// Started work cannot be pushed; extend the finish instead so
			// downstream items still see the pressure.
			newEF := minStart + it.DurationDays - 1
			if newEF > ef[id] {
				ef[id] = newEF
				*warnings = append(*warnings, fmt.Sprintf(
					"work item %s already started; end extended instead of moving start", it.ExternalID))
			}
		} else {
			es[id] = minStart
			ef[id] = minStart + it.DurationDays - 1
		}

		for _, e := range outgoing[id] {
			if !queued[e.SuccessorID] {
				queued[e.SuccessorID] = true
				queue = append(queue, e.SuccessorID)
			}
		}
	}
	return es, ef
}

// backwardPass computes late finishes. Tail items anchor at their own
// early finish.
func backwardPass(items map[string]*Item, edges []domain.Dependency, ef map[string]int) map[string]int {
	hasSuccessor := make(map[string]bool)
	byPredecessor := make(map[string][]domain.Dependency)
	incoming := make(map[string][]domain.Dependency)
	for _, e := range edges {
		hasSuccessor[e.PredecessorID] = true
		byPredecessor[e.PredecessorID] = append(byPredecessor[e.PredecessorID], e)
		incoming[e.SuccessorID] = append(incoming[e.SuccessorID], e)
	}

	lf := make(map[string]int, len(items))
	for id := range items {
		if hasSuccessor[id] {
			lf[id] = maxInt
		} else {
			lf[id] = ef[id]
		}
	}

	queue := make([]string, 0, len(items))
	for id := range items {
		queue = append(queue, id)
	}
	queued := make(map[string]bool, len(items))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		it := items[id]
		maxFinish := lf[id]
		for _, e := range byPredecessor[id] {
			succ := items[e.SuccessorID]
			succLF := lf[e.SuccessorID]
			if succLF == maxInt {
				continue
			}
			succLS := succLF - succ.DurationDays + 1
			var allowed int
			switch e.Type {
			case domain.DepStartToStart:
				allowed = succLS - e.LagDays + it.DurationDays - 1
			case domain.DepFinishToFinish:
				allowed = succLF - e.LagDays
			case domain.DepStartToFinish:
				allowed = succLF - e.LagDays + it.DurationDays - 1
			default: // FS
				allowed = succLS - e.LagDays - 1
			}
			if allowed < maxFinish {
				maxFinish = allowed
			}
		}
		if maxFinish >= lf[id] {
			continue
		}
		lf[id] = maxFinish

		for _, e := range incoming[id] {
			if !queued[e.PredecessorID] {
				queued[e.PredecessorID] = true
				queue = append(queue, e.PredecessorID)
			}
		}
	}

	// Items whose successors never constrained them fall back to their
	// own early finish.
	for id, v := range lf {
		if v == maxInt {
			lf[id] = ef[id]
		}
	}
	return lf
}

// findCycle runs three-color DFS and reconstructs the first cycle path.
func findCycle(items map[string]*Item, edges []domain.Dependency) *CycleError {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.PredecessorID] = append(adj[e.PredecessorID], e.SuccessorID)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(items))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			if color[next] == gray {
				// Slice the stack from the first occurrence of next.
				for i, s := range stack {
					if s == next {
						cycle = append([]string{}, stack[i:]...)
						cycle = append(cycle, next)
						break
					}
				}
				return true
			}
			if color[next] == white && visit(next) {
				return true
			}
		}
		color[id] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for id := range items {
		if color[id] == white && visit(id) {
			names := make([]string, 0, len(cycle))
			for _, cid := range cycle {
				if it, ok := items[cid]; ok && it.ExternalID != "" {
					names = append(names, it.ExternalID)
				} else {
					names = append(names, cid)
				}
			}
			return &CycleError{Path: names}
		}
	}
	return nil
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

func dayOf(t time.Time) int {
	return int(t.UTC().Sub(epoch).Hours() / 24)
}

func dateOf(day int) time.Time {
	return epoch.AddDate(0, 0, day)
}
