package importer

import (
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
)

// orphanWarningRatio is the share of unassigned rows above which the plan
// as a whole gets flagged.
const orphanWarningRatio = 0.2

// Report is the outcome of the validation pass. Errors block the import;
// warnings annotate the batch summary but never stop it. The two sets are
// disjoint by construction.
type Report struct {
	Errors   []error
	Warnings []string
}

// Valid reports whether the plan may proceed to execution.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

// ValidatePlan checks a parsed plan for structural problems. Pure: no
// store access, no writes.
func ValidatePlan(plan *PlanImport) *Report {
	rep := &Report{}

	if plan.Program.ExternalID == "" {
		rep.Errors = append(rep.Errors, fmt.Errorf("program.external_id is required"))
	}
	if plan.Program.Name == "" {
		rep.Errors = append(rep.Errors, fmt.Errorf("program.name is required"))
	}

	resourceRefs := make(map[string]bool)
	validateResources(plan.Resources, resourceRefs, rep)

	itemRefs := make(map[string]bool)
	validateWorkItems(plan.WorkItems, resourceRefs, itemRefs, rep)

	validateDependencies(plan.Dependencies, itemRefs, rep)

	warnOverAllocation(plan, rep)
	warnOrphans(plan.WorkItems, rep)

	return rep
}

func validateResources(rows []ResourceRow, refs map[string]bool, rep *Report) {
	for i, r := range rows {
		prefix := fmt.Sprintf("resources[%d]", i)

		if r.ExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.external_id is required", prefix))
		} else if refs[r.ExternalID] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.external_id: duplicate %q", prefix, r.ExternalID))
		} else {
			refs[r.ExternalID] = true
		}

		if r.Name == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.name is required", prefix))
		}
		if r.Email == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.email is required", prefix))
		} else if _, err := mail.ParseAddress(r.Email); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.email: malformed address %q", prefix, r.Email))
		}
		if r.NotificationEmail != "" {
			if _, err := mail.ParseAddress(r.NotificationEmail); err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("%s.notification_email: malformed address %q", prefix, r.NotificationEmail))
			}
		}
		if r.MaxUtilization < 0 {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.max_utilization must not be negative", prefix))
		}
	}
}

func validateWorkItems(rows []WorkItemRow, resourceRefs, itemRefs map[string]bool, rep *Report) {
	for i, w := range rows {
		prefix := fmt.Sprintf("work_items[%d]", i)

		if w.ExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.external_id is required", prefix))
		} else if itemRefs[w.ExternalID] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.external_id: duplicate %q", prefix, w.ExternalID))
		} else {
			itemRefs[w.ExternalID] = true
		}

		if w.Name == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.name is required", prefix))
		}
		if w.ProjectExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.project_external_id is required", prefix))
		}
		if w.PhaseExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.phase_external_id is required", prefix))
		}

		start, startOK := parseRowDate(prefix+".planned_start", w.PlannedStart, rep)
		end, endOK := parseRowDate(prefix+".planned_end", w.PlannedEnd, rep)
		if startOK && endOK && end.Before(start) {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s: planned_end %q before planned_start %q", prefix, w.PlannedEnd, w.PlannedStart))
		}

		if w.AllocationPercent < 0 || w.AllocationPercent > 100 {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.allocation_percent: %v outside [0,100]", prefix, w.AllocationPercent))
		}

		if w.ResourceExternalID != "" && !resourceRefs[w.ResourceExternalID] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.resource_external_id: %q not found in resources", prefix, w.ResourceExternalID))
		}
	}
}

func validateDependencies(deps []DependencyRow, itemRefs map[string]bool, rep *Report) {
	for i, d := range deps {
		prefix := fmt.Sprintf("dependencies[%d]", i)

		if d.PredecessorExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.predecessor_external_id is required", prefix))
		} else if !itemRefs[d.PredecessorExternalID] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.predecessor_external_id: %q not found in work_items", prefix, d.PredecessorExternalID))
		}

		if d.SuccessorExternalID == "" {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.successor_external_id is required", prefix))
		} else if !itemRefs[d.SuccessorExternalID] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.successor_external_id: %q not found in work_items", prefix, d.SuccessorExternalID))
		}

		if d.PredecessorExternalID != "" && d.PredecessorExternalID == d.SuccessorExternalID {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s: self-dependency on %q", prefix, d.PredecessorExternalID))
		}

		if d.Type != "" && !domain.ValidDependencyTypes[d.Type] {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s.type: invalid value %q", prefix, d.Type))
		}
	}

	if len(deps) > 1 {
		detectCycles(deps, rep)
	}
}

// detectCycles runs DFS with the standard three-color marking over the
// dependency graph of this batch.
func detectCycles(deps []DependencyRow, rep *Report) {
	graph := make(map[string][]string)
	nodes := make(map[string]bool)
	for _, d := range deps {
		if d.PredecessorExternalID != "" && d.SuccessorExternalID != "" && d.PredecessorExternalID != d.SuccessorExternalID {
			graph[d.PredecessorExternalID] = append(graph[d.PredecessorExternalID], d.SuccessorExternalID)
			nodes[d.PredecessorExternalID] = true
			nodes[d.SuccessorExternalID] = true
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // in current path
		black = 2 // fully processed
	)
	color := make(map[string]int)

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		for _, neighbor := range graph[node] {
			if color[neighbor] == gray {
				rep.Errors = append(rep.Errors, fmt.Errorf("circular dependency detected involving %q and %q", node, neighbor))
				return true
			}
			if color[neighbor] == white {
				if visit(neighbor) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for node := range nodes {
		if color[node] == white {
			visit(node)
		}
	}
}

// warnOverAllocation flags resources booked above 100% on any single day,
// so sequential full-time tasks never trip it. Warning only: plans
// routinely overbook on paper. Rows with unparseable dates are skipped
// here; the date checks report those separately.
func warnOverAllocation(plan *PlanImport, rep *Report) {
	type event struct {
		at    time.Time
		delta float64
	}
	events := make(map[string][]event)
	for _, w := range plan.WorkItems {
		if w.ResourceExternalID == "" {
			continue
		}
		start, err := time.Parse("2006-01-02", w.PlannedStart)
		if err != nil {
			continue
		}
		end, err := time.Parse("2006-01-02", w.PlannedEnd)
		if err != nil {
			continue
		}
		alloc := w.AllocationPercent
		if alloc == 0 {
			alloc = 100
		}
		events[w.ResourceExternalID] = append(events[w.ResourceExternalID],
			event{at: start, delta: alloc},
			event{at: end.AddDate(0, 0, 1), delta: -alloc})
	}
	for _, r := range plan.Resources {
		evs := events[r.ExternalID]
		sort.Slice(evs, func(i, j int) bool {
			if evs[i].at.Equal(evs[j].at) {
				return evs[i].delta < evs[j].delta
			}
			return evs[i].at.Before(evs[j].at)
		})
		var running, peak float64
		for _, ev := range evs {
			running += ev.delta
			if running > peak {
				peak = running
			}
		}
		if peak > 100 {
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("resource %q allocated %.0f%% across concurrent plan rows", r.ExternalID, peak))
		}
	}
}

// warnOrphans flags the plan when too many rows have no assigned resource.
func warnOrphans(rows []WorkItemRow, rep *Report) {
	if len(rows) == 0 {
		return
	}
	orphans := 0
	for _, w := range rows {
		if w.ResourceExternalID == "" {
			orphans++
		}
	}
	if ratio := float64(orphans) / float64(len(rows)); ratio >= orphanWarningRatio {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("%d of %d work items have no assigned resource", orphans, len(rows)))
	}
}

func parseRowDate(field, value string, rep *Report) (time.Time, bool) {
	if value == "" {
		rep.Errors = append(rep.Errors, fmt.Errorf("%s is required", field))
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("%s: invalid date format %q (expected YYYY-MM-DD)", field, value))
		return time.Time{}, false
	}
	return d, true
}
