package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/google/uuid"
)

var externalIDCounter atomic.Int64

func nextExternalID(prefix string) string {
	return fmt.Sprintf("%s-%03d", prefix, externalIDCounter.Add(1))
}

// MustDate parses a "2006-01-02" date or panics. Test-only convenience.
func MustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// Program options
type ProgramOption func(*domain.Program)

func WithPMOwner(resourceID string) ProgramOption {
	return func(p *domain.Program) {
		p.PMOwnerID = &resourceID
	}
}

func WithSecondaryPM(resourceID string) ProgramOption {
	return func(p *domain.Program) {
		p.SecondaryPMID = &resourceID
	}
}

func NewTestProgram(name string, opts ...ProgramOption) *domain.Program {
	now := time.Now().UTC()
	p := &domain.Program{
		ID:         uuid.New().String(),
		ExternalID: nextExternalID("PRG"),
		Name:       name,
		Status:     domain.ProgramActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func NewTestProject(programID, name string) *domain.Project {
	now := time.Now().UTC()
	return &domain.Project{
		ID:         uuid.New().String(),
		ExternalID: nextExternalID("PRJ"),
		ProgramID:  programID,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewTestPhase(projectID, name string, sequence int) *domain.Phase {
	now := time.Now().UTC()
	return &domain.Phase{
		ID:         uuid.New().String(),
		ExternalID: nextExternalID("PH"),
		ProjectID:  projectID,
		Name:       name,
		Sequence:   sequence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WorkItem options
type WorkItemOption func(*domain.WorkItem)

func WithStatus(s domain.WorkItemStatus) WorkItemOption {
	return func(w *domain.WorkItem) {
		w.Status = s
	}
}

func WithResource(resourceID string) WorkItemOption {
	return func(w *domain.WorkItem) {
		w.ResourceID = &resourceID
	}
}

func WithCompletion(pct float64) WorkItemOption {
	return func(w *domain.WorkItem) {
		w.CompletionPercent = pct
	}
}

func WithCurrentWindow(start, end time.Time) WorkItemOption {
	return func(w *domain.WorkItem) {
		w.CurrentStart = start
		w.CurrentEnd = end
	}
}

func WithAllocation(pct float64) WorkItemOption {
	return func(w *domain.WorkItem) {
		w.AllocationPercent = pct
	}
}

// NewTestWorkItem builds a not-started item whose current window mirrors
// the planned one, matching what an initial import produces.
func NewTestWorkItem(phaseID, name string, start, end time.Time, opts ...WorkItemOption) *domain.WorkItem {
	now := time.Now().UTC()
	w := &domain.WorkItem{
		ID:                uuid.New().String(),
		ExternalID:        nextExternalID("WI"),
		PhaseID:           phaseID,
		Name:              name,
		PlannedStart:      start,
		PlannedEnd:        end,
		AllocationPercent: 100,
		CurrentStart:      start,
		CurrentEnd:        end,
		Status:            domain.WorkItemNotStarted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Resource options
type ResourceOption func(*domain.Resource)

func WithBackup(resourceID string) ResourceOption {
	return func(r *domain.Resource) {
		r.BackupResourceID = &resourceID
	}
}

func WithManager(resourceID string) ResourceOption {
	return func(r *domain.Resource) {
		r.ManagerID = &resourceID
	}
}

func WithAvailability(s domain.AvailabilityStatus) ResourceOption {
	return func(r *domain.Resource) {
		r.AvailabilityStatus = s
	}
}

func WithTimezone(tz string) ResourceOption {
	return func(r *domain.Resource) {
		r.Timezone = tz
	}
}

func WithCountry(cc string) ResourceOption {
	return func(r *domain.Resource) {
		r.Country = cc
	}
}

func NewTestResource(name, email string, opts ...ResourceOption) *domain.Resource {
	now := time.Now().UTC()
	r := &domain.Resource{
		ID:                 uuid.New().String(),
		ExternalID:         nextExternalID("RES"),
		Name:               name,
		PrimaryEmail:       email,
		AvailabilityStatus: domain.AvailabilityActive,
		Timezone:           "UTC",
		MaxUtilization:     100,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
