package repository

import (
	"context"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
)

type ProgramRepo interface {
	Create(ctx context.Context, p *domain.Program) error
	GetByID(ctx context.Context, id string) (*domain.Program, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Program, error)
	List(ctx context.Context) ([]*domain.Program, error)
	Update(ctx context.Context, p *domain.Program) error
}

type ProjectRepo interface {
	Create(ctx context.Context, p *domain.Project) error
	GetByExternalID(ctx context.Context, programID, externalID string) (*domain.Project, error)
	ListByProgram(ctx context.Context, programID string) ([]*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) error
}

type PhaseRepo interface {
	Create(ctx context.Context, p *domain.Phase) error
	GetByExternalID(ctx context.Context, projectID, externalID string) (*domain.Phase, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.Phase, error)
	ListByProgram(ctx context.Context, programID string) ([]*domain.Phase, error)
	Update(ctx context.Context, p *domain.Phase) error
}

type WorkItemRepo interface {
	Create(ctx context.Context, w *domain.WorkItem) error
	GetByID(ctx context.Context, id string) (*domain.WorkItem, error)
	GetByExternalID(ctx context.Context, phaseID, externalID string) (*domain.WorkItem, error)
	ListByPhase(ctx context.Context, phaseID string) ([]*domain.WorkItem, error)
	ListByProgram(ctx context.Context, programID string) ([]*domain.WorkItem, error)
	// ListDueBetween returns non-terminal items with no recorded actual
	// end whose current_end falls in (after, until].
	ListDueBetween(ctx context.Context, after, until time.Time) ([]*domain.WorkItem, error)
	ListByResourceOverlapping(ctx context.Context, resourceID string, start, end time.Time) ([]*domain.WorkItem, error)
	Update(ctx context.Context, w *domain.WorkItem) error
	ProgramIDFor(ctx context.Context, workItemID string) (string, error)
}

type DependencyRepo interface {
	Upsert(ctx context.Context, d *domain.Dependency) error
	Delete(ctx context.Context, successorID, predecessorID string) error
	ListByProgram(ctx context.Context, programID string) ([]domain.Dependency, error)
	ListSuccessors(ctx context.Context, workItemID string) ([]domain.Dependency, error)
	ListPredecessors(ctx context.Context, workItemID string) ([]domain.Dependency, error)
}

type ResourceRepo interface {
	// Upsert refreshes import-owned columns only; availability and leave
	// belong to SetAvailability.
	Upsert(ctx context.Context, r *domain.Resource) error
	SetAvailability(ctx context.Context, id string, status domain.AvailabilityStatus, leaveStart, leaveEnd *time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Resource, error)
	List(ctx context.Context) ([]*domain.Resource, error)
}

type AlertRepo interface {
	// Create returns ErrDuplicate when an in-flight alert already exists
	// for the same (work_item, deadline, type, level).
	Create(ctx context.Context, a *domain.Alert) error
	GetByID(ctx context.Context, id string) (*domain.Alert, error)
	GetInFlight(ctx context.Context, workItemID string, deadline time.Time, alertType domain.AlertType, level int) (*domain.Alert, error)
	ListInFlightForWorkItem(ctx context.Context, workItemID string, deadline time.Time) ([]*domain.Alert, error)
	ListTimedOut(ctx context.Context, now time.Time) ([]*domain.Alert, error)
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Alert, error)
	ListUnresponded(ctx context.Context, sentBefore time.Time) ([]*domain.Alert, error)
	ListByWorkItem(ctx context.Context, workItemID string) ([]*domain.Alert, error)
	Update(ctx context.Context, a *domain.Alert) error
}

type ResponseTokenRepo interface {
	Create(ctx context.Context, t *domain.ResponseToken) error
	GetByHash(ctx context.Context, hash string) (*domain.ResponseToken, error)
	GetByID(ctx context.Context, id string) (*domain.ResponseToken, error)
	Update(ctx context.Context, t *domain.ResponseToken) error
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type ResponseRepo interface {
	Create(ctx context.Context, r *domain.WorkItemResponse) error
	GetByID(ctx context.Context, id string) (*domain.WorkItemResponse, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.WorkItemResponse, error)
	GetLatestForWorkItem(ctx context.Context, workItemID string) (*domain.WorkItemResponse, error)
	MaxVersionForWorkItem(ctx context.Context, workItemID string) (int, error)
	MarkSuperseded(ctx context.Context, responseID string, newVersion int) error
	Update(ctx context.Context, r *domain.WorkItemResponse) error
}

type AuditRepo interface {
	Create(ctx context.Context, rec *domain.AuditRecord) error
	CreateBulk(ctx context.Context, recs []*domain.AuditRecord) error
	ListByBatch(ctx context.Context, batchID string) ([]*domain.AuditRecord, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*domain.AuditRecord, error)
}

type ImportBatchRepo interface {
	Create(ctx context.Context, b *domain.ImportBatch) error
	GetByID(ctx context.Context, id string) (*domain.ImportBatch, error)
	List(ctx context.Context, limit int) ([]*domain.ImportBatch, error)
	Update(ctx context.Context, b *domain.ImportBatch) error
}

type BaselineRepo interface {
	Create(ctx context.Context, v *domain.BaselineVersion) error
	MaxVersion(ctx context.Context, programID string) (int, error)
	ListByProgram(ctx context.Context, programID string) ([]*domain.BaselineVersion, error)
}

type HolidayRepo interface {
	Create(ctx context.Context, h *domain.Holiday) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Holiday, error)
	// DatesFor returns universal holidays plus those for the given country.
	DatesFor(ctx context.Context, country string) ([]time.Time, error)
}

type AlertQueueRepo interface {
	// Enqueue returns ErrDuplicate when the idempotency key is taken.
	Enqueue(ctx context.Context, q *domain.QueuedSend) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedSend, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type SettingsRepo interface {
	Get(ctx context.Context) (*domain.OrgSettings, error)
	Update(ctx context.Context, s *domain.OrgSettings) error
	PolicyForProgram(ctx context.Context, programID string) (domain.EscalationPolicy, error)
	UpsertPolicy(ctx context.Context, programID string, p domain.EscalationPolicy) error
}
