package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAlertTarget(t *testing.T, db *sql.DB) *domain.WorkItem {
	t.Helper()
	ctx := context.Background()
	_, _, phase := seedHierarchy(t, db)
	wi := testutil.NewTestWorkItem(phase.ID, "Build API",
		testutil.MustDate("2026-09-01"), testutil.MustDate("2026-09-10"))
	require.NoError(t, NewSQLiteWorkItemRepo(db).Create(ctx, wi))
	return wi
}

func newTestAlert(workItemID string, deadline time.Time, level int) *domain.Alert {
	now := time.Now().UTC()
	timeout := now.Add(4 * time.Hour)
	return &domain.Alert{
		ID:                  uuid.New().String(),
		WorkItemID:          workItemID,
		DeadlineDate:        deadline,
		RecipientEmail:      "owner@example.com",
		Type:                domain.AlertStatusCheck,
		EscalationLevel:     level,
		Urgency:             domain.UrgencyNormal,
		Status:              domain.AlertPending,
		EscalationTimeoutAt: &timeout,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestAlertRepo_InFlightUnique(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	wi := seedAlertTarget(t, db)
	repo := NewSQLiteAlertRepo(db)

	deadline := testutil.MustDate("2026-09-10")
	first := newTestAlert(wi.ID, deadline, 0)
	require.NoError(t, repo.Create(ctx, first))

	second := newTestAlert(wi.ID, deadline, 0)
	err := repo.Create(ctx, second)
	require.ErrorIs(t, err, ErrDuplicate)

	// The loser can look up the winner deterministically.
	winner, err := repo.GetInFlight(ctx, wi.ID, deadline, domain.AlertStatusCheck, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, winner.ID)
}

func TestAlertRepo_TerminalStatusFreesSlot(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	wi := seedAlertTarget(t, db)
	repo := NewSQLiteAlertRepo(db)

	deadline := testutil.MustDate("2026-09-10")
	first := newTestAlert(wi.ID, deadline, 0)
	require.NoError(t, repo.Create(ctx, first))

	first.Status = domain.AlertExpired
	require.NoError(t, repo.Update(ctx, first))

	// Once the first alert is terminal a new one may occupy the slot.
	second := newTestAlert(wi.ID, deadline, 0)
	require.NoError(t, repo.Create(ctx, second))
}

func TestAlertRepo_DifferentLevelsCoexist(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	wi := seedAlertTarget(t, db)
	repo := NewSQLiteAlertRepo(db)

	deadline := testutil.MustDate("2026-09-10")
	require.NoError(t, repo.Create(ctx, newTestAlert(wi.ID, deadline, 0)))
	require.NoError(t, repo.Create(ctx, newTestAlert(wi.ID, deadline, 1)))

	inflight, err := repo.ListInFlightForWorkItem(ctx, wi.ID, deadline)
	require.NoError(t, err)
	assert.Len(t, inflight, 2)
}

func TestAlertRepo_ListTimedOut(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	wi := seedAlertTarget(t, db)
	repo := NewSQLiteAlertRepo(db)

	now := time.Now().UTC()
	deadline := testutil.MustDate("2026-09-10")

	timedOut := newTestAlert(wi.ID, deadline, 0)
	timedOut.Status = domain.AlertSent
	sentAt := now.Add(-5 * time.Hour)
	expired := now.Add(-1 * time.Hour)
	timedOut.SentAt = &sentAt
	timedOut.EscalationTimeoutAt = &expired
	require.NoError(t, repo.Create(ctx, timedOut))

	fresh := newTestAlert(wi.ID, deadline, 1)
	fresh.Status = domain.AlertSent
	freshSent := now.Add(-time.Hour)
	freshTimeout := now.Add(3 * time.Hour)
	fresh.SentAt = &freshSent
	fresh.EscalationTimeoutAt = &freshTimeout
	require.NoError(t, repo.Create(ctx, fresh))

	// Pending alerts have not been sent yet, so no timeout applies.
	pending := newTestAlert(wi.ID, deadline, 2)
	pending.EscalationTimeoutAt = &expired
	require.NoError(t, repo.Create(ctx, pending))

	got, err := repo.ListTimedOut(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, timedOut.ID, got[0].ID)
}

func TestAlertRepo_UpdateLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	wi := seedAlertTarget(t, db)
	repo := NewSQLiteAlertRepo(db)

	a := newTestAlert(wi.ID, testutil.MustDate("2026-09-10"), 0)
	require.NoError(t, repo.Create(ctx, a))

	now := time.Now().UTC().Truncate(time.Second)
	a.Status = domain.AlertResponded
	a.RespondedAt = &now
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResponded, got.Status)
	require.NotNil(t, got.RespondedAt)
	assert.False(t, got.InFlight())
}
