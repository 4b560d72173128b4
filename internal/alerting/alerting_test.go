package alerting

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/planwatch/internal/calendar"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/metrics"
	"github.com/alexanderramin/planwatch/internal/notify"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/testutil"
	"github.com/alexanderramin/planwatch/internal/token"
)

// env seeds a program with a four-deep escalation chain and a controllable
// clock. 2026-09-14 is a Monday; the default deadline 2026-09-15 a Tuesday.
type env struct {
	t   *testing.T
	ctx context.Context
	db  *sql.DB
	now time.Time

	cfg  Config
	orch *Orchestrator

	program *domain.Program
	phase   *domain.Phase
	owner   *domain.Resource
	backup  *domain.Resource
	manager *domain.Resource
	pm      *domain.Resource
}

func newEnv(t *testing.T) *env {
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	e := &env{t: t, ctx: ctx, db: database, now: time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }

	resources := repository.NewSQLiteResourceRepo(database)
	e.pm = testutil.NewTestResource("Priya Patel", "priya@example.com")
	e.manager = testutil.NewTestResource("Mark Olsen", "mark@example.com")
	e.backup = testutil.NewTestResource("Bea Flores", "bea@example.com")
	for _, r := range []*domain.Resource{e.pm, e.manager, e.backup} {
		require.NoError(t, resources.Upsert(ctx, r))
	}
	e.owner = testutil.NewTestResource("Omar Haddad", "omar@example.com",
		testutil.WithBackup(e.backup.ID), testutil.WithManager(e.manager.ID))
	require.NoError(t, resources.Upsert(ctx, e.owner))

	e.program = testutil.NewTestProgram("Apollo", testutil.WithPMOwner(e.pm.ID))
	require.NoError(t, repository.NewSQLiteProgramRepo(database).Create(ctx, e.program))
	project := testutil.NewTestProject(e.program.ID, "Platform")
	require.NoError(t, repository.NewSQLiteProjectRepo(database).Create(ctx, project))
	e.phase = testutil.NewTestPhase(project.ID, "Build", 1)
	require.NoError(t, repository.NewSQLitePhaseRepo(database).Create(ctx, e.phase))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.cfg = Config{
		Conn:     database,
		UoW:      testutil.NewTestUoW(database),
		Calendar: calendar.New(repository.NewSQLiteHolidayRepo(database)),
		Resolver: escalation.NewResolver(resources, repository.NewSQLiteSettingsRepo(database), "ops@example.com"),
		Tokens:   token.NewService([]byte("test-secret"), repository.NewSQLiteResponseTokenRepo(database)).WithClock(clock),
		Analyzer: impact.NewAnalyzer(repository.NewSQLiteWorkItemRepo(database),
			repository.NewSQLiteDependencyRepo(database), resources),
		Notifier:        notify.NewLogNotifier(logger),
		Metrics:         metrics.NewRegistry(),
		Logger:          logger,
		FrontendBaseURL: "https://plan.example.com",
	}
	e.orch = NewOrchestrator(e.cfg).WithClock(clock)
	return e
}

func (e *env) addWorkItem(name, start, end string, opts ...testutil.WorkItemOption) *domain.WorkItem {
	e.t.Helper()
	opts = append([]testutil.WorkItemOption{testutil.WithResource(e.owner.ID)}, opts...)
	wi := testutil.NewTestWorkItem(e.phase.ID, name, testutil.MustDate(start), testutil.MustDate(end), opts...)
	require.NoError(e.t, repository.NewSQLiteWorkItemRepo(e.db).Create(e.ctx, wi))
	return wi
}

func (e *env) pendingFor(wi *domain.WorkItem) PendingStatusCheck {
	e.t.Helper()
	policy, err := repository.NewSQLiteSettingsRepo(e.db).PolicyForProgram(e.ctx, e.program.ID)
	require.NoError(e.t, err)
	return PendingStatusCheck{
		WorkItem: wi,
		Owner:    e.owner,
		Program:  e.program,
		Policy:   policy,
		Deadline: wi.CurrentEnd,
	}
}

func (e *env) setPolicy(p domain.EscalationPolicy) {
	e.t.Helper()
	require.NoError(e.t, repository.NewSQLiteSettingsRepo(e.db).UpsertPolicy(e.ctx, e.program.ID, p))
}

// tokenFromLink pulls the plaintext token out of a magic link URL.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func TestScan_FindsItemsWithAlertDateToday(t *testing.T) {
	e := newEnv(t)
	target := testutil.MustDate("2026-09-14")

	due := e.addWorkItem("Due tomorrow", "2026-09-01", "2026-09-15")
	e.addWorkItem("Due later", "2026-09-01", "2026-09-18") // alert date 09-17
	e.addWorkItem("Done already", "2026-09-01", "2026-09-15", testutil.WithStatus(domain.WorkItemCompleted))

	orphan := testutil.NewTestWorkItem(e.phase.ID, "No owner",
		testutil.MustDate("2026-09-01"), testutil.MustDate("2026-09-15"))
	require.NoError(t, repository.NewSQLiteWorkItemRepo(e.db).Create(e.ctx, orphan))

	pending, err := e.orch.ScanForPendingStatusChecks(e.ctx, target)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due.ID, pending[0].WorkItem.ID)
	assert.Equal(t, e.owner.ID, pending[0].Owner.ID)
	assert.Equal(t, testutil.MustDate("2026-09-15"), pending[0].Deadline)
}

func TestScan_WeekendDeadlineAlertsOnFriday(t *testing.T) {
	e := newEnv(t)
	// Deadline Monday 2026-09-21: one business day before is Friday 09-18.
	e.addWorkItem("Monday deadline", "2026-09-01", "2026-09-21")

	pending, err := e.orch.ScanForPendingStatusChecks(e.ctx, testutil.MustDate("2026-09-18"))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	none, err := e.orch.ScanForPendingStatusChecks(e.ctx, testutil.MustDate("2026-09-20"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScan_SkipsWhenLatestResponseOnTrack(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Steady", "2026-09-01", "2026-09-15")

	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)
	_, err = e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:        created.Alert.ID,
		ResponderID:    e.owner.ID,
		ReportedStatus: domain.ReportedOnTrack,
	})
	require.NoError(t, err)

	// A second alert is in flight and the latest word is on-track.
	_, err = e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	pending, err := e.orch.ScanForPendingStatusChecks(e.ctx, testutil.MustDate("2026-09-14"))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateStatusCheckAlert(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")

	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)
	require.False(t, created.Duplicate)

	alert := created.Alert
	assert.Equal(t, domain.AlertStatusCheck, alert.Type)
	assert.Equal(t, 0, alert.EscalationLevel)
	assert.Equal(t, domain.AlertPending, alert.Status)
	assert.Equal(t, "omar@example.com", alert.RecipientEmail)
	require.NotNil(t, alert.IntendedRecipientID)
	assert.Equal(t, e.owner.ID, *alert.IntendedRecipientID)

	// 09:00 owner-local (UTC) on the business day before the deadline.
	require.NotNil(t, alert.ScheduledSendAt)
	assert.Equal(t, time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC), *alert.ScheduledSendAt)
	require.NotNil(t, alert.EscalationTimeoutAt)
	assert.Equal(t, alert.ScheduledSendAt.Add(4*time.Hour), *alert.EscalationTimeoutAt)
	require.NotNil(t, alert.ExpiresAt)
	assert.Equal(t, token.ExpiryFor(wi.CurrentEnd), *alert.ExpiresAt)

	// Magic link round-trips through the token service.
	validated, err := e.cfg.Tokens.Validate(e.ctx, tokenFromLink(t, created.MagicLink))
	require.NoError(t, err)
	assert.Equal(t, wi.ID, validated.Claims.WorkItemID)
	assert.Equal(t, alert.ID, validated.Claims.AlertID)

	queued, err := repository.NewSQLiteAlertQueueRepo(e.db).ListDue(e.ctx, e.now, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "send-"+alert.ID, queued[0].IdempotencyKey)
}

func TestCreateStatusCheckAlert_DuplicateReturnsExisting(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")

	first, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)
	second, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)
}

func TestCreateStatusCheckAlert_SkipsUnavailableOwner(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, repository.NewSQLiteResourceRepo(e.db).SetAvailability(
		e.ctx, e.owner.ID, domain.AvailabilityOnLeave, nil, nil))
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")

	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)
	assert.Equal(t, escalation.LevelBackup, created.Alert.EscalationLevel)
	assert.Equal(t, "bea@example.com", created.Alert.RecipientEmail)
}

func TestCreateStatusCheckAlert_NoRecipientEscalatesToOps(t *testing.T) {
	e := newEnv(t)
	resources := repository.NewSQLiteResourceRepo(e.db)
	for _, r := range []*domain.Resource{e.owner, e.backup, e.manager, e.pm} {
		require.NoError(t, resources.SetAvailability(e.ctx, r.ID, domain.AvailabilityUnavailable, nil, nil))
	}
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")

	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	alert := created.Alert
	assert.Equal(t, domain.AlertEscalation, alert.Type)
	assert.Equal(t, domain.UrgencyCritical, alert.Urgency)
	assert.Equal(t, "ops@example.com", alert.RecipientEmail)
	assert.Contains(t, alert.EscalationReason, "no available recipient")
	assert.Contains(t, alert.Metadata, "manual_intervention_required")
}

func TestRunDailyScan(t *testing.T) {
	e := newEnv(t)
	e.addWorkItem("One", "2026-09-01", "2026-09-15")
	e.addWorkItem("Two", "2026-09-02", "2026-09-15")

	res, err := e.orch.RunDailyScan(e.ctx, testutil.MustDate("2026-09-14"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Duplicates)

	again, err := e.orch.RunDailyScan(e.ctx, testutil.MustDate("2026-09-14"))
	require.NoError(t, err)
	assert.Equal(t, 2, again.Duplicates)
	assert.Zero(t, again.Created)
}
