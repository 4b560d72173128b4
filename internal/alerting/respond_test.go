package alerting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/testutil"
)

func TestProcessStatusResponse_OnTrackViaToken(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)
	tok := tokenFromLink(t, created.MagicLink)

	// Alert and responder come from the token claims alone.
	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		Token:          tok,
		ReportedStatus: domain.ReportedOnTrack,
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	resp := res.Response
	assert.Equal(t, created.Alert.ID, resp.AlertID)
	assert.Equal(t, e.owner.ID, resp.ResponderID)
	assert.Equal(t, 1, resp.ResponseVersion)
	assert.True(t, resp.IsLatest)
	assert.Equal(t, domain.ApprovalNotRequired, resp.ApprovalStatus)

	alert, err := repository.NewSQLiteAlertRepo(e.db).GetByID(e.ctx, created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResponded, alert.Status)
	require.NotNil(t, alert.RespondedAt)

	// The token is consumed atomically with the response.
	_, err = e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		Token:          tok,
		ReportedStatus: domain.ReportedOnTrack,
	})
	var fault *domain.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, domain.FaultTokenRevoked, fault.Kind)
	assert.Equal(t, resp.ID, fault.Details["used_by_response_id"])
}

func TestProcessStatusResponse_IdempotencyKeyReplay(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	req := SubmitRequest{
		AlertID:        created.Alert.ID,
		ResponderID:    e.owner.ID,
		ReportedStatus: domain.ReportedOnTrack,
		IdempotencyKey: "resp-key-1",
	}
	first, err := e.orch.ProcessStatusResponse(e.ctx, req)
	require.NoError(t, err)
	replay, err := e.orch.ProcessStatusResponse(e.ctx, req)
	require.NoError(t, err)

	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.Response.ID, replay.Response.ID)

	// No second version was written.
	max, err := repository.NewSQLiteResponseRepo(e.db).MaxVersionForWorkItem(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, max)
}

func TestProcessStatusResponse_VersionsSupersede(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	first, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID: created.Alert.ID, ResponderID: e.owner.ID, ReportedStatus: domain.ReportedOnTrack,
	})
	require.NoError(t, err)
	second, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID: created.Alert.ID, ResponderID: e.owner.ID, ReportedStatus: domain.ReportedOnTrack,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Response.ResponseVersion)

	responses := repository.NewSQLiteResponseRepo(e.db)
	prior, err := responses.GetByID(e.ctx, first.Response.ID)
	require.NoError(t, err)
	assert.False(t, prior.IsLatest)
	require.NotNil(t, prior.SupersededByResponseVersion)
	assert.Equal(t, 2, *prior.SupersededByResponseVersion)

	latest, err := responses.GetLatestForWorkItem(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Response.ID, latest.ID)
}

func TestProcessStatusResponse_DelayedAutoApprove(t *testing.T) {
	e := newEnv(t)
	policy := domain.DefaultEscalationPolicy()
	policy.AutoApproveDelayUpToDays = 5
	e.setPolicy(policy)

	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	succ := e.addWorkItem("Test API", "2026-09-16", "2026-09-20")
	require.NoError(t, repository.NewSQLiteDependencyRepo(e.db).Upsert(e.ctx, &domain.Dependency{
		SuccessorID: succ.ID, PredecessorID: wi.ID, Type: domain.DepFinishToStart,
	}))
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	proposed := testutil.MustDate("2026-09-18")
	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:         created.Alert.ID,
		ResponderID:     e.owner.ID,
		ReportedStatus:  domain.ReportedDelayed,
		ProposedNewDate: &proposed,
		ReasonCategory:  domain.ReasonOther,
	})
	require.NoError(t, err)

	assert.False(t, res.RequiresApproval)
	assert.Equal(t, domain.ApprovalAutoApproved, res.Response.ApprovalStatus)
	assert.Equal(t, 3, res.Response.DelayDays)
	require.NotNil(t, res.Impact)
	assert.Equal(t, 3, res.Impact.DelayDays)

	workItems := repository.NewSQLiteWorkItemRepo(e.db)
	gotWI, err := workItems.GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.MustDate("2026-09-18"), gotWI.CurrentEnd)

	gotSucc, err := workItems.GetByID(e.ctx, succ.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.MustDate("2026-09-19"), gotSucc.CurrentStart)
	assert.Equal(t, testutil.MustDate("2026-09-23"), gotSucc.CurrentEnd)

	audits := repository.NewSQLiteAuditRepo(e.db)
	wiAudits, err := audits.ListByEntity(e.ctx, "work_item", wi.ID)
	require.NoError(t, err)
	require.NotEmpty(t, wiAudits)
	assert.Equal(t, "delay_approved", wiAudits[len(wiAudits)-1].Action)

	succAudits, err := audits.ListByEntity(e.ctx, "work_item", succ.ID)
	require.NoError(t, err)
	require.Len(t, succAudits, 1)
	assert.Equal(t, "cascade_shift", succAudits[0].Action)
}

func TestProcessStatusResponse_DelayedRequiresApproval(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	proposed := testutil.MustDate("2026-09-18")
	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:         created.Alert.ID,
		ResponderID:     e.owner.ID,
		ReportedStatus:  domain.ReportedDelayed,
		ProposedNewDate: &proposed,
		ReasonCategory:  domain.ReasonTechnicalBlocker,
	})
	require.NoError(t, err)

	assert.True(t, res.RequiresApproval)
	assert.Equal(t, domain.ApprovalPending, res.Response.ApprovalStatus)

	// Dates untouched until approval.
	gotWI, err := repository.NewSQLiteWorkItemRepo(e.db).GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.MustDate("2026-09-15"), gotWI.CurrentEnd)

	// The PM got an approval request.
	alerts, err := repository.NewSQLiteAlertRepo(e.db).ListByWorkItem(e.ctx, wi.ID)
	require.NoError(t, err)
	var approval *domain.Alert
	for _, a := range alerts {
		if a.Type == domain.AlertApprovalRequest {
			approval = a
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, "priya@example.com", approval.RecipientEmail)
	assert.Equal(t, domain.UrgencyHigh, approval.Urgency)
}

func TestApproveDelay(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	proposed := testutil.MustDate("2026-09-18")
	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:         created.Alert.ID,
		ResponderID:     e.owner.ID,
		ReportedStatus:  domain.ReportedDelayed,
		ProposedNewDate: &proposed,
		ReasonCategory:  domain.ReasonOther,
	})
	require.NoError(t, err)
	require.True(t, res.RequiresApproval)

	approved, err := e.orch.ApproveDelay(e.ctx, res.Response.ID, e.pm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, approved.ApprovalStatus)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, e.pm.ID, *approved.ApprovedBy)

	gotWI, err := repository.NewSQLiteWorkItemRepo(e.db).GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.MustDate("2026-09-18"), gotWI.CurrentEnd)

	// Approving twice is refused.
	_, err = e.orch.ApproveDelay(e.ctx, res.Response.ID, e.pm.ID)
	var fault *domain.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, domain.FaultValidation, fault.Kind)
}

func TestRejectDelay(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	proposed := testutil.MustDate("2026-09-18")
	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:         created.Alert.ID,
		ResponderID:     e.owner.ID,
		ReportedStatus:  domain.ReportedDelayed,
		ProposedNewDate: &proposed,
		ReasonCategory:  domain.ReasonOther,
	})
	require.NoError(t, err)

	rejected, err := e.orch.RejectDelay(e.ctx, res.Response.ID, e.pm.ID, "deadline is contractual")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, rejected.ApprovalStatus)
	assert.Equal(t, "deadline is contractual", rejected.RejectionReason)

	gotWI, err := repository.NewSQLiteWorkItemRepo(e.db).GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.MustDate("2026-09-15"), gotWI.CurrentEnd, "rejection leaves dates alone")
}

func TestProcessStatusResponse_Blocked(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15",
		testutil.WithStatus(domain.WorkItemInProgress))
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	res, err := e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:        created.Alert.ID,
		ResponderID:    e.owner.ID,
		ReportedStatus: domain.ReportedBlocked,
		ReasonDetails:  "waiting on vendor credentials",
	})
	require.NoError(t, err)
	assert.True(t, res.Escalated)

	gotWI, err := repository.NewSQLiteWorkItemRepo(e.db).GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.True(t, gotWI.FlagForReview)
	assert.Equal(t, "BLOCKED: waiting on vendor credentials", gotWI.ReviewMessage)

	alerts, err := repository.NewSQLiteAlertRepo(e.db).ListByWorkItem(e.ctx, wi.ID)
	require.NoError(t, err)
	var blocker *domain.Alert
	for _, a := range alerts {
		if a.Type == domain.AlertBlockerReport {
			blocker = a
		}
	}
	require.NotNil(t, blocker)
	assert.Equal(t, domain.UrgencyCritical, blocker.Urgency)
	assert.Equal(t, "priya@example.com", blocker.RecipientEmail)
}

func TestProcessStatusResponse_Completed(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15",
		testutil.WithStatus(domain.WorkItemNotStarted))
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	_, err = e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:        created.Alert.ID,
		ResponderID:    e.owner.ID,
		ReportedStatus: domain.ReportedCompleted,
	})
	require.NoError(t, err)

	gotWI, err := repository.NewSQLiteWorkItemRepo(e.db).GetByID(e.ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemCompleted, gotWI.Status)
	require.NotNil(t, gotWI.ActualEnd)
	assert.Equal(t, testutil.MustDate("2026-09-14"), *gotWI.ActualEnd)
	assert.Equal(t, float64(100), gotWI.CompletionPercent)

	// The status audit records the transition the item actually made.
	wiAudits, err := repository.NewSQLiteAuditRepo(e.db).ListByEntity(e.ctx, "work_item", wi.ID)
	require.NoError(t, err)
	require.NotEmpty(t, wiAudits)
	last := wiAudits[len(wiAudits)-1]
	assert.Equal(t, "status", last.FieldChanged)
	assert.Equal(t, string(domain.WorkItemNotStarted), last.OldValue)
	assert.Equal(t, string(domain.WorkItemCompleted), last.NewValue)
}

func TestProcessStatusResponse_UnknownStatusRejected(t *testing.T) {
	e := newEnv(t)
	wi := e.addWorkItem("Build API", "2026-09-01", "2026-09-15")
	created, err := e.orch.CreateStatusCheckAlert(e.ctx, e.pendingFor(wi))
	require.NoError(t, err)

	_, err = e.orch.ProcessStatusResponse(e.ctx, SubmitRequest{
		AlertID:        created.Alert.ID,
		ResponderID:    e.owner.ID,
		ReportedStatus: "MOSTLY_FINE",
	})
	var fault *domain.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, domain.FaultValidation, fault.Kind)
	require.False(t, errors.Is(err, repository.ErrDuplicate))
}
