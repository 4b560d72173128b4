package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/planwatch/internal/alerting"
	"github.com/alexanderramin/planwatch/internal/calendar"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/merge"
	"github.com/alexanderramin/planwatch/internal/metrics"
	"github.com/alexanderramin/planwatch/internal/notify"
	"github.com/alexanderramin/planwatch/internal/recalc"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/testutil"
	"github.com/alexanderramin/planwatch/internal/token"
)

type apiEnv struct {
	t   *testing.T
	ctx context.Context
	db  *sql.DB
	now time.Time
	srv *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	database := testutil.NewTestDB(t)
	e := &apiEnv{
		t:   t,
		ctx: context.Background(),
		db:  database,
		now: time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uow := testutil.NewTestUoW(database)
	resources := repository.NewSQLiteResourceRepo(database)
	resolver := escalation.NewResolver(resources, repository.NewSQLiteSettingsRepo(database), "ops@example.com")
	tokens := token.NewService([]byte("test-secret"), repository.NewSQLiteResponseTokenRepo(database)).WithClock(clock)

	orch := alerting.NewOrchestrator(alerting.Config{
		Conn:     database,
		UoW:      uow,
		Calendar: calendar.New(repository.NewSQLiteHolidayRepo(database)),
		Resolver: resolver,
		Tokens:   tokens,
		Analyzer: impact.NewAnalyzer(repository.NewSQLiteWorkItemRepo(database),
			repository.NewSQLiteDependencyRepo(database), resources),
		Notifier:        notify.NewLogNotifier(logger),
		Metrics:         metrics.NewRegistry(),
		Logger:          logger,
		FrontendBaseURL: "https://plan.example.com",
	}).WithClock(clock)

	server := NewServer(Config{
		Conn:        database,
		UoW:         uow,
		Merger:      merge.NewEngine(database, uow, logger).WithClock(clock),
		Recalc:      recalc.NewEngine(database, uow, logger).WithClock(clock),
		Orch:        orch,
		Tokens:      tokens,
		Resolver:    resolver,
		Metrics:     metrics.NewRegistry(),
		Logger:      logger,
		MaxUploadMB: 10,
		CORSOrigins: []string{"https://plan.example.com"},
	})
	e.srv = httptest.NewServer(server.Router())
	t.Cleanup(e.srv.Close)
	return e
}

const planJSON = `{
	"program": {"external_id": "PRG-1", "name": "Apollo"},
	"resources": [
		{"external_id": "R-1", "name": "Omar Haddad", "email": "omar@example.com"}
	],
	"work_items": [
		{"external_id": "T-1", "project_external_id": "P-1", "project_name": "Platform",
		 "phase_external_id": "PH-1", "phase_name": "Build", "name": "Build API",
		 "planned_start": "2026-09-01", "planned_end": "2026-09-15",
		 "resource_external_id": "R-1"},
		{"external_id": "T-2", "project_external_id": "P-1", "project_name": "Platform",
		 "phase_external_id": "PH-1", "phase_name": "Build", "name": "Test API",
		 "planned_start": "2026-09-16", "planned_end": "2026-09-20",
		 "resource_external_id": "R-1"}
	],
	"dependencies": [
		{"successor_external_id": "T-2", "predecessor_external_id": "T-1", "type": "FS"}
	]
}`

func (e *apiEnv) upload(t *testing.T, plan string, query string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "plan.json")
	require.NoError(t, err)
	_, err = io.WriteString(part, plan)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/import?"+query, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (e *apiEnv) getJSON(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *apiEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	e := newAPIEnv(t)
	resp, body := e.upload(t, planJSON, "dry_run=true")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.True(t, body["dry_run"].(bool))
	assert.EqualValues(t, 2, body["inserted"])

	programs, err := repository.NewSQLiteProgramRepo(e.db).List(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, programs)
}

func TestImport_ExecuteAndRecalculate(t *testing.T) {
	e := newAPIEnv(t)
	resp, body := e.upload(t, planJSON, "trigger_recalculation=true&save_baseline_version=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["inserted"])
	require.NotEmpty(t, body["batch_id"])

	program, err := repository.NewSQLiteProgramRepo(e.db).GetByExternalID(e.ctx, "PRG-1")
	require.NoError(t, err)

	// The FS chain puts both items on the critical path.
	resp2, data := e.getJSON(t, "/programs/"+program.ID+"/critical-path")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var critical []map[string]any
	require.NoError(t, json.Unmarshal(data, &critical))
	require.Len(t, critical, 2)
	assert.Equal(t, "T-1", critical[0]["external_id"])
	assert.Equal(t, "T-2", critical[1]["external_id"])

	// Batch listing and audit trail are reachable by id.
	resp3, data := e.getJSON(t, "/import/batches")
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var batches []map[string]any
	require.NoError(t, json.Unmarshal(data, &batches))
	require.Len(t, batches, 1)

	resp4, data := e.getJSON(t, "/audit?batch_id="+batches[0]["id"].(string))
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	assert.NotEmpty(t, records)

	resp5, data := e.getJSON(t, "/import/baseline-versions?program_id="+program.ID)
	require.Equal(t, http.StatusOK, resp5.StatusCode)
	var versions []map[string]any
	require.NoError(t, json.Unmarshal(data, &versions))
	require.Len(t, versions, 1)
	assert.EqualValues(t, 1, versions[0]["version_number"])
}

func TestImport_ValidationFailureIs422(t *testing.T) {
	e := newAPIEnv(t)
	bad := strings.Replace(planJSON, `"external_id": "PRG-1", `, "", 1)
	resp, body := e.upload(t, bad, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["status"])
	assert.NotEmpty(t, body["errors"])
}

func TestImport_RejectsNonJSONUpload(t *testing.T) {
	e := newAPIEnv(t)
	resp, body := e.upload(t, "not json at all", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(domain.FaultFileFormat), body["kind"])
}

func TestRespondEndToEnd(t *testing.T) {
	e := newAPIEnv(t)
	_, body := e.upload(t, planJSON, "")
	require.Equal(t, "success", body["status"])

	program, err := repository.NewSQLiteProgramRepo(e.db).GetByExternalID(e.ctx, "PRG-1")
	require.NoError(t, err)

	wiRepo := repository.NewSQLiteWorkItemRepo(e.db)
	phases := repository.NewSQLitePhaseRepo(e.db)
	programPhases, err := phases.ListByProgram(e.ctx, program.ID)
	require.NoError(t, err)
	require.NotEmpty(t, programPhases)
	items, err := wiRepo.ListByPhase(e.ctx, programPhases[0].ID)
	require.NoError(t, err)
	var target *domain.WorkItem
	for _, wi := range items {
		if wi.ExternalID == "T-1" {
			target = wi
		}
	}
	require.NotNil(t, target)
	require.NotNil(t, target.ResourceID)

	resource, err := repository.NewSQLiteResourceRepo(e.db).GetByID(e.ctx, *target.ResourceID)
	require.NoError(t, err)

	// Mint a link the way alert creation does, then validate and respond
	// over HTTP.
	tokens := token.NewService([]byte("test-secret"), repository.NewSQLiteResponseTokenRepo(e.db))
	alert := &domain.Alert{
		ID:                  "alert-1",
		WorkItemID:          target.ID,
		DeadlineDate:        target.CurrentEnd,
		IntendedRecipientID: &resource.ID,
		RecipientEmail:      resource.PrimaryEmail,
		Type:                domain.AlertStatusCheck,
		Status:              domain.AlertPending,
		CreatedAt:           e.now,
		UpdatedAt:           e.now,
	}
	require.NoError(t, repository.NewSQLiteAlertRepo(e.db).Create(e.ctx, alert))
	minted, err := tokens.Mint(e.ctx, resource.ID, target.ID, alert.ID, target.CurrentEnd)
	require.NoError(t, err)

	validateResp, data := e.getJSON(t, "/respond?token="+url.QueryEscape(minted.Token))
	require.Equal(t, http.StatusOK, validateResp.StatusCode)
	var validated map[string]any
	require.NoError(t, json.Unmarshal(data, &validated))
	assert.Equal(t, target.ID, validated["work_item_id"])
	assert.Equal(t, "Build API", validated["work_item_name"])

	submitResp, submitBody := e.postJSON(t, "/alerts/respond", map[string]any{
		"token":           minted.Token,
		"reported_status": "ON_TRACK",
	})
	require.Equal(t, http.StatusOK, submitResp.StatusCode)
	response := submitBody["response"].(map[string]any)
	assert.Equal(t, alert.ID, response["alert_id"])
	assert.Equal(t, "ON_TRACK", response["reported_status"])
	assert.True(t, response["is_latest"].(bool))

	// A consumed token is refused with the token-revoked kind.
	reuse, reuseBody := e.postJSON(t, "/alerts/respond", map[string]any{
		"token":           minted.Token,
		"reported_status": "ON_TRACK",
	})
	assert.Equal(t, http.StatusUnauthorized, reuse.StatusCode)
	assert.Equal(t, string(domain.FaultTokenRevoked), reuseBody["kind"])
}

func TestRespond_BadDateRejected(t *testing.T) {
	e := newAPIEnv(t)
	resp, body := e.postJSON(t, "/alerts/respond", map[string]any{
		"token":             "whatever",
		"reported_status":   "DELAYED",
		"proposed_new_date": "18/09/2026",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(domain.FaultValidation), body["kind"])
}

func TestHolidaysCRUD(t *testing.T) {
	e := newAPIEnv(t)
	created, body := e.postJSON(t, "/holidays", map[string]any{
		"date": "2026-12-25", "country_code": "DE", "name": "Christmas Day",
	})
	require.Equal(t, http.StatusCreated, created.StatusCode)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	listResp, data := e.getJSON(t, "/holidays")
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var holidays []map[string]any
	require.NoError(t, json.Unmarshal(data, &holidays))
	require.Len(t, holidays, 1)
	assert.Equal(t, "2026-12-25", holidays[0]["date"])

	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/holidays/"+id, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	// Deleting again is a 404 in the normalized error shape.
	again, err := http.DefaultClient.Do(req.Clone(e.ctx))
	require.NoError(t, err)
	againBody := decodeBody(t, again)
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
	assert.Equal(t, string(domain.FaultResourceNotFound), againBody["kind"])
}

func TestSetAvailability(t *testing.T) {
	e := newAPIEnv(t)
	resp, _ := e.upload(t, planJSON, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resources := repository.NewSQLiteResourceRepo(e.db)
	omar, err := resources.GetByExternalID(e.ctx, "R-1")
	require.NoError(t, err)
	require.Equal(t, domain.AvailabilityActive, omar.AvailabilityStatus)

	put := func(id string, body map[string]any) *http.Response {
		t.Helper()
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPut, e.srv.URL+"/resources/"+id+"/availability", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	ok := put(omar.ID, map[string]any{
		"status": "on_leave", "leave_start": "2026-09-10", "leave_end": "2026-09-20",
	})
	okBody := decodeBody(t, ok)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Equal(t, "on_leave", okBody["availability_status"])

	got, err := resources.GetByID(e.ctx, omar.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityOnLeave, got.AvailabilityStatus)
	require.NotNil(t, got.LeaveStart)
	assert.Equal(t, testutil.MustDate("2026-09-10"), *got.LeaveStart)

	// A re-import of the same plan leaves the operator-set leave alone.
	resp2, _ := e.upload(t, planJSON, "")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	got, err = resources.GetByID(e.ctx, omar.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityOnLeave, got.AvailabilityStatus)

	bad := put(omar.ID, map[string]any{"status": "gone_fishing"})
	badBody := decodeBody(t, bad)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, string(domain.FaultValidation), badBody["kind"])

	missing := put("no-such-id", map[string]any{"status": "active"})
	missingBody := decodeBody(t, missing)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, string(domain.FaultResourceNotFound), missingBody["kind"])
}

func TestEscalationChain(t *testing.T) {
	e := newAPIEnv(t)
	resources := repository.NewSQLiteResourceRepo(e.db)
	pm := testutil.NewTestResource("Priya Patel", "priya@example.com")
	backup := testutil.NewTestResource("Bea Flores", "bea@example.com")
	require.NoError(t, resources.Upsert(e.ctx, pm))
	require.NoError(t, resources.Upsert(e.ctx, backup))
	owner := testutil.NewTestResource("Omar Haddad", "omar@example.com", testutil.WithBackup(backup.ID))
	require.NoError(t, resources.Upsert(e.ctx, owner))

	program := testutil.NewTestProgram("Apollo", testutil.WithPMOwner(pm.ID))
	require.NoError(t, repository.NewSQLiteProgramRepo(e.db).Create(e.ctx, program))

	resp, data := e.getJSON(t, fmt.Sprintf("/resources/%s/escalation-chain?program_id=%s", owner.ID, program.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chain []map[string]any
	require.NoError(t, json.Unmarshal(data, &chain))
	require.Len(t, chain, 3)
	assert.Equal(t, "omar@example.com", chain[0]["email"])
	assert.Equal(t, "bea@example.com", chain[1]["email"])
	assert.Equal(t, "priya@example.com", chain[2]["email"])
	assert.EqualValues(t, 3, chain[2]["level"])
}

func TestHealthAndMetrics(t *testing.T) {
	e := newAPIEnv(t)
	resp, data := e.getJSON(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "ok")

	resp2, data := e.getJSON(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Contains(t, string(data), "planwatch_")
}
