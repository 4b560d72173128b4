package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/alexanderramin/planwatch/internal/alerting"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/repository"
)

const dateLayout = "2006-01-02"

type respondRequest struct {
	Token                  string  `json:"token"`
	AlertID                string  `json:"alert_id,omitempty"`
	ResponderID            string  `json:"responder_id,omitempty"`
	ReportedStatus         string  `json:"reported_status"`
	ProposedNewDate        string  `json:"proposed_new_date,omitempty"`
	ReasonCategory         string  `json:"reason_category,omitempty"`
	ReasonDetails          string  `json:"reason_details,omitempty"`
	Comment                string  `json:"comment,omitempty"`
	IdempotencyKey         string  `json:"idempotency_key,omitempty"`
	AdditionalWorkPercent  float64 `json:"additional_work_percent,omitempty"`
	AvailableEffortPercent float64 `json:"available_effort_percent,omitempty"`
}

type respondResponse struct {
	Response         responseBody     `json:"response"`
	Duplicate        bool             `json:"duplicate"`
	Escalated        bool             `json:"escalated"`
	RequiresApproval bool             `json:"requires_approval"`
	Impact           *impact.Analysis `json:"impact,omitempty"`
}

type responseBody struct {
	ID              string     `json:"id"`
	AlertID         string     `json:"alert_id"`
	WorkItemID      string     `json:"work_item_id"`
	ResponderID     string     `json:"responder_id"`
	ReportedStatus  string     `json:"reported_status"`
	ProposedNewDate *time.Time `json:"proposed_new_date,omitempty"`
	DelayDays       int        `json:"delay_days,omitempty"`
	ResponseVersion int        `json:"response_version"`
	IsLatest        bool       `json:"is_latest"`
	ApprovalStatus  string     `json:"approval_status"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
}

func toResponseBody(r *domain.WorkItemResponse) responseBody {
	return responseBody{
		ID:              r.ID,
		AlertID:         r.AlertID,
		WorkItemID:      r.WorkItemID,
		ResponderID:     r.ResponderID,
		ReportedStatus:  string(r.ReportedStatus),
		ProposedNewDate: r.ProposedNewDate,
		DelayDays:       r.DelayDays,
		ResponseVersion: r.ResponseVersion,
		IsLatest:        r.IsLatest,
		ApprovalStatus:  string(r.ApprovalStatus),
		ApprovedBy:      r.ApprovedBy,
		RejectionReason: r.RejectionReason,
		SubmittedAt:     r.SubmittedAt,
	}
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "invalid JSON body", "cause", err.Error()))
		return
	}

	submit := alerting.SubmitRequest{
		Token:                  req.Token,
		AlertID:                req.AlertID,
		ResponderID:            req.ResponderID,
		ReportedStatus:         domain.ReportedStatus(req.ReportedStatus),
		ReasonCategory:         domain.ReasonCategory(req.ReasonCategory),
		ReasonDetails:          req.ReasonDetails,
		Comment:                req.Comment,
		IdempotencyKey:         req.IdempotencyKey,
		AdditionalWorkPercent:  req.AdditionalWorkPercent,
		AvailableEffortPercent: req.AvailableEffortPercent,
	}
	if req.ProposedNewDate != "" {
		d, err := time.Parse(dateLayout, req.ProposedNewDate)
		if err != nil {
			s.writeError(w, domain.NewFault(domain.FaultValidation,
				"proposed_new_date must be YYYY-MM-DD", "value", req.ProposedNewDate))
			return
		}
		submit.ProposedNewDate = &d
	}

	result, err := s.orch.ProcessStatusResponse(r.Context(), submit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, respondResponse{
		Response:         toResponseBody(result.Response),
		Duplicate:        result.Duplicate,
		Escalated:        result.Escalated,
		RequiresApproval: result.RequiresApproval,
		Impact:           result.Impact,
	})
}

type approvalRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "invalid JSON body", "cause", err.Error()))
		return
	}
	if req.ApproverID == "" {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "approver_id is required"))
		return
	}
	resp, err := s.orch.ApproveDelay(r.Context(), chi.URLParam(r, "response_id"), req.ApproverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponseBody(resp))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "invalid JSON body", "cause", err.Error()))
		return
	}
	if req.ApproverID == "" {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "approver_id is required"))
		return
	}
	resp, err := s.orch.RejectDelay(r.Context(), chi.URLParam(r, "response_id"), req.ApproverID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponseBody(resp))
}

type alertBody struct {
	ID                  string     `json:"id"`
	WorkItemID          string     `json:"work_item_id"`
	DeadlineDate        string     `json:"deadline_date"`
	RecipientEmail      string     `json:"recipient_email"`
	Type                string     `json:"type"`
	EscalationLevel     int        `json:"escalation_level"`
	Urgency             string     `json:"urgency"`
	Status              string     `json:"status"`
	ScheduledSendAt     *time.Time `json:"scheduled_send_at,omitempty"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	EscalationTimeoutAt *time.Time `json:"escalation_timeout_at,omitempty"`
	ParentAlertID       *string    `json:"parent_alert_id,omitempty"`
	EscalationReason    string     `json:"escalation_reason,omitempty"`
}

func toAlertBody(a *domain.Alert) alertBody {
	return alertBody{
		ID:                  a.ID,
		WorkItemID:          a.WorkItemID,
		DeadlineDate:        a.DeadlineDate.Format(dateLayout),
		RecipientEmail:      a.RecipientEmail,
		Type:                string(a.Type),
		EscalationLevel:     a.EscalationLevel,
		Urgency:             string(a.Urgency),
		Status:              string(a.Status),
		ScheduledSendAt:     a.ScheduledSendAt,
		SentAt:              a.SentAt,
		RespondedAt:         a.RespondedAt,
		ExpiresAt:           a.ExpiresAt,
		EscalationTimeoutAt: a.EscalationTimeoutAt,
		ParentAlertID:       a.ParentAlertID,
		EscalationReason:    a.EscalationReason,
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	workItemID := r.URL.Query().Get("work_item_id")
	if workItemID == "" {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "work_item_id query parameter is required"))
		return
	}
	alerts, err := repository.NewSQLiteAlertRepo(s.conn).ListByWorkItem(r.Context(), workItemID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		alerts = lo.Filter(alerts, func(a *domain.Alert, _ int) bool {
			return string(a.Status) == status
		})
	}
	s.writeJSON(w, http.StatusOK, lo.Map(alerts, func(a *domain.Alert, _ int) alertBody {
		return toAlertBody(a)
	}))
}

// handleValidateToken checks a magic-link token without consuming it, so
// the response page can render the work item before submission.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.writeError(w, domain.NewFault(domain.FaultTokenInvalid, "token query parameter is required"))
		return
	}
	validated, err := s.tokens.Validate(r.Context(), tok)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := map[string]any{
		"valid":        true,
		"work_item_id": validated.Claims.WorkItemID,
		"alert_id":     validated.Claims.AlertID,
		"responder_id": validated.Claims.Subject,
	}
	wi, err := repository.NewSQLiteWorkItemRepo(s.conn).GetByID(r.Context(), validated.Claims.WorkItemID)
	if err == nil {
		out["work_item_name"] = wi.Name
		out["current_end"] = wi.CurrentEnd.Format(dateLayout)
		out["status"] = string(wi.Status)
	}
	s.writeJSON(w, http.StatusOK, out)
}
