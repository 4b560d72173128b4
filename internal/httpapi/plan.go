package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

type chainEntry struct {
	Level      int     `json:"level"`
	ResourceID *string `json:"resource_id,omitempty"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Timezone   string  `json:"timezone,omitempty"`
	Synthetic  bool    `json:"synthetic,omitempty"`
}

// handleEscalationChain resolves the full chain for a resource within a
// program, without availability filtering.
func (s *Server) handleEscalationChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resource, err := repository.NewSQLiteResourceRepo(s.conn).GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var program *domain.Program
	if programID := r.URL.Query().Get("program_id"); programID != "" {
		if program, err = repository.NewSQLiteProgramRepo(s.conn).GetByID(ctx, programID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	chain, err := s.resolver.BuildChain(ctx, resource, program)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]chainEntry, 0, len(chain))
	for _, rec := range chain {
		out = append(out, chainEntry{
			Level:      rec.Level,
			ResourceID: rec.ResourceID,
			Name:       rec.Name,
			Email:      rec.Email,
			Timezone:   rec.Timezone,
			Synthetic:  rec.Synthetic,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type availabilityRequest struct {
	Status     string `json:"status"`
	LeaveStart string `json:"leave_start,omitempty"`
	LeaveEnd   string `json:"leave_end,omitempty"`
}

var validAvailability = map[domain.AvailabilityStatus]bool{
	domain.AvailabilityActive:      true,
	domain.AvailabilityOnLeave:     true,
	domain.AvailabilityUnavailable: true,
	domain.AvailabilityPartial:     true,
}

func parseOptionalDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// handleSetAvailability records an operator-made availability change.
// Imports never touch these columns, so the change sticks.
func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "invalid JSON body", "cause", err.Error()))
		return
	}
	status := domain.AvailabilityStatus(req.Status)
	if !validAvailability[status] {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "unknown availability status", "value", req.Status))
		return
	}
	leaveStart, err := parseOptionalDate(req.LeaveStart)
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "leave dates must be YYYY-MM-DD", "value", req.LeaveStart))
		return
	}
	leaveEnd, err := parseOptionalDate(req.LeaveEnd)
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "leave dates must be YYYY-MM-DD", "value", req.LeaveEnd))
		return
	}

	repo := repository.NewSQLiteResourceRepo(s.conn)
	if err := repo.SetAvailability(r.Context(), chi.URLParam(r, "id"), status, leaveStart, leaveEnd); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":                  updated.ID,
		"availability_status": string(updated.AvailabilityStatus),
	})
}

type holidayBody struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	CountryCode string `json:"country_code,omitempty"`
	Name        string `json:"name"`
}

func (s *Server) handleListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := repository.NewSQLiteHolidayRepo(s.conn).List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lo.Map(holidays, func(h *domain.Holiday, _ int) holidayBody {
		return holidayBody{
			ID:          h.ID,
			Date:        h.Date.Format(dateLayout),
			CountryCode: h.CountryCode,
			Name:        h.Name,
		}
	}))
}

func (s *Server) handleCreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req holidayBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "invalid JSON body", "cause", err.Error()))
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "date must be YYYY-MM-DD", "value", req.Date))
		return
	}
	if req.Name == "" {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "name is required"))
		return
	}

	holiday := &domain.Holiday{
		ID:          uuid.New().String(),
		Date:        date,
		CountryCode: req.CountryCode,
		Name:        req.Name,
	}
	if err := repository.NewSQLiteHolidayRepo(s.conn).Create(r.Context(), holiday); err != nil {
		s.writeError(w, err)
		return
	}
	req.ID = holiday.ID
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleDeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := repository.NewSQLiteHolidayRepo(s.conn).Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type criticalPathItem struct {
	ID           string `json:"id"`
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	CurrentStart string `json:"current_start"`
	CurrentEnd   string `json:"current_end"`
	SlackDays    int    `json:"slack_days"`
}

// handleCriticalPath returns the stored critical path, as of the last
// recalculation, ordered by start date.
func (s *Server) handleCriticalPath(w http.ResponseWriter, r *http.Request) {
	items, err := repository.NewSQLiteWorkItemRepo(s.conn).ListByProgram(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	critical := lo.Filter(items, func(wi *domain.WorkItem, _ int) bool {
		return wi.IsCriticalPath
	})
	sort.Slice(critical, func(i, j int) bool {
		return critical[i].CurrentStart.Before(critical[j].CurrentStart)
	})
	s.writeJSON(w, http.StatusOK, lo.Map(critical, func(wi *domain.WorkItem, _ int) criticalPathItem {
		return criticalPathItem{
			ID:           wi.ID,
			ExternalID:   wi.ExternalID,
			Name:         wi.Name,
			CurrentStart: wi.CurrentStart.Format(dateLayout),
			CurrentEnd:   wi.CurrentEnd.Format(dateLayout),
			SlackDays:    wi.SlackDays,
		}
	}))
}

type recalcResponse struct {
	Changes      int      `json:"changes"`
	CriticalPath []string `json:"critical_path"`
	ProjectEnd   string   `json:"project_end,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	ElapsedMs    int64    `json:"elapsed_ms"`
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	result, err := s.recalc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := recalcResponse{
		Changes:      len(result.Changes),
		CriticalPath: result.CriticalPath,
		Warnings:     result.Warnings,
		ElapsedMs:    result.Elapsed.Milliseconds(),
	}
	if !result.ProjectEnd.IsZero() {
		out.ProjectEnd = result.ProjectEnd.Format(dateLayout)
	}
	s.writeJSON(w, http.StatusOK, out)
}

type auditBody struct {
	ID           string    `json:"id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Action       string    `json:"action"`
	FieldChanged string    `json:"field_changed,omitempty"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	ChangeSource string    `json:"change_source"`
	BatchID      string    `json:"batch_id,omitempty"`
	ChangedBy    string    `json:"changed_by"`
	Reason       string    `json:"reason,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audits := repository.NewSQLiteAuditRepo(s.conn)

	var records []*domain.AuditRecord
	var err error
	switch {
	case r.URL.Query().Get("batch_id") != "":
		records, err = audits.ListByBatch(ctx, r.URL.Query().Get("batch_id"))
	case r.URL.Query().Get("entity_type") != "" && r.URL.Query().Get("entity_id") != "":
		records, err = audits.ListByEntity(ctx, r.URL.Query().Get("entity_type"), r.URL.Query().Get("entity_id"))
	default:
		s.writeError(w, domain.NewFault(domain.FaultValidation,
			"batch_id or entity_type+entity_id query parameters are required"))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lo.Map(records, func(rec *domain.AuditRecord, _ int) auditBody {
		return auditBody{
			ID:           rec.ID,
			EntityType:   rec.EntityType,
			EntityID:     rec.EntityID,
			Action:       rec.Action,
			FieldChanged: rec.FieldChanged,
			OldValue:     rec.OldValue,
			NewValue:     rec.NewValue,
			ChangeSource: string(rec.ChangeSource),
			BatchID:      rec.BatchID,
			ChangedBy:    rec.ChangedBy,
			Reason:       rec.Reason,
			ChangedAt:    rec.ChangedAt,
		}
	}))
}
