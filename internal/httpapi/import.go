package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/importer"
	"github.com/alexanderramin/planwatch/internal/merge"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// handleImport accepts a multipart plan upload and runs the smart merge.
// Query params: dry_run, perform_ghost_check, trigger_recalculation,
// save_baseline_version.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultFileFormat,
			"reading upload failed", "cause", err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultFileFormat, `multipart field "file" is required`))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultFileFormat,
			"reading upload failed", "cause", err.Error()))
		return
	}
	hash := sha256.Sum256(data)

	plan, err := importer.ParsePlanImport(bytes.NewReader(data))
	if err != nil {
		s.writeError(w, domain.NewFault(domain.FaultFileFormat, err.Error()))
		return
	}

	opts := merge.Options{
		DryRun:       queryBool(r, "dry_run"),
		GhostCheck:   queryBool(r, "perform_ghost_check"),
		SaveBaseline: queryBool(r, "save_baseline_version"),
		FileName:     header.Filename,
		FileHash:     hex.EncodeToString(hash[:]),
		ChangedBy:    actorFrom(r),
	}

	result, err := s.merger.Execute(r.Context(), plan, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ImportsTotal.WithLabelValues(string(result.Status)).Inc()
	}

	if queryBool(r, "trigger_recalculation") && !result.DryRun &&
		result.ProgramID != "" && result.Status != domain.ImportValidationFailed &&
		result.Status != domain.ImportFailed {
		if rec, err := s.recalc.Run(r.Context(), result.ProgramID); err != nil {
			// The import itself committed; report the recalc problem as a
			// warning rather than failing the request.
			result.Warnings = append(result.Warnings, "recalculation failed: "+err.Error())
		} else {
			result.Warnings = append(result.Warnings, rec.Warnings...)
		}
	}

	s.writeJSON(w, importStatusCode(result.Status), result)
}

func importStatusCode(status domain.ImportBatchStatus) int {
	switch status {
	case domain.ImportValidationFailed:
		return http.StatusUnprocessableEntity
	case domain.ImportFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

type batchResponse struct {
	ID                string     `json:"id"`
	ProgramID         string     `json:"program_id"`
	FileName          string     `json:"file_name"`
	FileHash          string     `json:"file_hash"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	BaselineVersionID *string    `json:"baseline_version_id,omitempty"`
}

func toBatchResponse(b *domain.ImportBatch) batchResponse {
	return batchResponse{
		ID:                b.ID,
		ProgramID:         b.ProgramID,
		FileName:          b.FileName,
		FileHash:          b.FileHash,
		Status:            string(b.Status),
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		Summary:           b.Summary,
		BaselineVersionID: b.BaselineVersionID,
	}
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	batches, err := repository.NewSQLiteImportBatchRepo(s.conn).List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := repository.NewSQLiteImportBatchRepo(s.conn).GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

type baselineResponse struct {
	ID            string    `json:"id"`
	ProgramID     string    `json:"program_id"`
	VersionNumber int       `json:"version_number"`
	TotalItems    int       `json:"total_items"`
	Reason        string    `json:"reason,omitempty"`
	CreatedBy     string    `json:"created_by"`
	ImportBatchID *string   `json:"import_batch_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	programID := r.URL.Query().Get("program_id")
	if programID == "" {
		s.writeError(w, domain.NewFault(domain.FaultValidation, "program_id query parameter is required"))
		return
	}
	versions, err := repository.NewSQLiteBaselineRepo(s.conn).ListByProgram(r.Context(), programID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]baselineResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, baselineResponse{
			ID:            v.ID,
			ProgramID:     v.ProgramID,
			VersionNumber: v.VersionNumber,
			TotalItems:    v.TotalItems,
			Reason:        v.Reason,
			CreatedBy:     v.CreatedBy,
			ImportBatchID: v.ImportBatchID,
			CreatedAt:     v.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "import_api"
}
