// Package httpapi exposes the import pipeline, alert workflow and plan
// queries over HTTP. Handlers are thin: decode, call the engine or
// orchestrator, encode. All errors are normalized to a
// {kind, message, details} body.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexanderramin/planwatch/internal/alerting"
	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/merge"
	"github.com/alexanderramin/planwatch/internal/metrics"
	"github.com/alexanderramin/planwatch/internal/recalc"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/token"
)

// Server holds the wired collaborators behind the HTTP surface.
type Server struct {
	conn     *sql.DB
	uow      db.UnitOfWork
	merger   *merge.Engine
	recalc   *recalc.Engine
	orch     *alerting.Orchestrator
	tokens   *token.Service
	resolver *escalation.Resolver
	metrics  *metrics.Registry
	logger   *slog.Logger

	maxUploadBytes int64
	corsOrigins    []string
}

// Config wires a Server.
type Config struct {
	Conn        *sql.DB
	UoW         db.UnitOfWork
	Merger      *merge.Engine
	Recalc      *recalc.Engine
	Orch        *alerting.Orchestrator
	Tokens      *token.Service
	Resolver    *escalation.Resolver
	Metrics     *metrics.Registry
	Logger      *slog.Logger
	MaxUploadMB int
	CORSOrigins []string
}

func NewServer(cfg Config) *Server {
	maxUpload := cfg.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 10
	}
	return &Server{
		conn:           cfg.Conn,
		uow:            cfg.UoW,
		merger:         cfg.Merger,
		recalc:         cfg.Recalc,
		orch:           cfg.Orch,
		tokens:         cfg.Tokens,
		resolver:       cfg.Resolver,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		maxUploadBytes: int64(maxUpload) << 20,
		corsOrigins:    cfg.CORSOrigins,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.metrics.Registerer, promhttp.HandlerOpts{}))
	}

	r.Post("/import", s.handleImport)
	r.Get("/import/batches", s.handleListBatches)
	r.Get("/import/batches/{id}", s.handleGetBatch)
	r.Get("/import/baseline-versions", s.handleListBaselines)

	r.Get("/respond", s.handleValidateToken)
	r.Post("/alerts/respond", s.handleRespond)
	r.Post("/alerts/approvals/{response_id}/approve", s.handleApprove)
	r.Post("/alerts/approvals/{response_id}/reject", s.handleReject)
	r.Get("/alerts", s.handleListAlerts)

	r.Get("/resources/{id}/escalation-chain", s.handleEscalationChain)
	r.Put("/resources/{id}/availability", s.handleSetAvailability)

	r.Get("/holidays", s.handleListHolidays)
	r.Post("/holidays", s.handleCreateHoliday)
	r.Delete("/holidays/{id}", s.handleDeleteHoliday)

	r.Get("/programs/{id}/critical-path", s.handleCriticalPath)
	r.Post("/programs/{id}/recalculate", s.handleRecalculate)

	r.Get("/audit", s.handleListAudit)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.PingContext(r.Context()); err != nil {
		s.writeError(w, domain.NewFault(domain.FaultStore, "store unreachable"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError normalizes any error to the {kind, message, details} shape
// with a status derived from the fault kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var fault *domain.Fault
	if errors.As(err, &fault) {
		s.writeJSON(w, statusForFault(fault.Kind), errorBody{
			Kind:    string(fault.Kind),
			Message: fault.Message,
			Details: fault.Details,
		})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorBody{
			Kind: string(domain.FaultResourceNotFound), Message: err.Error(),
		})
		return
	}
	if errors.Is(err, repository.ErrDuplicate) {
		s.writeJSON(w, http.StatusConflict, errorBody{
			Kind: string(domain.FaultValidation), Message: err.Error(),
		})
		return
	}
	var cycle *recalc.CycleError
	if errors.As(err, &cycle) {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Kind:    string(domain.FaultDependencyCycle),
			Message: cycle.Error(),
			Details: map[string]any{"cycle_path": cycle.Path},
		})
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{
		Kind: string(domain.FaultStore), Message: "internal error",
	})
}

func statusForFault(kind domain.FaultKind) int {
	switch kind {
	case domain.FaultValidation, domain.FaultFileFormat:
		return http.StatusBadRequest
	case domain.FaultResourceNotFound:
		return http.StatusNotFound
	case domain.FaultMergeConflict:
		return http.StatusConflict
	case domain.FaultDependencyCycle:
		return http.StatusUnprocessableEntity
	case domain.FaultTokenExpired:
		return http.StatusGone
	case domain.FaultTokenInvalid, domain.FaultTokenRevoked, domain.FaultTokenMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
