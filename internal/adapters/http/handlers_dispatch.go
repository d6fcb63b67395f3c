package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	leadStore "leadmailer/internal/adapters/storage/lead"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/application/projections"
	"leadmailer/internal/domain/audit"
	"leadmailer/internal/domain/dispatch"
	emailDomain "leadmailer/internal/domain/email"
)

type startDispatchRequest struct {
	LeadIDs  []string             `json:"lead_ids"`
	Template emailDomain.Template `json:"template"`
}

type startDispatchResponse struct {
	RunID    string            `json:"run_id"`
	Progress dispatch.Progress `json:"progress"`
}

// handleStartDispatch handles POST /api/dispatch.
// Responds 202 with the new run id; the run continues after the response.
func (s *Server) handleStartDispatch(w http.ResponseWriter, r *http.Request) {
	var req startDispatchRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := orchestrators.ExecuteStartDispatch(r.Context(), orchestrators.StartDispatchInput{
		LeadIDs:  req.LeadIDs,
		Template: req.Template,
		ActorID:  actorID(r),
	}, orchestrators.StartDispatchDeps{
		Recipients: s.deps.Recipients,
		Transport:  s.deps.Transport,
		Audit:      s.deps.Audit,
		Events:     s.deps.AuditEvents,
		Observer:   s.deps.Hub,
		Runs:       s.deps.History,
		Registry:   s.deps.Registry,
		Options:    s.deps.Options,
	})
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startDispatchResponse{RunID: run.ID(), Progress: run.Progress()})
}

// handleDispatchStatus handles GET /api/dispatch/{runID}.
func (s *Server) handleDispatchStatus(w http.ResponseWriter, r *http.Request) {
	status, err := projections.QueryDispatchStatus(r.Context(), chi.URLParam(r, "runID"), s.statusDeps())
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleControlDispatch handles POST /api/dispatch/{runID}/{pause|resume|cancel}.
func (s *Server) handleControlDispatch(w http.ResponseWriter, r *http.Request) {
	progress, err := orchestrators.ExecuteControlDispatch(r.Context(), orchestrators.ControlDispatchInput{
		RunID:   chi.URLParam(r, "runID"),
		Action:  orchestrators.ControlAction(chi.URLParam(r, "action")),
		ActorID: actorID(r),
	}, orchestrators.ControlDispatchDeps{
		Registry: s.deps.Registry,
		Events:   s.deps.AuditEvents,
	})
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleDispatchReport handles GET /api/dispatch/{runID}/report.
// The ETag is the report's BLAKE3 digest, so unchanged reports return 304.
func (s *Server) handleDispatchReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := projections.QueryDispatchReport(r.Context(), runID, s.statusDeps())
	if err != nil {
		s.dispatchError(w, err)
		return
	}

	etag := strconv.Quote(report.Digest)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if s.deps.AuditEvents != nil {
		ev := audit.NewEvent(actorID(r), audit.CategoryDispatch, audit.ActionExport).
			WithResource("dispatch_run", runID).
			WithDescription(report.Filename)
		if err := s.deps.AuditEvents.Save(r.Context(), ev); err != nil {
			slog.Error("dispatch_export_audit_failed", "run_id", runID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Content)
}

// handleDispatchHistory handles GET /api/dispatch/history?limit=N.
func (s *Server) handleDispatchHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := projections.QueryDispatchHistory(r.Context(), limit, s.statusDeps())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) statusDeps() projections.DispatchStatusDeps {
	return projections.DispatchStatusDeps{Registry: s.deps.Registry, History: s.deps.History}
}

// dispatchError maps domain errors to status codes.
func (s *Server) dispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, emailDomain.ErrInvalidTemplate),
		errors.Is(err, dispatch.ErrNoRecipients),
		errors.Is(err, orchestrators.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, leadStore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrators.ErrRunNotFound),
		errors.Is(err, projections.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "dispatch run not found")
	default:
		internalError(w, err)
	}
}
