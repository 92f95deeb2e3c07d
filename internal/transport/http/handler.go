// Package httptransport is the thin HTTP layer over the treatment-cycle
// service. Handlers decode requests, delegate to the service, and translate
// domain errors into JSON responses; no workflow logic lives here.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cyclecore/internal/archive"
	"cyclecore/internal/core"
	"cyclecore/pkg/domain"
)

// Handler handles cycle workflow endpoints.
type Handler struct {
	svc      *core.Service
	archiver *archive.Worker
	logger   *slog.Logger

	// MetricsHandler, when set, is mounted at /metrics (typically
	// promhttp.HandlerFor over the process registry).
	MetricsHandler http.Handler
}

// NewHandler creates a handler over the cycle service. archiver may be nil,
// in which case the archive endpoints report 503.
func NewHandler(svc *core.Service, archiver *archive.Worker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, archiver: archiver, logger: logger}
}

// Router wires all endpoints onto a chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	if h.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.MetricsHandler)
	}

	r.Route("/cycles", func(r chi.Router) {
		r.Post("/", h.handleCreateCycle)
		r.Get("/", h.handleListCycles)
		r.Route("/{cycleID}", func(r chi.Router) {
			r.Get("/", h.handleGetCycle)
			r.Get("/audit", h.handleAuditHistory)
			r.Put("/stages/{stageID}/draft", h.handleSaveDraft)
			r.Post("/stages/{stageID}/complete", h.handleCompleteStage)
			r.Post("/close", h.handleCloseCycle)
			r.Post("/cancel", h.handleCancelCycle)
			r.Post("/archive", h.handleArchiveCycle)
		})
	})
	r.Get("/archive/jobs/{jobID}", h.handleArchiveJob)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createCycleRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	ActorID   string `json:"actor_id"`
}

func (h *Handler) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var req createCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.PatientID == "" || req.DoctorID == "" {
		writeBadRequest(w, "patient_id and doctor_id are required")
		return
	}
	cycle, err := h.svc.CreateCycle(r.Context(), req.PatientID, req.DoctorID, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.svc.ListCycles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

func (h *Handler) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.svc.GetCycle(r.Context(), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (h *Handler) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	cycleID := chi.URLParam(r, "cycleID")
	// A history request for an unknown cycle is a 404, not an empty trail.
	if _, err := h.svc.GetCycle(r.Context(), cycleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.svc.AuditHistory(r.Context(), cycleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type stageDataRequest struct {
	Data            map[string]any `json:"data"`
	ExpectedVersion int64          `json:"expected_version"`
	ActorID         string         `json:"actor_id"`
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req stageDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cycle, err := h.svc.SaveDraft(r.Context(), chi.URLParam(r, "cycleID"), domain.StageID(chi.URLParam(r, "stageID")), req.Data, req.ExpectedVersion, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (h *Handler) handleCompleteStage(w http.ResponseWriter, r *http.Request) {
	var req stageDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cycle, err := h.svc.CompleteStage(r.Context(), chi.URLParam(r, "cycleID"), domain.StageID(chi.URLParam(r, "stageID")), req.Data, req.ExpectedVersion, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

type closeCycleRequest struct {
	Outcome         map[string]any `json:"outcome"`
	ExpectedVersion int64          `json:"expected_version"`
	ActorID         string         `json:"actor_id"`
}

func (h *Handler) handleCloseCycle(w http.ResponseWriter, r *http.Request) {
	var req closeCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cycle, err := h.svc.CloseCycle(r.Context(), chi.URLParam(r, "cycleID"), req.Outcome, req.ExpectedVersion, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

type cancelCycleRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
	ActorID         string `json:"actor_id"`
}

func (h *Handler) handleCancelCycle(w http.ResponseWriter, r *http.Request) {
	var req cancelCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cycle, err := h.svc.CancelCycle(r.Context(), chi.URLParam(r, "cycleID"), req.Reason, req.ExpectedVersion, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

type archiveRequest struct {
	ActorID string `json:"actor_id"`
}

func (h *Handler) handleArchiveCycle(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "archival_disabled", Message: "archive storage is not configured"})
		return
	}
	var req archiveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	job, err := h.archiver.Enqueue(r.Context(), chi.URLParam(r, "cycleID"), req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleArchiveJob(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "archival_disabled", Message: "archive storage is not configured"})
		return
	}
	job, ok := h.archiver.Job(chi.URLParam(r, "jobID"))
	if !ok {
		h.writeError(w, r, domain.ErrNotFound{Kind: "archive job", ID: chi.URLParam(r, "jobID")})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
