package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rowbridge-io/platform/pkg/common/logger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/jobs", h.handleCreateJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/schedule", h.handleReschedule).Methods(http.MethodPatch)
	r.HandleFunc("/jobs/{id}/status", h.handleSetStatus).Methods(http.MethodPatch)
	r.HandleFunc("/jobs/{id}/audit", h.handleAuditTrail).Methods(http.MethodGet)
}

func (h *Handler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var input CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	job, err := h.service.Create(r.Context(), input, resolveActor(r))
	if err != nil {
		if errors.Is(err, ErrNotAllowed) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		logger.Log.WithError(err).Error("Failed to create export job")
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"job": job})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobList, err := h.service.List(r.Context(), parseLimit(r, 50))
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list export jobs")
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": jobList})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("Failed to get export job")
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	var payload struct {
		IntervalMinutes *int `json:"interval_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IntervalMinutes == nil {
		http.Error(w, "interval_minutes is required", http.StatusBadRequest)
		return
	}
	if *payload.IntervalMinutes < 0 {
		http.Error(w, "interval_minutes must not be negative", http.StatusBadRequest)
		return
	}

	job, err := h.service.Reschedule(r.Context(), id, *payload.IntervalMinutes, resolveActor(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAllowed):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, ErrJobNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		default:
			logger.Log.WithError(err).Error("Failed to reschedule export job")
			http.Error(w, "failed to reschedule job", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	job, err := h.service.SetStatus(r.Context(), id, payload.Status, resolveActor(r))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("Failed to update export job status")
		http.Error(w, "failed to update job status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), id, parseLimit(r, 50))
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list job audit trail")
		http.Error(w, "failed to list audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func resolveActor(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
