package export

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
)

type Handler struct {
	service *Service
	repo    *Repository
}

func NewHandler(service *Service, repo *Repository) *Handler {
	return &Handler{service: service, repo: repo}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/jobs/{id}/runs", h.handleTriggerRun).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
}

func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	var payload struct {
		RunToken string `json:"run_token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}

	outcome, err := h.service.Execute(r.Context(), jobID, payload.RunToken, models.TriggerAPI)
	if err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID.String()).Error("Run trigger failed")
		http.Error(w, "failed to execute run", http.StatusInternalServerError)
		return
	}

	// Duplicate-token hits are normal responses, not errors.
	status := http.StatusCreated
	if outcome.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, outcome)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	runs, err := h.repo.List(r.Context(), jobID, parseLimit(r, 50))
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	items := make([]models.RunRecord, 0, len(runs))
	for _, run := range runs {
		copy := run
		items = append(items, runToDomain(&copy))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("Failed to get run")
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": runToDomain(run)})
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
