package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (a *API) handleCheckPending(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerDeviceID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("device identity required"))
		return
	}
	pathID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || pathID != callerID {
		respondError(w, http.StatusForbidden, errors.New("devices may only check for themselves"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	pending, err := a.scheduler.CheckPending(ctx, callerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if pending == nil {
		updateChecksTotal.WithLabelValues("none").Inc()
		respondJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}

	updateChecksTotal.WithLabelValues("eligible").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (a *API) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerDeviceID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("device identity required"))
		return
	}
	updateID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid update id is required"))
		return
	}

	var req struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, errors.New("status is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rollout, err := a.scheduler.ReportStatus(ctx, callerID, updateID, req.Status, req.ErrorMessage)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	a.publishJSON(r.Context(), rolloutStatusTopic, map[string]any{
		"rollout_id": rollout.ID,
		"device_id":  rollout.DeviceID,
		"update_id":  rollout.UpdateID,
		"status":     rollout.Status,
	})

	respondJSON(w, http.StatusOK, map[string]any{"rollout": rollout})
}
