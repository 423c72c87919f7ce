package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shreyashguptas/javia-sub000/services/registry"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerDeviceID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("device identity required"))
		return
	}

	var req struct {
		DeviceID    uuid.UUID      `json:"device_id"`
		DisplayName string         `json:"display_name"`
		Timezone    string         `json:"timezone"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.DeviceID != uuid.Nil && req.DeviceID != callerID {
		respondError(w, http.StatusForbidden, errors.New("device_id does not match caller identity"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	device, err := a.registry.Register(ctx, registry.RegisterParams{
		DeviceID:    callerID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Timezone:    strings.TrimSpace(req.Timezone),
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			respondDomainError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err)
		return
	}

	registrationsTotal.Inc()
	a.publishJSON(r.Context(), registeredTopic, map[string]any{
		"device_id": device.ID,
		"timezone":  device.Timezone,
	})

	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerDeviceID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("device identity required"))
		return
	}
	pathID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || pathID != callerID {
		respondError(w, http.StatusForbidden, errors.New("devices may only report for themselves"))
		return
	}

	var req struct {
		CurrentVersion string         `json:"current_version"`
		Metadata       map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	device, err := a.registry.Heartbeat(ctx, registry.HeartbeatParams{
		DeviceID:       callerID,
		CurrentVersion: strings.TrimSpace(req.CurrentVersion),
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	heartbeatsTotal.Inc()
	a.publishJSON(r.Context(), heartbeatTopic, map[string]any{
		"device_id":       device.ID,
		"current_version": device.CurrentVersion,
		"last_seen_at":    device.LastSeenAt,
	})

	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid device id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	device, err := a.registry.Get(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	devices, err := a.registry.List(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
