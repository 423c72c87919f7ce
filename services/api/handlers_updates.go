package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shreyashguptas/javia-sub000/services/scheduler"
)

// maxPackageSize bounds the multipart upload; update archives for the device
// are small application bundles, not OS images.
const maxPackageSize = 512 << 20

func (a *API) handleCreateUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPackageSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	version := strings.TrimSpace(r.FormValue("version"))
	if version == "" {
		respondError(w, http.StatusBadRequest, errors.New("version is required"))
		return
	}

	requiresSystemPackages := false
	if v := strings.TrimSpace(r.FormValue("requires_system_packages")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("requires_system_packages must be a boolean"))
			return
		}
		requiresSystemPackages = parsed
	}

	var systemPackages []string
	for _, name := range strings.Split(r.FormValue("system_packages"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			systemPackages = append(systemPackages, name)
		}
	}

	file, _, err := r.FormFile("package")
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("package file is required"))
		return
	}
	defer file.Close()

	update, err := a.scheduler.CreateUpdate(r.Context(), scheduler.CreateUpdateParams{
		Version:                version,
		Description:            strings.TrimSpace(r.FormValue("description")),
		Policy:                 r.FormValue("policy"),
		RequiresSystemPackages: requiresSystemPackages,
		SystemPackages:         systemPackages,
		Package:                file,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrDuplicateVersion) || errors.Is(err, scheduler.ErrVersionOrderViolation) {
			respondDomainError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err)
		return
	}

	updatesCreatedTotal.WithLabelValues(string(update.Policy)).Inc()
	a.publishJSON(r.Context(), updateCreatedTopic, map[string]any{
		"update_id": update.ID,
		"version":   update.Version,
		"policy":    update.Policy,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"update": update})
}

func (a *API) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	updates, err := a.scheduler.ListUpdates(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

func (a *API) handleGetUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid update id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	update, err := a.scheduler.GetUpdate(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rollouts, err := a.scheduler.ListRollouts(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	packageURL, err := a.scheduler.PresignPackage(ctx, id, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign package: %w", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"update":      update,
		"rollouts":    rollouts,
		"package_url": packageURL,
	})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerDeviceID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("device identity required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid update id is required"))
		return
	}

	// Downloads require a registered caller but deliberately not a rollout
	// row, so a device can retry after losing local state.
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	if _, err := a.registry.Get(ctx, callerID); err != nil {
		respondDomainError(w, err)
		return
	}

	body, size, err := a.scheduler.OpenPackage(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer body.Close()

	packageDownloadsTotal.Inc()

	w.Header().Set("Content-Type", "application/zstd")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, body)
}
