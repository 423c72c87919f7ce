package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.deviceAuth)
			r.Post("/devices/register", a.handleRegister)
			r.Post("/devices/{id}/heartbeat", a.handleHeartbeat)
			r.Get("/devices/{id}/updates/check", a.handleCheckPending)
			r.Get("/updates/{id}/download", a.handleDownload)
			r.Post("/updates/{id}/status", a.handleReportStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.adminAuth)
			r.Get("/devices/", a.handleListDevices)
			r.Get("/devices/{id}", a.handleGetDevice)
			r.Post("/updates/create", a.handleCreateUpdate)
			r.Get("/updates/", a.handleListUpdates)
			r.Get("/updates/{id}", a.handleGetUpdate)
		})
	})

	return r, nil
}
