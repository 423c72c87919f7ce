package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDHeader carries the caller's self-generated device identity on
// device-facing endpoints.
const DeviceIDHeader = "X-Javia-Device"

// AdminTokenHeader carries the shared admin secret on operator endpoints.
const AdminTokenHeader = "X-Admin-Token"

type contextKey string

const deviceIDKey contextKey = "device_id"

// deviceAuth requires a parseable device id header and stashes it in the
// request context. Whether the id is actually registered is checked by the
// individual handlers, which need the record anyway.
func (a *API) deviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(DeviceIDHeader))
		if raw == "" {
			respondError(w, http.StatusUnauthorized, errors.New("device identity header required"))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, errors.New("invalid device identity"))
			return
		}
		ctx := context.WithValue(r.Context(), deviceIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth requires the shared admin secret.
func (a *API) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.config.AdminToken)) != 1 {
			respondError(w, http.StatusUnauthorized, errors.New("admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerDeviceID returns the authenticated device id from the context.
func callerDeviceID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(deviceIDKey).(uuid.UUID)
	return id, ok
}
