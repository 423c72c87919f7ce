package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func okHandler(t *testing.T, wantDevice uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantDevice != uuid.Nil {
			id, ok := callerDeviceID(r.Context())
			if !ok || id != wantDevice {
				t.Errorf("callerDeviceID = %v, %v; want %v", id, ok, wantDevice)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestDeviceAuth(t *testing.T) {
	a := &API{}
	deviceID := uuid.New()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid id", header: deviceID.String(), wantStatus: http.StatusNoContent},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "malformed id", header: "not-a-uuid", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(DeviceIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			a.deviceAuth(okHandler(t, deviceID)).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	a := &API{config: Config{AdminToken: "sekrit"}}

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "valid token", token: "sekrit", wantStatus: http.StatusNoContent},
		{name: "wrong token", token: "guess", wantStatus: http.StatusUnauthorized},
		{name: "missing token", token: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set(AdminTokenHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			a.adminAuth(okHandler(t, uuid.Nil)).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
