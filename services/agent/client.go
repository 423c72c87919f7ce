package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const deviceIDHeader = "X-Javia-Device"

// Client talks to the fleet control plane on behalf of one device.
type Client struct {
	base     string
	deviceID uuid.UUID
	http     *http.Client
	download *http.Client
}

// NewClient creates a Client for the given API base URL and device identity.
func NewClient(base string, deviceID uuid.UUID) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	if deviceID == uuid.Nil {
		return nil, errors.New("device id is required")
	}
	return &Client{
		base:     base,
		deviceID: deviceID,
		http:     &http.Client{Timeout: 15 * time.Second},
		// Downloads get a generous but bounded budget so a stalled transfer
		// fails instead of hanging the update cycle forever.
		download: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// PendingUpdate mirrors the server's check response.
type PendingUpdate struct {
	Rollout RolloutInfo `json:"rollout"`
	Update  UpdateInfo  `json:"update"`
}

// RolloutInfo is the slice of the rollout row the agent acts on.
type RolloutInfo struct {
	ID       uuid.UUID `json:"id"`
	UpdateID uuid.UUID `json:"update_id"`
	Status   string    `json:"status"`
}

// UpdateInfo describes the package the agent is being offered.
type UpdateInfo struct {
	ID                     uuid.UUID `json:"id"`
	Version                string    `json:"version"`
	Description            string    `json:"description"`
	Policy                 string    `json:"policy"`
	RequiresSystemPackages bool      `json:"requires_system_packages"`
	SystemPackages         []string  `json:"system_packages"`
	PackageSHA256          string    `json:"package_sha256"`
	PackageSize            int64     `json:"package_size"`
	Signature              string    `json:"signature"`
}

// Register enrolls (or re-enrolls) the device. Safe to call on every startup.
func (c *Client) Register(ctx context.Context, displayName, timezone string, metadata map[string]any) error {
	payload := map[string]any{
		"device_id":    c.deviceID,
		"display_name": displayName,
		"timezone":     timezone,
		"metadata":     metadata,
	}
	return c.postJSON(ctx, "/v1/devices/register", payload, nil)
}

// Heartbeat reports liveness and the currently running version.
func (c *Client) Heartbeat(ctx context.Context, currentVersion string, metadata map[string]any) error {
	payload := map[string]any{
		"current_version": currentVersion,
		"metadata":        metadata,
	}
	path := fmt.Sprintf("/v1/devices/%s/heartbeat", c.deviceID)
	return c.postJSON(ctx, path, payload, nil)
}

// CheckPending asks the server for the one rollout this device should act on
// now. A nil result means nothing is eligible.
func (c *Client) CheckPending(ctx context.Context) (*PendingUpdate, error) {
	path := fmt.Sprintf("/v1/devices/%s/updates/check", c.deviceID)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}

	var body struct {
		Pending *PendingUpdate `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	return body.Pending, nil
}

// ReportStatus reports a rollout transition for this device.
func (c *Client) ReportStatus(ctx context.Context, updateID uuid.UUID, status, errorMessage string) error {
	payload := map[string]any{
		"status":        status,
		"error_message": errorMessage,
	}
	path := fmt.Sprintf("/v1/updates/%s/status", updateID)
	return c.postJSON(ctx, path, payload, nil)
}

// Download streams the package for updateID into w and returns the number of
// bytes written plus the server-declared content length (-1 when unknown).
func (c *Client) Download(ctx context.Context, updateID uuid.UUID, w io.Writer) (written, declared int64, err error) {
	path := fmt.Sprintf("/v1/updates/%s/download", updateID)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("download package: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return 0, 0, fmt.Errorf("download package: %w", err)
	}

	written, err = io.Copy(w, resp.Body)
	if err != nil {
		return written, resp.ContentLength, fmt.Errorf("stream package: %w", err)
	}
	return written, resp.ContentLength, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(deviceIDHeader, c.deviceID.String())
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
