package adminctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shreyashguptas/javia-sub000/pkg/archive"
)

const adminTokenHeader = "X-Admin-Token"

// Client is an authenticated admin client for the fleet API.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient builds a Client from the given configuration.
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Update mirrors the server's update resource.
type Update struct {
	ID                     uuid.UUID `json:"id"`
	Version                string    `json:"version"`
	Description            string    `json:"description"`
	Policy                 string    `json:"policy"`
	RequiresSystemPackages bool      `json:"requires_system_packages"`
	SystemPackages         []string  `json:"system_packages"`
	PackageSHA256          string    `json:"package_sha256"`
	PackageSize            int64     `json:"package_size"`
	CreatedAt              time.Time `json:"created_at"`
}

// Rollout mirrors the server's per-device rollout row.
type Rollout struct {
	ID           uuid.UUID  `json:"id"`
	DeviceID     uuid.UUID  `json:"device_id"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage string     `json:"error_message"`
}

// UpdateDetail is an update plus its rollout progress.
type UpdateDetail struct {
	Update     Update    `json:"update"`
	Rollouts   []Rollout `json:"rollouts"`
	PackageURL string    `json:"package_url"`
}

// Device mirrors the server's device resource.
type Device struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"display_name"`
	CurrentVersion string    `json:"current_version"`
	Timezone       string    `json:"timezone"`
	Status         string    `json:"status"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// CreateUpdateInput describes a new update release. Exactly one of
// PackagePath (a prebuilt tar.zst) or SourceDir (a directory to pack) must be
// set.
type CreateUpdateInput struct {
	Version                string
	Description            string
	Policy                 string
	RequiresSystemPackages bool
	SystemPackages         []string
	PackagePath            string
	SourceDir              string
}

// CreateUpdate packs the package if needed and publishes the update.
func (c *Client) CreateUpdate(ctx context.Context, in CreateUpdateInput) (Update, error) {
	packagePath := in.PackagePath
	if in.SourceDir != "" {
		if packagePath != "" {
			return Update{}, errors.New("set either a package file or a source directory, not both")
		}
		packed, cleanup, err := packDirectory(in.SourceDir)
		if err != nil {
			return Update{}, err
		}
		defer cleanup()
		packagePath = packed
	}
	if packagePath == "" {
		return Update{}, errors.New("a package file or source directory is required")
	}

	f, err := os.Open(packagePath)
	if err != nil {
		return Update{}, fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := writeCreateForm(form, in, f)
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.API+"/v1/updates/create", pr)
	if err != nil {
		return Update{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set(adminTokenHeader, c.config.AdminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return Update{}, fmt.Errorf("create update: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Update Update `json:"update"`
	}
	if err := decodeResponse(resp, &body); err != nil {
		return Update{}, fmt.Errorf("create update: %w", err)
	}
	return body.Update, nil
}

// ListUpdates returns all published updates, newest first.
func (c *Client) ListUpdates(ctx context.Context) ([]Update, error) {
	var body struct {
		Updates []Update `json:"updates"`
	}
	if err := c.getJSON(ctx, "/v1/updates/", &body); err != nil {
		return nil, err
	}
	return body.Updates, nil
}

// GetUpdate returns one update with its per-device rollout progress.
func (c *Client) GetUpdate(ctx context.Context, id uuid.UUID) (UpdateDetail, error) {
	var body UpdateDetail
	if err := c.getJSON(ctx, "/v1/updates/"+id.String(), &body); err != nil {
		return UpdateDetail{}, err
	}
	return body, nil
}

// ListDevices returns the registered fleet.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var body struct {
		Devices []Device `json:"devices"`
	}
	if err := c.getJSON(ctx, "/v1/devices/", &body); err != nil {
		return nil, err
	}
	return body.Devices, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.API+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(adminTokenHeader, c.config.AdminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, dest)
}

func writeCreateForm(form *multipart.Writer, in CreateUpdateInput, pkg io.Reader) error {
	fields := map[string]string{
		"version":                  in.Version,
		"description":              in.Description,
		"policy":                   in.Policy,
		"requires_system_packages": strconv.FormatBool(in.RequiresSystemPackages),
		"system_packages":          strings.Join(in.SystemPackages, ","),
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	part, err := form.CreateFormFile("package", "package.tar.zst")
	if err != nil {
		return fmt.Errorf("create package part: %w", err)
	}
	if _, err := io.Copy(part, pkg); err != nil {
		return fmt.Errorf("stream package: %w", err)
	}
	return nil
}

func packDirectory(dir string) (path string, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "javiactl-package-*.tar.zst")
	if err != nil {
		return "", nil, fmt.Errorf("create temp package: %w", err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }

	if err := archive.Pack(tmp, dir); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("pack %s: %w", dir, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("flush temp package: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func decodeResponse(resp *http.Response, dest any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if dest == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
