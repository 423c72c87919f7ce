// Package scheduler owns the update catalog and the per-device rollout
// records: fan-out at update creation, eligibility at check time, and status
// transition enforcement as devices report progress.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"gorm.io/gorm"

	"github.com/shreyashguptas/javia-sub000/pkg/db"
	"github.com/shreyashguptas/javia-sub000/pkg/pkgsign"
	gos3 "github.com/shreyashguptas/javia-sub000/pkg/s3"
	"github.com/shreyashguptas/javia-sub000/services/registry"
)

// Config controls scheduler behaviour.
type Config struct {
	PackageBucket   string
	WindowStartHour int
	WindowLength    time.Duration
}

// Scheduler coordinates updates and rollouts for the whole fleet.
type Scheduler struct {
	orm      *gorm.DB
	pool     *pgxpool.Pool
	blobs    *gos3.Client
	registry *registry.Registry
	signer   *pkgsign.Signer
	clock    clock.Clock
	config   Config
}

// New creates a Scheduler. The signer is optional; without it packages are
// stored unsigned.
func New(orm *gorm.DB, pool *pgxpool.Pool, blobs *gos3.Client, reg *registry.Registry, signer *pkgsign.Signer, clk clock.Clock, cfg Config) (*Scheduler, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if blobs == nil {
		return nil, errors.New("blob client is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.PackageBucket == "" {
		return nil, errors.New("package bucket is required")
	}
	if cfg.WindowStartHour == 0 {
		cfg.WindowStartHour = DefaultWindowStartHour
	}
	if cfg.WindowLength <= 0 {
		cfg.WindowLength = DefaultWindowLength
	}

	return &Scheduler{
		orm:      orm,
		pool:     pool,
		blobs:    blobs,
		registry: reg,
		signer:   signer,
		clock:    clk,
		config:   cfg,
	}, nil
}

// CreateUpdateParams carries the admin-supplied fields for a new update.
type CreateUpdateParams struct {
	Version                string
	Description            string
	Policy                 string
	RequiresSystemPackages bool
	SystemPackages         []string
	Package                io.Reader
}

// CreateUpdate validates the version ordering, stores the package blob, and
// atomically inserts the update row plus one rollout row per target device.
// Validation failures happen before any side effect: a rejected version
// stores no blob and creates no rows.
func (s *Scheduler) CreateUpdate(ctx context.Context, p CreateUpdateParams) (Update, error) {
	policy, err := ParsePolicy(p.Policy)
	if err != nil {
		return Update{}, err
	}
	candidate, err := parseVersion(p.Version)
	if err != nil {
		return Update{}, err
	}
	if p.Package == nil {
		return Update{}, errors.New("package payload is required")
	}

	var existing []string
	if err := s.orm.WithContext(ctx).Model(&updateModel{}).Pluck("version", &existing).Error; err != nil {
		return Update{}, err
	}
	if err := checkVersionAdvances(candidate, existing); err != nil {
		return Update{}, err
	}

	spooled, size, digest, err := spoolPackage(p.Package)
	if err != nil {
		return Update{}, err
	}
	defer func() {
		spooled.Close()
		os.Remove(spooled.Name())
	}()
	if size == 0 {
		return Update{}, errors.New("package payload is empty")
	}

	signature := ""
	if s.signer.CanSign() {
		signature, err = s.signer.SignDigest(digest)
		if err != nil {
			return Update{}, fmt.Errorf("sign package digest: %w", err)
		}
	}

	now := s.clock.Now().UTC()
	updateID := uuid.New()
	key := packageKey(updateID)

	if err := s.blobs.PutObject(ctx, s.config.PackageBucket, key, spooled, size, digest); err != nil {
		return Update{}, fmt.Errorf("store package blob: %w", err)
	}

	devices, err := s.registry.List(ctx)
	if err != nil {
		return Update{}, err
	}
	targets := fanOutTargets(policy, devices, now)

	model := updateModel{
		ID:                     updateID,
		Version:                candidate.String(),
		Description:            p.Description,
		Policy:                 string(policy),
		RequiresSystemPackages: p.RequiresSystemPackages,
		SystemPackages:         p.SystemPackages,
		PackageKey:             key,
		PackageSHA256:          digest,
		PackageSize:            size,
		Signature:              signature,
		CreatedAt:              now,
	}

	err = s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}
		rollouts := make([]rolloutModel, 0, len(targets))
		for _, d := range targets {
			rollout := rolloutModel{
				ID:        uuid.New(),
				DeviceID:  d.ID,
				UpdateID:  updateID,
				Status:    StatusPending,
				CreatedAt: now,
			}
			if policy == PolicyScheduled {
				window := nextMaintenanceWindow(d.Timezone, now, s.config.WindowStartHour)
				rollout.ScheduledFor = &window
			}
			rollouts = append(rollouts, rollout)
		}
		return tx.CreateInBatches(&rollouts, 200).Error
	})
	if err != nil {
		return Update{}, err
	}

	return model.toAPI(), nil
}

// CheckPending returns the single rollout the device should act on now, or
// nil when nothing is eligible. While any rollout for the device is in flight
// nothing is returned: devices install serially.
func (s *Scheduler) CheckPending(ctx context.Context, deviceID uuid.UUID) (*PendingUpdate, error) {
	device, err := s.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	var rollouts []rolloutModel
	err = s.orm.WithContext(ctx).
		Where("device_id = ? AND status IN ?", deviceID, []string{StatusPending, StatusDownloading, StatusInstalling}).
		Find(&rollouts).Error
	if err != nil {
		return nil, err
	}
	if len(rollouts) == 0 {
		return nil, nil
	}

	updateIDs := make([]uuid.UUID, 0, len(rollouts))
	for _, r := range rollouts {
		if InFlight(r.Status) {
			return nil, nil
		}
		updateIDs = append(updateIDs, r.UpdateID)
	}

	var updates []updateModel
	if err := s.orm.WithContext(ctx).Where("id IN ?", updateIDs).Find(&updates).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]updateModel, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}

	pending := make([]PendingUpdate, 0, len(rollouts))
	for _, r := range rollouts {
		u, ok := byID[r.UpdateID]
		if !ok {
			continue
		}
		pending = append(pending, PendingUpdate{Rollout: r.toAPI(), Update: u.toAPI()})
	}

	now := s.clock.Now().UTC()
	return pickEligible(pending, device.Timezone, now, s.config.WindowStartHour, s.config.WindowLength), nil
}

// ReportStatus applies a device-reported rollout transition. Only
// pending→downloading→installing→{completed|failed} is legal; anything else
// fails with ErrInvalidTransition and leaves the row unchanged. Completing a
// rollout never touches the device's current_version: the next heartbeat
// carries the running version.
func (s *Scheduler) ReportStatus(ctx context.Context, deviceID, updateID uuid.UUID, status, errorMessage string) (Rollout, error) {
	switch status {
	case StatusDownloading, StatusInstalling, StatusCompleted, StatusFailed:
	default:
		return Rollout{}, ErrInvalidTransition
	}

	var model rolloutModel
	err := s.orm.WithContext(ctx).
		Where("device_id = ? AND update_id = ?", deviceID, updateID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rollout{}, ErrUnknownRollout
	}
	if err != nil {
		return Rollout{}, err
	}

	if !transitionAllowed(model.Status, status) {
		return Rollout{}, ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	model.Status = status
	switch status {
	case StatusDownloading:
		model.StartedAt = &now
	case StatusCompleted:
		model.CompletedAt = &now
	case StatusFailed:
		model.CompletedAt = &now
		model.ErrorMessage = errorMessage
	}

	if err := s.orm.WithContext(ctx).Save(&model).Error; err != nil {
		return Rollout{}, err
	}

	// Mirror the rollout phase onto the device's status classification.
	switch status {
	case StatusDownloading:
		err = s.registry.SetStatus(ctx, deviceID, registry.StatusUpdating)
	case StatusCompleted, StatusFailed:
		err = s.registry.SetStatus(ctx, deviceID, registry.StatusOnline)
	}
	if err != nil {
		return Rollout{}, err
	}

	return model.toAPI(), nil
}

// GetUpdate returns a single catalog entry.
func (s *Scheduler) GetUpdate(ctx context.Context, id uuid.UUID) (Update, error) {
	var model updateModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Update{}, ErrUnknownUpdate
	}
	if err != nil {
		return Update{}, err
	}
	return model.toAPI(), nil
}

type updateRow struct {
	ID            uuid.UUID `db:"id"`
	Version       string    `db:"version"`
	Description   string    `db:"description"`
	Policy        string    `db:"policy"`
	PackageSHA256 string    `db:"package_sha256"`
	PackageSize   int64     `db:"package_size"`
	CreatedAt     time.Time `db:"created_at"`
}

// ListUpdates returns the catalog newest-first.
func (s *Scheduler) ListUpdates(ctx context.Context) ([]Update, error) {
	var rows []updateRow
	err := db.Select(ctx, s.pool, &rows, `
        SELECT id, version, description, policy, package_sha256, package_size, created_at
        FROM updates
        ORDER BY created_at DESC
    `)
	if err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(rows))
	for _, row := range rows {
		updates = append(updates, Update{
			ID:            row.ID,
			Version:       row.Version,
			Description:   row.Description,
			Policy:        Policy(row.Policy),
			PackageSHA256: row.PackageSHA256,
			PackageSize:   row.PackageSize,
			CreatedAt:     row.CreatedAt,
		})
	}
	return updates, nil
}

// ListRollouts returns the audit trail for one update across all devices.
func (s *Scheduler) ListRollouts(ctx context.Context, updateID uuid.UUID) ([]Rollout, error) {
	var models []rolloutModel
	err := s.orm.WithContext(ctx).
		Where("update_id = ?", updateID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	rollouts := make([]Rollout, 0, len(models))
	for _, m := range models {
		rollouts = append(rollouts, m.toAPI())
	}
	return rollouts, nil
}

// OpenPackage opens the stored package blob for streaming. No rollout row is
// required so a device can retry a download even after bookkeeping was lost.
func (s *Scheduler) OpenPackage(ctx context.Context, updateID uuid.UUID) (io.ReadCloser, int64, error) {
	var model updateModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", updateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrUnknownUpdate
	}
	if err != nil {
		return nil, 0, err
	}
	return s.blobs.GetObject(ctx, s.config.PackageBucket, model.PackageKey)
}

// PresignPackage generates a short-lived URL for operators inspecting a
// stored package.
func (s *Scheduler) PresignPackage(ctx context.Context, updateID uuid.UUID, ttl time.Duration) (string, error) {
	var model updateModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", updateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUnknownUpdate
	}
	if err != nil {
		return "", err
	}
	return s.blobs.PresignGet(ctx, s.config.PackageBucket, model.PackageKey, ttl)
}

func packageKey(updateID uuid.UUID) string {
	return fmt.Sprintf("packages/%s.tar.zst", updateID)
}

// spoolPackage copies the payload to a temp file while hashing it, then
// rewinds the file for upload.
func spoolPackage(r io.Reader) (*os.File, int64, string, error) {
	f, err := os.CreateTemp("", "javia-package-*")
	if err != nil {
		return nil, 0, "", fmt.Errorf("spool package: %w", err)
	}

	h := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, h))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, 0, "", fmt.Errorf("spool package: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, 0, "", fmt.Errorf("rewind package: %w", err)
	}

	return f, size, hex.EncodeToString(h.Sum(nil)), nil
}
