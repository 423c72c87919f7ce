// Package registry maintains the durable record of every known device: who
// has enrolled, what version it runs, and when it was last heard from.
// Liveness is derived from last_seen_at rather than stored; the persisted
// status column is a best-effort classification for operators.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shreyashguptas/javia-sub000/pkg/db"
)

const (
	// HeartbeatInterval is the cadence agents report on. A device is
	// considered recently active within one interval of its last heartbeat.
	HeartbeatInterval = 300 * time.Second

	// OfflineAfter is the best-effort threshold for marking a silent device
	// offline: twice the heartbeat cadence.
	OfflineAfter = 2 * HeartbeatInterval
)

const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusUpdating = "updating"
)

// ErrUnknownDevice is returned for calls referencing a device id that never
// registered.
var ErrUnknownDevice = errors.New("UnknownDevice")

// Device is one registered edge client.
type Device struct {
	ID             uuid.UUID      `json:"id"`
	DisplayName    string         `json:"display_name"`
	RegisteredAt   time.Time      `json:"registered_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
	CurrentVersion string         `json:"current_version"`
	Timezone       string         `json:"timezone"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata"`
	RecentlyActive bool           `json:"recently_active"`
}

// Registry provides device registration and heartbeat bookkeeping.
type Registry struct {
	orm   *gorm.DB
	pool  *pgxpool.Pool
	clock clock.Clock
}

// New creates a Registry bound to the provided database handles.
func New(orm *gorm.DB, pool *pgxpool.Pool, clk clock.Clock) (*Registry, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Registry{orm: orm, pool: pool, clock: clk}, nil
}

// RegisterParams carries the device-supplied enrollment fields.
type RegisterParams struct {
	DeviceID    uuid.UUID
	DisplayName string
	Timezone    string
	Metadata    map[string]any
}

// Register upserts a device record. Unknown devices are created online;
// known devices only have their timezone, display name, and metadata
// refreshed. Registration never fails on a duplicate id and never resets
// current_version.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (Device, error) {
	if p.DeviceID == uuid.Nil {
		return Device{}, errors.New("device id is required")
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return Device{}, errors.New("invalid timezone")
	}

	now := r.clock.Now().UTC()

	var model deviceModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", p.DeviceID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		model = deviceModel{
			ID:           p.DeviceID,
			DisplayName:  p.DisplayName,
			RegisteredAt: now,
			LastSeenAt:   now,
			Timezone:     p.Timezone,
			Status:       StatusOnline,
			Metadata:     toJSONMap(p.Metadata),
		}
		if err := r.orm.WithContext(ctx).Create(&model).Error; err != nil {
			return Device{}, err
		}
	case err != nil:
		return Device{}, err
	default:
		updates := map[string]any{
			"timezone": p.Timezone,
			"metadata": mergeMetadata(model.Metadata, p.Metadata),
		}
		if p.DisplayName != "" {
			updates["display_name"] = p.DisplayName
		}
		if err := r.orm.WithContext(ctx).Model(&model).Updates(updates).Error; err != nil {
			return Device{}, err
		}
		if err := r.orm.WithContext(ctx).First(&model, "id = ?", model.ID).Error; err != nil {
			return Device{}, err
		}
	}

	return r.withLiveness(model.toAPI()), nil
}

// HeartbeatParams carries a periodic liveness report.
type HeartbeatParams struct {
	DeviceID       uuid.UUID
	CurrentVersion string
	Metadata       map[string]any
}

// Heartbeat records a liveness report for an already-registered device.
// last_seen_at is monotonically non-decreasing; a device mid-rollout keeps its
// updating status until the rollout resolves.
func (r *Registry) Heartbeat(ctx context.Context, p HeartbeatParams) (Device, error) {
	if p.DeviceID == uuid.Nil {
		return Device{}, ErrUnknownDevice
	}

	var model deviceModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", p.DeviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrUnknownDevice
	}
	if err != nil {
		return Device{}, err
	}

	now := r.clock.Now().UTC()
	lastSeen := model.LastSeenAt
	if now.After(lastSeen) {
		lastSeen = now
	}

	status := StatusOnline
	if model.Status == StatusUpdating {
		status = StatusUpdating
	}

	updates := map[string]any{
		"last_seen_at": lastSeen,
		"status":       status,
		"metadata":     mergeMetadata(model.Metadata, p.Metadata),
	}
	if p.CurrentVersion != "" {
		updates["current_version"] = p.CurrentVersion
	}

	if err := r.orm.WithContext(ctx).Model(&model).Updates(updates).Error; err != nil {
		return Device{}, err
	}
	if err := r.orm.WithContext(ctx).First(&model, "id = ?", model.ID).Error; err != nil {
		return Device{}, err
	}

	return r.withLiveness(model.toAPI()), nil
}

// Get returns a single device record.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (Device, error) {
	var model deviceModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrUnknownDevice
	}
	if err != nil {
		return Device{}, err
	}
	return r.withLiveness(model.toAPI()), nil
}

// SetStatus overwrites the stored status classification for a device. The
// rollout scheduler uses it to flip devices between updating and online as
// their rollouts progress.
func (r *Registry) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	res := r.orm.WithContext(ctx).
		Model(&deviceModel{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownDevice
	}
	return nil
}

type deviceRow struct {
	ID             uuid.UUID `db:"id"`
	DisplayName    string    `db:"display_name"`
	RegisteredAt   time.Time `db:"registered_at"`
	LastSeenAt     time.Time `db:"last_seen_at"`
	CurrentVersion string    `db:"current_version"`
	Timezone       string    `db:"timezone"`
	Status         string    `db:"status"`
}

// List returns all devices ordered by registration id. Device ids are
// time-sortable, so id order is enrollment order.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	var rows []deviceRow
	err := db.Select(ctx, r.pool, &rows, `
        SELECT id, display_name, registered_at, last_seen_at, current_version, timezone, status
        FROM devices
        ORDER BY id
    `)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, r.withLiveness(Device{
			ID:             row.ID,
			DisplayName:    row.DisplayName,
			RegisteredAt:   row.RegisteredAt,
			LastSeenAt:     row.LastSeenAt,
			CurrentVersion: row.CurrentVersion,
			Timezone:       row.Timezone,
			Status:         row.Status,
			Metadata:       map[string]any{},
		}))
	}
	return devices, nil
}

// MarkStaleOffline flips online devices that have been silent longer than
// OfflineAfter to offline. The sweep is best-effort classification only;
// rollout targeting never reads the stored status.
func (r *Registry) MarkStaleOffline(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().UTC().Add(-OfflineAfter)
	tag, err := db.Exec(ctx, r.pool, `
        UPDATE devices SET status = $1
        WHERE status = $2 AND last_seen_at < $3
    `, StatusOffline, StatusOnline, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Registry) withLiveness(d Device) Device {
	d.RecentlyActive = r.clock.Now().UTC().Sub(d.LastSeenAt) <= HeartbeatInterval
	return d
}

func mergeMetadata(existing datatypes.JSONMap, incoming map[string]any) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
