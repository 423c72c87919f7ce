package scheduler

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type updateModel struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	Version                string                      `gorm:"type:text;uniqueIndex;not null"`
	Description            string                      `gorm:"type:text"`
	Policy                 string                      `gorm:"type:text;not null"`
	RequiresSystemPackages bool                        `gorm:"type:boolean;not null"`
	SystemPackages         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	PackageKey             string                      `gorm:"type:text;not null"`
	PackageSHA256          string                      `gorm:"type:text;not null"`
	PackageSize            int64                       `gorm:"type:bigint;not null"`
	Signature              string                      `gorm:"type:text"`
	CreatedAt              time.Time                   `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (updateModel) TableName() string { return "updates" }

func (m updateModel) toAPI() Update {
	return Update{
		ID:                     m.ID,
		Version:                m.Version,
		Description:            m.Description,
		Policy:                 Policy(m.Policy),
		RequiresSystemPackages: m.RequiresSystemPackages,
		SystemPackages:         []string(m.SystemPackages),
		PackageSHA256:          m.PackageSHA256,
		PackageSize:            m.PackageSize,
		Signature:              m.Signature,
		CreatedAt:              m.CreatedAt,
	}
}

type rolloutModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DeviceID     uuid.UUID  `gorm:"type:uuid;not null"`
	UpdateID     uuid.UUID  `gorm:"type:uuid;not null"`
	Status       string     `gorm:"type:text;not null"`
	ScheduledFor *time.Time `gorm:"type:timestamptz"`
	StartedAt    *time.Time `gorm:"type:timestamptz"`
	CompletedAt  *time.Time `gorm:"type:timestamptz"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (rolloutModel) TableName() string { return "rollouts" }

func (m rolloutModel) toAPI() Rollout {
	return Rollout{
		ID:           m.ID,
		DeviceID:     m.DeviceID,
		UpdateID:     m.UpdateID,
		Status:       m.Status,
		ScheduledFor: m.ScheduledFor,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

// Update is an immutable, versioned software package plus its rollout policy.
type Update struct {
	ID                     uuid.UUID `json:"id"`
	Version                string    `json:"version"`
	Description            string    `json:"description"`
	Policy                 Policy    `json:"policy"`
	RequiresSystemPackages bool      `json:"requires_system_packages"`
	SystemPackages         []string  `json:"system_packages"`
	PackageSHA256          string    `json:"package_sha256"`
	PackageSize            int64     `json:"package_size"`
	Signature              string    `json:"signature,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Rollout tracks one update's delivery to one device.
type Rollout struct {
	ID           uuid.UUID  `json:"id"`
	DeviceID     uuid.UUID  `json:"device_id"`
	UpdateID     uuid.UUID  `json:"update_id"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PendingUpdate pairs an eligible rollout with its update so an agent has
// everything needed to download and verify the package.
type PendingUpdate struct {
	Rollout Rollout `json:"rollout"`
	Update  Update  `json:"update"`
}
