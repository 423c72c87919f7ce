package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type deviceModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	DisplayName    string            `gorm:"type:text"`
	RegisteredAt   time.Time         `gorm:"type:timestamptz;not null"`
	LastSeenAt     time.Time         `gorm:"type:timestamptz;not null;index"`
	CurrentVersion string            `gorm:"type:text"`
	Timezone       string            `gorm:"type:text;not null"`
	Status         string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
}

func (deviceModel) TableName() string { return "devices" }

func (m deviceModel) toAPI() Device {
	return Device{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		RegisteredAt:   m.RegisteredAt,
		LastSeenAt:     m.LastSeenAt,
		CurrentVersion: m.CurrentVersion,
		Timezone:       m.Timezone,
		Status:         m.Status,
		Metadata:       mapFromJSONMap(m.Metadata),
	}
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
