package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Device struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	DisplayName    string            `gorm:"type:text"`
	RegisteredAt   time.Time         `gorm:"type:timestamptz;not null;default:now()"`
	LastSeenAt     time.Time         `gorm:"type:timestamptz;not null;default:now();index"`
	CurrentVersion string            `gorm:"type:text"`
	Timezone       string            `gorm:"type:text;not null"`
	Status         string            `gorm:"type:text;not null;default:'online'"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
}

type Update struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	Version                string                      `gorm:"type:text;uniqueIndex;not null"`
	Description            string                      `gorm:"type:text"`
	Policy                 string                      `gorm:"type:text;not null"`
	RequiresSystemPackages bool                        `gorm:"type:boolean;not null;default:false"`
	SystemPackages         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	PackageKey             string                      `gorm:"type:text;not null"`
	PackageSHA256          string                      `gorm:"type:text;not null"`
	PackageSize            int64                       `gorm:"type:bigint;not null"`
	Signature              string                      `gorm:"type:text"`
	CreatedAt              time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Rollout struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DeviceID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_rollouts_device_update;index"`
	UpdateID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_rollouts_device_update"`
	Status       string     `gorm:"type:text;not null;default:'pending';index"`
	ScheduledFor *time.Time `gorm:"type:timestamptz"`
	StartedAt    *time.Time `gorm:"type:timestamptz"`
	CompletedAt  *time.Time `gorm:"type:timestamptz"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Device       Device     `gorm:"foreignKey:DeviceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Update       Update     `gorm:"foreignKey:UpdateID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Device{},
		&Update{},
		&Rollout{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Rollout{}, "Device"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Rollout{}, "Update"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Rollout{},
		&Update{},
		&Device{},
	); err != nil {
		return err
	}

	return nil
}
