package migration

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusInitializing = "initializing"
	StatusActive       = "active"
)

var ErrSchemaStateNotFound = errors.New("schema_state_not_found")

// SchemaState is the single row recording which embedded schema the database
// was last migrated to.
type SchemaState struct {
	ID            int        `gorm:"primaryKey;autoIncrement:false"`
	Status        string     `gorm:"type:varchar(16);not null"`
	SchemaVersion string     `gorm:"type:varchar(32);not null"`
	Checksum      *string    `gorm:"type:varchar(64)"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	CreatedAt     time.Time  `gorm:"not null"`
}

func (SchemaState) TableName() string { return "payhub_schema_state" }

const schemaStateID = 1

func activateSchemaState(ctx context.Context, db *gorm.DB, schemaVersion, checksum string) error {
	version := strings.TrimSpace(schemaVersion)
	if version == "" {
		return errors.New("schema version is required for state activation")
	}

	now := time.Now().UTC()
	state := SchemaState{
		ID:            schemaStateID,
		Status:        StatusActive,
		SchemaVersion: version,
		Checksum:      nullIfEmpty(checksum),
		ActivatedAt:   &now,
		CreatedAt:     now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "schema_version", "checksum", "activated_at"}),
	}).Create(&state).Error
}

// LoadSchemaState reads the state row written by the last migration run.
func LoadSchemaState(ctx context.Context, db *gorm.DB) (*SchemaState, error) {
	if db == nil {
		return nil, errors.New("schema state requires database handle")
	}
	var state SchemaState
	err := db.WithContext(ctx).Where("id = ?", schemaStateID).Take(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSchemaStateNotFound
		}
		return nil, err
	}
	state.Status = strings.ToLower(strings.TrimSpace(state.Status))
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	return &state, nil
}

func nullIfEmpty(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
