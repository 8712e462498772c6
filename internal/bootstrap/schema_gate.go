package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/finbridge/payhub/internal/migration"
	"gorm.io/gorm"
)

var (
	ErrSchemaStateInactive    = errors.New("schema_state_inactive")
	ErrSchemaVersionMismatch  = errors.New("schema_version_mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema_checksum_mismatch")
)

type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

// schemaGate compares the migrate command's bookkeeping row with what this
// binary embeds.
type schemaGate struct {
	db       *gorm.DB
	version  uint
	checksum string
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires a database handle")
	}
	version, err := migration.LatestMigrationVersion()
	if err != nil {
		return nil, fmt.Errorf("schema gate: %w", err)
	}
	checksum, err := migration.MigrationsChecksum()
	if err != nil {
		return nil, fmt.Errorf("schema gate: %w", err)
	}
	return &schemaGate{db: db, version: version, checksum: checksum}, nil
}

// MustBeActive refuses to serve against a database the migrate command has
// not brought to the embedded schema.
func (g *schemaGate) MustBeActive(ctx context.Context) error {
	state, err := migration.LoadSchemaState(ctx, g.db)
	if err != nil {
		return fmt.Errorf("%w: run the migrate command first", err)
	}
	if state.Status != migration.StatusActive {
		return fmt.Errorf("%w: status=%s", ErrSchemaStateInactive, state.Status)
	}
	if err := g.compareVersion(state.SchemaVersion); err != nil {
		return err
	}

	// A row written before checksums were recorded only has to match on version.
	stored := ""
	if state.Checksum != nil {
		stored = strings.TrimSpace(*state.Checksum)
	}
	if stored != "" && stored != g.checksum {
		return fmt.Errorf("%w: database=%s binary=%s", ErrSchemaChecksumMismatch, stored, g.checksum)
	}
	return nil
}

func (g *schemaGate) compareVersion(stored string) error {
	have, err := strconv.ParseUint(strings.TrimSpace(stored), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unreadable version %q", ErrSchemaVersionMismatch, stored)
	}
	switch {
	case uint(have) < g.version:
		return fmt.Errorf("%w: database at %d, binary needs %d; run migrate", ErrSchemaVersionMismatch, have, g.version)
	case uint(have) > g.version:
		return fmt.Errorf("%w: database at %d is newer than this binary (%d)", ErrSchemaVersionMismatch, have, g.version)
	}
	return nil
}
