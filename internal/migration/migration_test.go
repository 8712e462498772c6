package migration

import (
	"context"
	"testing"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrations(t *testing.T) {
	version, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	first, err := MigrationsChecksum()
	require.NoError(t, err)
	second, err := MigrationsChecksum()
	require.NoError(t, err)
	assert.Len(t, first, 64)
	assert.Equal(t, first, second)

	v, ok := parseMigrationVersion("000012_add_index.up.sql")
	assert.True(t, ok)
	assert.Equal(t, uint(12), v)
	_, ok = parseMigrationVersion("latest.up.sql")
	assert.False(t, ok)
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = LoadSchemaState(ctx, db)
	assert.Error(t, err)

	require.NoError(t, Run(ctx, db, zap.NewNop()))
	require.NoError(t, Run(ctx, db, zap.NewNop()), "second run is a no-op")

	for _, model := range domain.Models() {
		assert.True(t, db.Migrator().HasTable(model))
	}

	state, err := LoadSchemaState(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "1", state.SchemaVersion)
	checksum, err := MigrationsChecksum()
	require.NoError(t, err)
	require.NotNil(t, state.Checksum)
	assert.Equal(t, checksum, *state.Checksum)
}
