package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/finbridge/payhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewClientDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client, err := NewClient(lc, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)
	lc.RequireStart().RequireStop()
}

func TestNewClientPingsOnStart(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{Redis: config.RedisConfig{Enabled: true, Addr: mr.Addr()}}

	lc := fxtest.NewLifecycle(t)
	client, err := NewClient(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, client)
	lc.RequireStart()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	lc.RequireStop()
}

func TestNewClientFailsStartWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	lc := fxtest.NewLifecycle(t)
	_, err := NewClient(lc, config.Config{Redis: config.RedisConfig{Enabled: true, Addr: addr}}, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, lc.Start(context.Background()))
}
