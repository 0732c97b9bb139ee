package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
)

func TestSettingsStoreGet_CreatesDefaults(t *testing.T) {
	d := openTestDB(t)
	settings := NewSettingsStore(d, domain.TierLow, slog.Default())
	ctx := context.Background()

	got, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLow, got.CompressionTier)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Nil(t, got.LastBackupAt)
	assert.False(t, got.IsPremium())

	n, err := d.Count(ctx, db.Settings)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(again.CreatedAt))
}

func TestSettingsStoreGet_InvalidDefaultTierFallsBack(t *testing.T) {
	d := openTestDB(t)
	settings := NewSettingsStore(d, domain.CompressionTier("ultra"), slog.Default())

	got, err := settings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TierStandard, got.CompressionTier)
}

func TestSettingsStoreUpdate(t *testing.T) {
	d := openTestDB(t)
	settings := NewSettingsStore(d, domain.TierStandard, slog.Default())
	ctx := context.Background()

	current, err := settings.Get(ctx)
	require.NoError(t, err)

	activated := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	current.CompressionTier = domain.TierHigh
	current.Premium = &domain.Premium{Enabled: true, ActivatedAt: &activated, Key: "MH-KEY"}
	_, err = settings.Update(ctx, current)
	require.NoError(t, err)

	got, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TierHigh, got.CompressionTier)
	assert.True(t, got.IsPremium())
	require.NotNil(t, got.Premium.ActivatedAt)
	assert.True(t, activated.Equal(*got.Premium.ActivatedAt))
	assert.Equal(t, "MH-KEY", got.Premium.Key)
}

func TestSettingsStoreUpdate_RejectsInvalidTier(t *testing.T) {
	d := openTestDB(t)
	settings := NewSettingsStore(d, domain.TierStandard, slog.Default())

	_, err := settings.Update(context.Background(), &domain.Settings{CompressionTier: "ultra"})
	assert.Error(t, err)
}
