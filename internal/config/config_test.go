package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv(configDirEnv, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "manholedex.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "backups", cfg.BackupDir)
	assert.Equal(t, "standard", cfg.CompressionTier)
	assert.Equal(t, "manhole", cfg.PrimaryAppKey)
	assert.Equal(t, "companion", cfg.SecondaryAppKey)
	assert.Empty(t, cfg.LicenseKeys)
}

func TestLoadCustomValues(t *testing.T) {
	t.Setenv("DB_PATH", "/custom/db.sqlite")
	t.Setenv("COMPRESSION_TIER", "low")
	t.Setenv("LICENSE_KEYS", "MH-1, MH-2")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "/custom/db.sqlite", cfg.DBPath)
	assert.Equal(t, "low", cfg.CompressionTier)
	assert.Equal(t, []string{"MH-1", "MH-2"}, cfg.LicenseKeys)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `db_path: /data/catalog.db
log_level: debug
backup_dir: /data/backups
friend_codes:
  - pal
  - buddy
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "/data/catalog.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel, "environment overrides the file")
	assert.Equal(t, "/data/backups", cfg.BackupDir)
	assert.Equal(t, []string{"pal", "buddy"}, cfg.FriendCodes)
}

func TestLoadInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("db_path: [unclosed"), 0644))

	_, err := LoadFrom(dir)
	assert.Error(t, err)
}
