package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PanGan21/verifiable-storage/internal/config"
)

func TestLoadDefaultsToFilesystemBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.BackendFilesystem, cfg.StorageBackend)
	require.Equal(t, "server_data", cfg.DataDir)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "nope")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRequiresDatabaseURLForDatabaseBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "db")
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestEnvOverridesReplayWindowDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "fs")
	t.Setenv("REPLAY_MAX_AGE_SECONDS", "120")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 120, int(cfg.ReplayMaxAge.Seconds()))
}
