package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"embedded":         true,
		"state_db":         "/tmp/state.db",
		"legacy_db":        "/tmp/legacy",
		"entities":         []string{"patients"},
		"future_tolerance": 2000000000,
		"log_level":        "debug",
	})

	t.Run("overlays present keys only", func(t *testing.T) {
		cfg := &Config{DataDir: "/keep", DatabasePath: "/keep.db", FutureTolerance: time.Hour}
		require.NoError(t, parseJson(cfg, []string{"-config", path}))

		assert.True(t, cfg.Embedded)
		assert.Equal(t, "/tmp/state.db", cfg.StateDB)
		assert.Equal(t, "/tmp/legacy", cfg.LegacyDB)
		assert.Equal(t, []string{"patients"}, cfg.Entities)
		assert.Equal(t, 2*time.Second, cfg.FutureTolerance)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "/keep", cfg.DataDir)
		assert.Equal(t, "/keep.db", cfg.DatabasePath)
	})

	t.Run("no config flag changes nothing", func(t *testing.T) {
		cfg := &Config{DataDir: "/keep", FutureTolerance: 42 * time.Second}
		require.NoError(t, parseJson(cfg, []string{"-d", "/other"}))
		assert.Equal(t, "/keep", cfg.DataDir)
		assert.Equal(t, 42*time.Second, cfg.FutureTolerance)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		require.Error(t, parseJson(&Config{}, []string{"-c", bad}))
	})

	t.Run("missing file", func(t *testing.T) {
		require.Error(t, parseJson(&Config{}, []string{"-c", filepath.Join(t.TempDir(), "nope.json")}))
	})
}
