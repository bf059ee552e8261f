package config

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.False(t, c.Embedded)
	assert.Empty(t, c.PreferredBackend)
	assert.Empty(t, c.DataDir)
	assert.Contains(t, c.StateDB, AppDir)
	assert.Contains(t, c.DatabasePath, AppDir)
	assert.Equal(t, models.AllEntities, c.Entities)
	assert.Equal(t, 5*time.Minute, c.FutureTolerance)
	assert.Equal(t, "info", c.LogLevel)
	require.NoError(t, c.Validate())
}

func TestLoadDefaults_DoesNotAliasEntities(t *testing.T) {
	var c Config
	c.LoadDefaults()
	c.Entities[0] = "changed"
	assert.Equal(t, models.EntityPatients, models.AllEntities[0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "known backend", mutate: func(c *Config) { c.PreferredBackend = "embeddeddb" }, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.PreferredBackend = "cloud" }},
		{name: "no entities", mutate: func(c *Config) { c.Entities = nil }},
		{name: "bad entity", mutate: func(c *Config) { c.Entities = []string{"../x"} }},
		{name: "negative tolerance", mutate: func(c *Config) { c.FutureTolerance = -time.Second }},
		{name: "no state db", mutate: func(c *Config) { c.StateDB = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"preferred_backend": "embeddeddb",
		"data_dir":          "/from/json",
		"future_tolerance":  "1m",
	})

	cfg, err := LoadConfig([]string{"-c", path, "-d", "/from/flag"})
	require.NoError(t, err)

	assert.Equal(t, "embeddeddb", cfg.PreferredBackend)
	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, time.Minute, cfg.FutureTolerance)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig([]string{"-b", "cloud"})
	require.Error(t, err)

	_, err = LoadConfig([]string{"-t", "abc"})
	require.Error(t, err)
}
