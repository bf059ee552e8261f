package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/models"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

// AppDir is the directory name used under the user config dir.
const AppDir = "osteokeeper"

// Config holds runtime settings for the hds command.
//
// Fields:
//   - Embedded: the process runs hosted and cannot be granted a directory.
//   - PreferredBackend: forces a backend type; empty means automatic.
//   - DataDir: directfs directory; empty means ask on first configure.
//   - StateDB: SQLite file holding the persisted storage handles.
//   - DatabasePath: default SQLite file of the embeddeddb backend.
//   - LegacyDB: badger directory of the legacy store; empty disables migration.
//   - Entities: entity names secure storage is configured for.
//   - FutureTolerance: how far in the future a container timestamp may be.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	Embedded         bool
	PreferredBackend string
	DataDir          string
	StateDB          string
	DatabasePath     string
	LegacyDB         string
	Entities         []string
	FutureTolerance  time.Duration
	LogLevel         string
}

// LoadDefaults populates c with defaults rooted in the user config dir.
func (c *Config) LoadDefaults() {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	base = filepath.Join(base, AppDir)

	c.Embedded = false
	c.PreferredBackend = ""
	c.DataDir = ""
	c.StateDB = filepath.Join(base, "state.db")
	c.DatabasePath = filepath.Join(base, "hds.db")
	c.LegacyDB = ""
	c.Entities = append([]string(nil), models.AllEntities...)
	c.FutureTolerance = 5 * time.Minute
	c.LogLevel = "info"
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.PreferredBackend != "" && !storage.BackendType(c.PreferredBackend).Valid() {
		return fmt.Errorf("unknown backend %q", c.PreferredBackend)
	}
	if len(c.Entities) == 0 {
		return errors.New("no entities configured")
	}
	for _, e := range c.Entities {
		if !storage.ValidEntityName(e) {
			return fmt.Errorf("invalid entity name %q", e)
		}
	}
	if c.FutureTolerance < 0 {
		return errors.New("future tolerance must not be negative")
	}
	if c.StateDB == "" {
		return errors.New("state database path is empty")
	}
	return nil
}

// LoadConfig applies defaults, then the JSON file named in args (if any),
// then the flags in args. Later sources take precedence.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
