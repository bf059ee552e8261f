package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/flagx"
	"github.com/dmitrijs2005/osteokeeper/internal/timex"
)

// JsonConfig is the DTO the JSON file is unmarshalled into.
type JsonConfig struct {
	Embedded         bool           `json:"embedded"`
	PreferredBackend string         `json:"preferred_backend"`
	DataDir          string         `json:"data_dir"`
	StateDB          string         `json:"state_db"`
	DatabasePath     string         `json:"database_path"`
	LegacyDB         string         `json:"legacy_db"`
	Entities         []string       `json:"entities"`
	FutureTolerance  timex.Duration `json:"future_tolerance"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays cfg with the file given by -c or -config. The DTO starts
// from the current values, so keys absent from the file change nothing.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	jc := JsonConfig{
		Embedded:         cfg.Embedded,
		PreferredBackend: cfg.PreferredBackend,
		DataDir:          cfg.DataDir,
		StateDB:          cfg.StateDB,
		DatabasePath:     cfg.DatabasePath,
		LegacyDB:         cfg.LegacyDB,
		Entities:         cfg.Entities,
		FutureTolerance:  timex.Duration{Duration: cfg.FutureTolerance},
		LogLevel:         cfg.LogLevel,
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Embedded = jc.Embedded
	cfg.PreferredBackend = jc.PreferredBackend
	cfg.DataDir = jc.DataDir
	cfg.StateDB = jc.StateDB
	cfg.DatabasePath = jc.DatabasePath
	cfg.LegacyDB = jc.LegacyDB
	cfg.Entities = jc.Entities
	cfg.FutureTolerance = time.Duration(jc.FutureTolerance.Duration)
	cfg.LogLevel = jc.LogLevel
	return nil
}
