// Package selector picks the storage backend for the current execution
// context and is the only place a storage.Backend is constructed.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

// Environment is what DetectBestBackend decides on.
type Environment struct {
	// Embedded is set when the process is hosted inside another application
	// that does not grant direct directory access.
	Embedded          bool
	DirectFSCapable   bool
	EmbeddedDBCapable bool
}

// Probe builds an Environment from the drivers' capability probes. A nil
// driver is not capable. An explicit handle is a granted directory, so it
// makes the filesystem driver capable without a picker or a stored handle.
func Probe(embedded bool, handle string, directFS, embeddedDB storage.Driver) Environment {
	return Environment{
		Embedded:          embedded,
		DirectFSCapable:   directFS != nil && (handle != "" || directFS.Available()),
		EmbeddedDBCapable: embeddedDB != nil && embeddedDB.Available(),
	}
}

// DetectBestBackend applies the selection table. Inside an embedded host the
// filesystem is never chosen; otherwise it is preferred.
func DetectBestBackend(env Environment) (storage.BackendType, error) {
	switch {
	case env.Embedded && env.EmbeddedDBCapable:
		return storage.BackendEmbeddedDB, nil
	case env.Embedded:
		return "", fmt.Errorf("%w: embedded context without database support", common.ErrNoBackendAvailable)
	case env.DirectFSCapable:
		return storage.BackendDirectFS, nil
	case env.EmbeddedDBCapable:
		return storage.BackendEmbeddedDB, nil
	default:
		return "", common.ErrNoBackendAvailable
	}
}

// Config describes one CreateSecureStorage call.
type Config struct {
	Embedded bool

	// Preferred forces a backend when it is usable in this environment.
	Preferred storage.BackendType

	DirectFS   storage.Driver
	EmbeddedDB storage.Driver

	Entities []string
	Handle   string

	// Password configures the backend. With OpenOnly set it is ignored and
	// the backend is only bound to its handle, staying locked.
	Password []byte
	OpenOnly bool

	Logger        logging.Logger
	EngineOptions []storage.Option
}

type Result struct {
	Backend storage.Backend
	Type    storage.BackendType
}

// CreateSecureStorage selects a backend, wraps its driver in an engine and
// configures (or opens) it.
func CreateSecureStorage(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	env := Probe(cfg.Embedded, cfg.Handle, cfg.DirectFS, cfg.EmbeddedDB)
	typ, err := choose(env, cfg.Preferred)
	if err != nil {
		log.Warn(ctx, "no storage backend available",
			"embedded", env.Embedded, "directfs", env.DirectFSCapable, "embeddeddb", env.EmbeddedDBCapable)
		return nil, err
	}

	var driver storage.Driver
	switch typ {
	case storage.BackendDirectFS:
		driver = cfg.DirectFS
	case storage.BackendEmbeddedDB:
		driver = cfg.EmbeddedDB
	default:
		return nil, fmt.Errorf("unknown backend type %q", typ)
	}

	opts := append([]storage.Option{storage.WithLogger(log)}, cfg.EngineOptions...)
	engine := storage.NewEngine(driver, opts...)

	if cfg.OpenOnly {
		err = engine.Open(ctx, cfg.Entities, cfg.Handle)
	} else {
		err = engine.Configure(ctx, cfg.Password, cfg.Entities, cfg.Handle)
	}
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	log.Info(ctx, "secure storage ready", "backend", string(typ), "locked", cfg.OpenOnly)
	return &Result{Backend: engine, Type: typ}, nil
}

var errPreferredUnusable = errors.New("preferred backend unusable")

func choose(env Environment, preferred storage.BackendType) (storage.BackendType, error) {
	if preferred != "" {
		if err := usable(env, preferred); err != nil {
			return "", err
		}
		return preferred, nil
	}
	return DetectBestBackend(env)
}

func usable(env Environment, t storage.BackendType) error {
	switch t {
	case storage.BackendDirectFS:
		if env.Embedded || !env.DirectFSCapable {
			return fmt.Errorf("%w: %w: %s", common.ErrNoBackendAvailable, errPreferredUnusable, t)
		}
	case storage.BackendEmbeddedDB:
		if !env.EmbeddedDBCapable {
			return fmt.Errorf("%w: %w: %s", common.ErrNoBackendAvailable, errPreferredUnusable, t)
		}
	default:
		return common.NewConfigurationError(common.ReasonInvalidArgument, fmt.Errorf("backend %q", t))
	}
	return nil
}
