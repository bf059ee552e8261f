// Package manager coordinates the lifecycle of secure storage: configuring a
// backend, locking and unlocking it, restoring it after a restart from the
// persisted handles, and fanning out integrity checks, exports and the legacy
// migration across all entity stores.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/handles"
	"github.com/dmitrijs2005/osteokeeper/internal/legacy"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
	"github.com/dmitrijs2005/osteokeeper/internal/storage/selector"
)

// State is the lifecycle state of the manager.
type State int

const (
	StateUnconfigured State = iota
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Deps are the collaborators of a Manager. Drivers should be built with the
// same handle repository so they can resolve persisted handles on Restore.
type Deps struct {
	Handles    handles.Repository
	DirectFS   storage.Driver
	EmbeddedDB storage.Driver
	Legacy     legacy.Source

	Embedded  bool
	Preferred storage.BackendType

	Logger        logging.Logger
	EngineOptions []storage.Option
	Now           func() time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	deps   Deps
	logger logging.Logger

	// create is selector.CreateSecureStorage; tests replace it.
	create func(context.Context, selector.Config) (*selector.Result, error)

	mu       sync.RWMutex
	state    State
	backend  storage.Backend
	typ      storage.BackendType
	entities []string
}

func New(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:   deps,
		logger: deps.Logger.With("component", "manager"),
		create: selector.CreateSecureStorage,
	}
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Restore reopens the storage recorded in the handle store and leaves it
// locked. Without a recorded configuration the manager stays unconfigured and
// Restore returns nil.
func (m *Manager) Restore(ctx context.Context) error {
	if m.deps.Handles == nil {
		return nil
	}

	stored, err := m.deps.Handles.Get(ctx, handles.KeyBackend)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backend pointer: %w", err)
	}
	typ := storage.BackendType(stored)
	if !typ.Valid() {
		return common.NewConfigurationError(common.ReasonInvalidArgument, fmt.Errorf("stored backend %q", stored))
	}

	rawEntities, err := m.deps.Handles.Get(ctx, handles.KeyEntities)
	if err != nil {
		return common.NewConfigurationError(common.ReasonHandleMissing, fmt.Errorf("entities: %w", err))
	}
	entities := splitEntities(rawEntities)

	m.closeCurrent()
	res, err := m.create(ctx, m.selectorConfig(typ, entities, "", nil, true))
	if err != nil {
		m.logger.Warn(ctx, "restore failed", "backend", stored, "error", err)
		if errors.Is(err, common.ErrNoBackendAvailable) {
			return common.NewConfigurationError(common.ReasonHandleMissing, err)
		}
		return err
	}

	m.mu.Lock()
	m.swap(res, entities, StateLocked)
	m.mu.Unlock()

	m.logger.Info(ctx, "secure storage restored", "backend", stored, "entities", len(entities))
	return nil
}

// Configure selects and configures a backend for entities, persists the
// handles and leaves the manager unlocked. An existing configuration is
// closed first, so a failed Configure leaves the manager unconfigured. Data
// is never touched.
func (m *Manager) Configure(ctx context.Context, password []byte, entities []string, handle string) error {
	m.closeCurrent()
	res, err := m.create(ctx, m.selectorConfig(m.deps.Preferred, entities, handle, password, false))
	if err != nil {
		m.logger.Warn(ctx, "configure failed", "error", err)
		return err
	}

	if err := m.persist(ctx, res, entities); err != nil {
		_ = res.Backend.Close()
		return err
	}

	m.mu.Lock()
	m.swap(res, entities, StateUnlocked)
	m.mu.Unlock()

	m.logger.Info(ctx, "secure storage configured", "backend", string(res.Type), "entities", len(entities))
	return nil
}

func (m *Manager) selectorConfig(preferred storage.BackendType, entities []string, handle string, password []byte, openOnly bool) selector.Config {
	return selector.Config{
		Embedded:      m.deps.Embedded,
		Preferred:     preferred,
		DirectFS:      m.deps.DirectFS,
		EmbeddedDB:    m.deps.EmbeddedDB,
		Entities:      entities,
		Handle:        handle,
		Password:      password,
		OpenOnly:      openOnly,
		Logger:        m.deps.Logger,
		EngineOptions: m.deps.EngineOptions,
	}
}

// closeCurrent releases the active backend. Drivers are shared between
// configurations, so this must happen before a new backend opens them.
func (m *Manager) closeCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		_ = m.backend.Close()
	}
	m.backend, m.typ, m.entities = nil, "", nil
	m.state = StateUnconfigured
}

// swap installs a new backend. The caller holds m.mu.
func (m *Manager) swap(res *selector.Result, entities []string, state State) {
	m.backend = res.Backend
	m.typ = res.Type
	m.entities = append([]string(nil), entities...)
	m.state = state
}

func (m *Manager) persist(ctx context.Context, res *selector.Result, entities []string) error {
	if m.deps.Handles == nil {
		return nil
	}

	handleKey := handles.KeyDirectory
	if res.Type == storage.BackendEmbeddedDB {
		handleKey = handles.KeyDatabase
	}

	err := m.deps.Handles.SetMany(ctx, map[string]string{
		handles.KeyBackend:      string(res.Type),
		handleKey:               res.Backend.GetStorageInfo(ctx).Handle,
		handles.KeyEntities:     strings.Join(entities, ","),
		handles.KeyConfiguredAt: m.deps.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("persist handles: %w", err)
	}
	return nil
}

// Unlock validates password against the stored data. It reports false, and
// leaves the state unchanged, on a wrong password or when unconfigured.
func (m *Manager) Unlock(ctx context.Context, password []byte) bool {
	m.mu.RLock()
	backend, state := m.backend, m.state
	m.mu.RUnlock()

	if state == StateUnconfigured || backend == nil {
		return false
	}
	if !backend.Unlock(ctx, password) {
		m.logger.Warn(ctx, "unlock rejected")
		return false
	}

	m.mu.Lock()
	if m.backend == backend {
		m.state = StateUnlocked
	}
	m.mu.Unlock()
	m.logger.Info(ctx, "secure storage unlocked")
	return true
}

// Lock drops the password. It is a no-op when unconfigured.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return
	}
	m.backend.Lock()
	m.state = StateLocked
}

// Reset forgets the configuration: the backend is closed and the persisted
// pointers are deleted. Encrypted data stays where it is.
func (m *Manager) Reset(ctx context.Context) error {
	m.closeCurrent()

	if m.deps.Handles == nil {
		return nil
	}
	err := m.deps.Handles.DeleteMany(ctx,
		handles.KeyBackend, handles.KeyDirectory, handles.KeyDatabase, handles.KeyEntities, handles.KeyConfiguredAt)
	if err != nil {
		return fmt.Errorf("reset handles: %w", err)
	}
	m.logger.Info(ctx, "secure storage reset")
	return nil
}

// Close locks and releases the active backend, leaving persisted handles in
// place for the next Restore.
func (m *Manager) Close() error {
	m.closeCurrent()
	return nil
}

// Store returns the entity store, or nil when the manager is unconfigured or
// the entity is unknown. A locked manager still returns stores; their
// operations fail with common.ErrLocked.
func (m *Manager) Store(entity string) *storage.EntityStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateUnconfigured || m.backend == nil {
		return nil
	}
	return m.backend.Store(entity)
}

// Entities returns the configured entity names.
func (m *Manager) Entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.backend == nil {
		return nil
	}
	return m.backend.Entities()
}

// Info summarizes the manager and its backend.
type Info struct {
	State   string               `json:"state"`
	Backend storage.BackendType  `json:"backend,omitempty"`
	Storage *storage.StorageInfo `json:"storage,omitempty"`
}

func (m *Manager) Info(ctx context.Context) Info {
	m.mu.RLock()
	backend, typ, state := m.backend, m.typ, m.state
	m.mu.RUnlock()

	info := Info{State: state.String(), Backend: typ}
	if backend != nil {
		si := backend.GetStorageInfo(ctx)
		info.Storage = &si
	}
	return info
}

func (m *Manager) unlockedBackend() (storage.Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case StateUnconfigured:
		return nil, common.ErrNotConfigured
	case StateLocked:
		return nil, common.ErrLocked
	}
	return m.backend, nil
}

// VerifyAllIntegrity runs VerifyIntegrity on every entity store.
func (m *Manager) VerifyAllIntegrity(ctx context.Context) (map[string]storage.IntegrityReport, error) {
	backend, err := m.unlockedBackend()
	if err != nil {
		return nil, err
	}

	out := make(map[string]storage.IntegrityReport)
	for _, name := range backend.Entities() {
		rep := backend.Store(name).VerifyIntegrity(ctx)
		if !rep.Valid {
			m.logger.Warn(ctx, "integrity check failed", "entity", name, "errors", len(rep.Errors))
		}
		out[name] = rep
	}
	return out, nil
}

// ExportAllSecure exports every entity to its own .phds document.
func (m *Manager) ExportAllSecure(ctx context.Context) (map[string][]byte, error) {
	backend, err := m.unlockedBackend()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)
	for _, name := range backend.Entities() {
		data, err := backend.Store(name).ExportSecure(ctx)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// ExportBackup produces a whole-system backup bundle.
func (m *Manager) ExportBackup(ctx context.Context) ([]byte, error) {
	backend, err := m.unlockedBackend()
	if err != nil {
		return nil, err
	}
	return backend.ExportBackup(ctx)
}

// ImportBackup restores a bundle produced by ExportBackup on any backend.
// Entities new to this installation are added to the persisted entity list.
func (m *Manager) ImportBackup(ctx context.Context, blob, password []byte, strategy storage.Strategy) (map[string]storage.ImportReport, error) {
	backend, err := m.unlockedBackend()
	if err != nil {
		return nil, err
	}

	reports, err := backend.ImportBackup(ctx, blob, password, strategy)
	if err != nil {
		m.logger.Warn(ctx, "backup import failed", "error", err)
		return reports, err
	}

	entities := backend.Entities()
	m.mu.Lock()
	m.entities = entities
	m.mu.Unlock()
	if m.deps.Handles != nil {
		if err := m.deps.Handles.Set(ctx, handles.KeyEntities, strings.Join(entities, ",")); err != nil {
			return reports, fmt.Errorf("persist %s: %w", handles.KeyEntities, err)
		}
	}
	return reports, nil
}

func splitEntities(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
