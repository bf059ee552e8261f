package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/cryptox"
	"github.com/dmitrijs2005/osteokeeper/internal/keyring"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/google/uuid"
)

// Backend is the contract both storage substrates satisfy. Engine is the only
// implementation; the substrate is chosen by the Driver it wraps.
type Backend interface {
	Type() BackendType
	Configure(ctx context.Context, password []byte, entities []string, handle string) error
	Open(ctx context.Context, entities []string, handle string) error
	Save(ctx context.Context, entity string, rec Record) (Record, error)
	GetAll(ctx context.Context, entity string) ([]Record, error)
	GetByID(ctx context.Context, entity string, id any) (Record, bool, error)
	Delete(ctx context.Context, entity string, id any) error
	ExportBackup(ctx context.Context) ([]byte, error)
	ImportBackup(ctx context.Context, blob []byte, password []byte, strategy Strategy) (map[string]ImportReport, error)
	IsAvailable() bool
	GetStorageInfo(ctx context.Context) StorageInfo
	Lock()
	Unlock(ctx context.Context, password []byte) bool
	Store(entity string) *EntityStore
	Entities() []string
	Close() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCipher replaces the default cipher, e.g. to change the timestamp tolerance.
func WithCipher(c *cryptox.Cipher) Option {
	return func(e *Engine) { e.cipher = c }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine binds a Driver, the password keyring and one EntityStore per entity.
type Engine struct {
	driver Driver
	keys   *keyring.Keyring
	cipher *cryptox.Cipher
	logger logging.Logger
	now    func() time.Time

	mu     sync.RWMutex
	opened bool
	stores map[string]*EntityStore
}

var _ Backend = (*Engine)(nil)

// NewEngine wraps d. The engine starts closed and locked.
func NewEngine(d Driver, opts ...Option) *Engine {
	e := &Engine{
		driver: d,
		keys:   keyring.New(),
		cipher: &cryptox.Cipher{},
		logger: logging.Discard(),
		now:    time.Now,
		stores: make(map[string]*EntityStore),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("backend", string(d.Type()))
	return e
}

func (e *Engine) Type() BackendType { return e.driver.Type() }

// IsAvailable delegates to the driver probe.
func (e *Engine) IsAvailable() bool {
	defer func() { _ = recover() }()
	return e.driver.Available()
}

// Open binds the handle and prepares stores for entities without a password.
// The engine stays locked.
func (e *Engine) Open(ctx context.Context, entities []string, handle string) error {
	if err := validateEntities(entities); err != nil {
		return err
	}
	resolved, err := e.driver.Open(ctx, handle)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range entities {
		if _, ok := e.stores[name]; !ok {
			e.stores[name] = newEntityStore(name, e.driver, e.keys, e.cipher, e.now)
		}
	}
	e.opened = true
	e.logger.Info(ctx, "storage opened", "handle", resolved, "entities", len(entities))
	return nil
}

// Configure opens the handle, checks password against existing containers,
// and creates an empty container for each entity that has none.
func (e *Engine) Configure(ctx context.Context, password []byte, entities []string, handle string) error {
	if err := e.Open(ctx, entities, handle); err != nil {
		return err
	}

	if !e.probe(ctx, password) {
		return common.NewConfigurationError(common.ReasonWrongPassword, cryptox.ErrDecryption)
	}
	e.keys.Set(password)

	for _, name := range entities {
		if err := e.Store(name).ensure(ctx); err != nil {
			e.keys.Lock()
			return fmt.Errorf("prepare %s: %w", name, err)
		}
	}
	e.logger.Info(ctx, "storage configured", "entities", len(entities))
	return nil
}

// Unlock validates password by decrypting a real container and only then
// stores it. A wrong password returns false and leaves the keyring as it was,
// so an engine that is already unlocked stays unlocked with its password.
func (e *Engine) Unlock(ctx context.Context, password []byte) bool {
	e.mu.RLock()
	opened := e.opened
	e.mu.RUnlock()
	if !opened {
		return false
	}

	if !e.probe(ctx, password) {
		e.logger.Warn(ctx, "unlock rejected")
		return false
	}
	e.keys.Set(password)
	e.logger.Info(ctx, "storage unlocked")
	return true
}

// probe reports whether password opens the stored data. The first container
// that decrypts, or fails to decrypt, decides. Containers that cannot be read
// or parsed are skipped, and if every stored container is skipped the
// password is rejected. Only when no container exists does a canary
// round-trip stand in.
func (e *Engine) probe(ctx context.Context, password []byte) bool {
	names, err := e.driver.List(ctx)
	if err != nil {
		e.logger.Warn(ctx, "listing containers failed", "error", err)
		return false
	}

	if len(names) == 0 {
		ct, err := e.cipher.Encrypt([]Record{}, password)
		if err != nil {
			return false
		}
		var out []Record
		return e.cipher.Decrypt(ct, password, &out) == nil
	}

	for _, name := range names {
		err := e.tryDecrypt(ctx, name, password)
		switch {
		case err == nil:
			return true
		case errors.Is(err, cryptox.ErrDecryption):
			return false
		default:
			e.logger.Warn(ctx, "probe skipped container", "entity", name, "error", err)
		}
	}
	return false
}

// tryDecrypt opens one stored container with password. The metadata checksum
// is not consulted: authenticated decryption alone proves the password.
func (e *Engine) tryDecrypt(ctx context.Context, name string, password []byte) error {
	blob, err := e.driver.Read(ctx, name)
	if err != nil {
		return err
	}
	ct, err := cryptox.Unmarshal(blob.Data)
	if err != nil {
		// Unmarshal reports ErrDecryption, which would read as a wrong password.
		return fmt.Errorf("container %s is not parseable", name)
	}
	var raw json.RawMessage
	return e.cipher.Decrypt(ct, password, &raw)
}

// Lock discards the password. Subsequent reads and writes fail with
// common.ErrLocked until Unlock succeeds.
func (e *Engine) Lock() {
	e.keys.Lock()
	e.logger.Info(context.Background(), "storage locked")
}

// Unlocked reports whether a password is held.
func (e *Engine) Unlocked() bool { return e.keys.Unlocked() }

// Store returns the entity store for name, or nil if the entity is unknown.
func (e *Engine) Store(name string) *EntityStore {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stores[name]
}

// Entities returns the configured entity names in sorted order.
func (e *Engine) Entities() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.stores))
	for n := range e.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) store(entity string) (*EntityStore, error) {
	s := e.Store(entity)
	if s == nil {
		return nil, fmt.Errorf("%w: unknown entity %q", common.ErrNotConfigured, entity)
	}
	return s, nil
}

func (e *Engine) Save(ctx context.Context, entity string, rec Record) (Record, error) {
	s, err := e.store(entity)
	if err != nil {
		return nil, err
	}
	return s.Save(ctx, rec)
}

func (e *Engine) GetAll(ctx context.Context, entity string) ([]Record, error) {
	s, err := e.store(entity)
	if err != nil {
		return nil, err
	}
	return s.GetAll(ctx)
}

func (e *Engine) GetByID(ctx context.Context, entity string, id any) (Record, bool, error) {
	s, err := e.store(entity)
	if err != nil {
		return nil, false, err
	}
	return s.GetByID(ctx, id)
}

func (e *Engine) Delete(ctx context.Context, entity string, id any) error {
	s, err := e.store(entity)
	if err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

// ExportBackup encrypts every entity's records into one bundle under the
// current password.
func (e *Engine) ExportBackup(ctx context.Context) ([]byte, error) {
	names := e.Entities()
	payload := make(map[string][]Record, len(names))
	counts := make(map[string]int, len(names))

	for _, name := range names {
		records, err := e.Store(name).GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		payload[name] = records
		counts[name] = len(records)
	}

	var ct *cryptox.Container
	err := e.keys.With(func(password []byte) error {
		var err error
		ct, err = e.cipher.Encrypt(payload, password)
		return err
	})
	if err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(BackupBundle{
		Format:     BackupFormat,
		ExportID:   uuid.NewString(),
		ExportedAt: e.now().UTC(),
		Entities:   counts,
		Data:       ct,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "backup exported", "entities", len(names))
	return out, nil
}

// ImportBackup decrypts blob with password and restores each entity it
// contains, creating entities this backend does not know yet. The engine must
// be unlocked: restored data is re-encrypted under the current password.
func (e *Engine) ImportBackup(ctx context.Context, blob []byte, password []byte, strategy Strategy) (map[string]ImportReport, error) {
	var b BackupBundle
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnknownFormat, err)
	}
	if b.Format != BackupFormat {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownFormat, b.Format)
	}
	if !e.keys.Unlocked() {
		return nil, common.ErrLocked
	}

	var raw map[string]json.RawMessage
	if err := e.cipher.Decrypt(b.Data, password, &raw); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if !ValidEntityName(name) {
			return nil, fmt.Errorf("%w: invalid entity name %q in backup", common.ErrUnknownFormat, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make(map[string]ImportReport, len(names))
	for _, name := range names {
		records, err := decodeRecords(raw[name])
		if err != nil {
			return reports, cryptox.ErrDecryption
		}

		e.mu.Lock()
		s, ok := e.stores[name]
		if !ok {
			s = newEntityStore(name, e.driver, e.keys, e.cipher, e.now)
			e.stores[name] = s
		}
		e.mu.Unlock()

		rep, err := s.merge(ctx, records, normalizeStrategy(strategy))
		if err != nil {
			return reports, fmt.Errorf("import %s: %w", name, err)
		}
		reports[name] = rep
	}
	e.logger.Info(ctx, "backup imported", "entities", len(names), "strategy", string(normalizeStrategy(strategy)))
	return reports, nil
}

// GetStorageInfo reports counts and sizes from container metadata, so it
// works while locked.
func (e *Engine) GetStorageInfo(ctx context.Context) StorageInfo {
	e.mu.RLock()
	opened := e.opened
	e.mu.RUnlock()

	info := StorageInfo{
		Type:           e.Type(),
		Available:      e.IsAvailable(),
		Configured:     opened,
		Unlocked:       e.keys.Unlocked(),
		PerEntityCount: map[string]int{},
	}
	if !opened {
		return info
	}
	info.Handle = e.driver.Handle()

	for _, name := range e.Entities() {
		blob, err := e.driver.Read(ctx, name)
		if err != nil {
			info.PerEntityCount[name] = 0
			continue
		}
		if blob.Meta != nil {
			info.PerEntityCount[name] = blob.Meta.RecordCount
		}
		info.TotalSizeBytes += blob.Size
	}
	return info
}

// Close locks the engine and releases the driver.
func (e *Engine) Close() error {
	e.keys.Lock()
	e.mu.Lock()
	e.opened = false
	e.mu.Unlock()
	return e.driver.Close()
}

func validateEntities(entities []string) error {
	if len(entities) == 0 {
		return common.NewConfigurationError(common.ReasonInvalidArgument, errors.New("no entities"))
	}
	for _, n := range entities {
		if !ValidEntityName(n) {
			return common.NewConfigurationError(common.ReasonInvalidArgument, fmt.Errorf("invalid entity name %q", n))
		}
	}
	return nil
}
