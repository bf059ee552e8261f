// Package sqlitestore is the embedded-database storage driver. Each entity is
// one row of the "containers" table in a local SQLite file; the database file
// path is the capability handle.
//
// A write is a single upsert of the entity row. SQLite runs it atomically, so
// a failed write leaves the previous container untouched.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/dbx"
	"github.com/dmitrijs2005/osteokeeper/internal/filex"
	"github.com/dmitrijs2005/osteokeeper/internal/handles"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	// HandleKey is the handle-store key holding the database path.
	HandleKey = handles.KeyDatabase

	// DriverName is the database/sql driver registered by modernc.org/sqlite.
	DriverName = "sqlite"

	lookupTimeout = 2 * time.Second
)

//go:embed migrations/*.sql
var migrations embed.FS

// HandleLookup reads persisted handles. Get returns common.ErrorNotFound when
// the key is absent.
type HandleLookup interface {
	Get(ctx context.Context, key string) (string, error)
}

type Option func(*Driver)

func WithHandles(h HandleLookup) Option {
	return func(d *Driver) { d.handles = h }
}

// WithDefaultPath sets the database file used when neither an explicit nor a
// persisted handle is available.
func WithDefaultPath(path string) Option {
	return func(d *Driver) { d.defaultPath = path }
}

// WithDB injects an already open database. Migrations are not run on it and
// Close leaves it open.
func WithDB(db *sql.DB) Option {
	return func(d *Driver) { d.db, d.external = db, true }
}

func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// Driver implements storage.Driver on SQLite.
type Driver struct {
	handles     HandleLookup
	defaultPath string
	logger      logging.Logger
	external    bool

	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ storage.Driver = (*Driver)(nil)

func New(opts ...Option) *Driver {
	d := &Driver{logger: logging.Discard()}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Type() storage.BackendType { return storage.BackendEmbeddedDB }

// Available reports whether the SQLite driver is linked in and a database
// location is known.
func (d *Driver) Available() bool {
	if !slices.Contains(sql.Drivers(), DriverName) {
		return false
	}
	if d.Handle() != "" || d.defaultPath != "" || d.external {
		return true
	}
	if d.handles == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	path, err := d.handles.Get(ctx, HandleKey)
	return err == nil && path != ""
}

func (d *Driver) Handle() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// RunMigrations creates or upgrades the container schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate containers: %w", err)
	}
	return nil
}

// Open resolves the database path (explicit, persisted, then default), opens
// it and migrates the schema. A persisted path whose file vanished is
// reported as a missing handle rather than silently recreated.
func (d *Driver) Open(ctx context.Context, handle string) (string, error) {
	if d.external {
		d.mu.Lock()
		d.path = handle
		d.mu.Unlock()
		return handle, nil
	}

	path, mustExist, err := d.resolve(ctx, handle)
	if err != nil {
		return "", err
	}

	if mustExist {
		ok, err := filex.Exists(path)
		if err != nil {
			return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
		}
		if !ok {
			return "", common.NewConfigurationError(common.ReasonHandleMissing, fmt.Errorf("database %s", path))
		}
	} else if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return "", common.NewConfigurationError(common.ReasonUnsupported, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
	}

	d.mu.Lock()
	old := d.db
	d.db, d.path = db, path
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	d.logger.Debug(ctx, "database bound", "path", path)
	return path, nil
}

func (d *Driver) resolve(ctx context.Context, handle string) (string, bool, error) {
	if handle != "" {
		return handle, false, nil
	}
	if d.handles != nil {
		stored, err := d.handles.Get(ctx, HandleKey)
		switch {
		case err == nil && stored != "":
			return stored, true, nil
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return "", false, fmt.Errorf("read handle: %w", err)
		}
	}
	if d.defaultPath != "" {
		return d.defaultPath, false, nil
	}
	return "", false, common.NewConfigurationError(common.ReasonUnsupported, errors.New("no database location"))
}

func (d *Driver) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, common.ErrNotConfigured
	}
	return d.db, nil
}

func (d *Driver) Read(ctx context.Context, entity string) (*storage.Blob, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	var (
		data      []byte
		m         storage.Meta
		updatedAt string
	)
	err = db.QueryRowContext(ctx, `
		SELECT data, record_count, checksum, updated_at
		FROM containers WHERE entity = ?
	`, entity).Scan(&data, &m.RecordCount, &m.Checksum, &updatedAt)
	if err = dbx.NotFound(err); err != nil {
		return nil, fmt.Errorf("failed to read container[%s]: %w", entity, err)
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &storage.Blob{Data: data, Meta: &m, Size: int64(len(data))}, nil
}

// Write replaces the entity's container and its metadata in one statement.
func (d *Driver) Write(ctx context.Context, entity string, data []byte, meta storage.Meta) error {
	if !storage.ValidEntityName(entity) {
		return common.NewConfigurationError(common.ReasonInvalidArgument, fmt.Errorf("entity %q", entity))
	}
	db, err := d.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO containers (entity, data, record_count, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			data = excluded.data,
			record_count = excluded.record_count,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`, entity, data, meta.RecordCount, meta.Checksum, meta.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write container[%s]: %w", entity, err)
	}
	return nil
}

func (d *Driver) List(ctx context.Context) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT entity FROM containers ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan container row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate container rows: %w", err)
	}
	return names, nil
}

// Close releases the database unless it was injected with WithDB.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.path = ""
	if d.external || d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
