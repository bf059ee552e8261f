// Package handles persists the non-secret pointers that let the application
// reopen its secure storage after a restart: which backend was chosen, the
// granted directory or database path, and the configured entities.
//
// Values live in a small "metadata" table of the local state database. They
// are never encrypted and never contain record data.
package handles

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Keys used by the secure manager and the storage drivers.
const (
	KeyBackend      = "hds.backend"
	KeyDirectory    = "hds.directory"
	KeyDatabase     = "hds.database"
	KeyEntities     = "hds.entities"
	KeyConfiguredAt = "hds.configured_at"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Repository stores string values by key. Get returns common.ErrorNotFound
// for an absent key.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	// SetMany and DeleteMany apply all changes or none.
	SetMany(ctx context.Context, values map[string]string) error
	DeleteMany(ctx context.Context, keys ...string) error
	List(ctx context.Context) (map[string]string, error)
	Clear(ctx context.Context) error
}

// RunMigrations brings the state database schema up to date.
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
		return fmt.Errorf("migrate state db: %w", err)
	}
	return nil
}

// OpenDatabase opens (creating if needed) the state database at dsn and
// migrates it.
func OpenDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer is all SQLite supports; a single connection also keeps
	// in-memory databases consistent across calls.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
