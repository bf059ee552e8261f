package handles

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/osteokeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err = dbx.NotFound(err); err != nil {
		return "", fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata`)
	if err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metadata rows: %w", err)
	}

	return result, nil
}

// SetMany writes values in one transaction.
func (r *SQLiteRepository) SetMany(ctx context.Context, values map[string]string) error {
	return r.inTx(ctx, func(repo *SQLiteRepository) error {
		for k, v := range values {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteMany removes keys in one transaction, so a reset never leaves half of
// the pointers behind.
func (r *SQLiteRepository) DeleteMany(ctx context.Context, keys ...string) error {
	return r.inTx(ctx, func(repo *SQLiteRepository) error {
		for _, k := range keys {
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// inTx runs fn on a repository bound to a new transaction, or on r itself
// when r already runs inside one.
func (r *SQLiteRepository) inTx(ctx context.Context, fn func(repo *SQLiteRepository) error) error {
	db, ok := r.db.(dbx.Beginner)
	if !ok {
		return fn(r)
	}
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(NewSQLiteRepository(tx))
	})
}
