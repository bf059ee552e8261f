// Package legacy reads health data kept by the deprecated storage scheme:
// plaintext JSON arrays in a local key-value store, one key per user and
// entity ("legacy/<userID>/<entity>"). It exists only to feed the one-shot
// migration into secure storage.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

const keyPrefix = "legacy/"

// Source is a legacy data source.
type Source interface {
	// Load returns the records of one entity. The boolean is false when the
	// user has no data for entity.
	Load(ctx context.Context, userID, entity string) ([]storage.Record, bool, error)
	// Entities lists the entities userID has data for.
	Entities(ctx context.Context, userID string) ([]string, error)
	// Remove deletes the named entities of userID. Other entities, and other
	// users, are left alone.
	Remove(ctx context.Context, userID string, entities ...string) error
}

// Key returns the store key of one user's entity.
func Key(userID, entity string) []byte {
	return []byte(keyPrefix + userID + "/" + entity)
}

func userPrefix(userID string) []byte {
	return []byte(keyPrefix + userID + "/")
}

// BadgerSource is a Source over a badger database.
type BadgerSource struct {
	db    *badger.DB
	owned bool
}

var _ Source = (*BadgerSource)(nil)

// Open opens the badger database at path. An empty path opens an in-memory
// database.
func Open(path string) (*BadgerSource, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open legacy store: %w", err)
	}
	return &BadgerSource{db: db, owned: true}, nil
}

// NewBadgerSource wraps an already open database. Close leaves it open.
func NewBadgerSource(db *badger.DB) *BadgerSource {
	return &BadgerSource{db: db}
}

func (s *BadgerSource) Load(ctx context.Context, userID, entity string) ([]storage.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(userID, entity))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", entity, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []storage.Record
	if err := dec.Decode(&records); err != nil {
		return nil, true, fmt.Errorf("malformed legacy %s: %w", entity, err)
	}
	if records == nil {
		records = []storage.Record{}
	}
	return records, true, nil
}

// Put stores records as the legacy value of one entity.
func (s *BadgerSource) Put(ctx context.Context, userID, entity string, records []storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(userID, entity), data)
	})
}

// Entities lists the entities stored for userID.
func (s *BadgerSource) Entities(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := userPrefix(userID)
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	return names, err
}

func (s *BadgerSource) Remove(ctx context.Context, userID string, entities ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, entity := range entities {
			if err := txn.Delete(Key(userID, entity)); err != nil {
				return fmt.Errorf("failed to delete %s: %w", entity, err)
			}
		}
		return nil
	})
}

func (s *BadgerSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
