package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/cryptox"
	"github.com/dmitrijs2005/osteokeeper/internal/keyring"
)

// EntityStore is the CRUD view of one entity's encrypted container.
//
// Every mutation is a read-modify-write cycle run under the write lock: load
// and decrypt the full set, apply one change, re-encrypt the full set, and
// hand the bytes to the driver for an atomic replace. Reads take the read
// lock, so a read issued after an acknowledged write observes it. Decrypted
// records are never cached between calls.
type EntityStore struct {
	name   string
	driver Driver
	keys   *keyring.Keyring
	cipher *cryptox.Cipher
	now    func() time.Time

	mu sync.RWMutex
}

func newEntityStore(name string, d Driver, keys *keyring.Keyring, c *cryptox.Cipher, now func() time.Time) *EntityStore {
	return &EntityStore{name: name, driver: d, keys: keys, cipher: c, now: now}
}

// Name returns the entity name this store is bound to.
func (s *EntityStore) Name() string { return s.name }

// GetAll returns every record of the entity.
func (s *EntityStore) GetAll(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, _, err := s.load(ctx)
	return records, err
}

// GetByID returns the record with the given id. The boolean is false when no
// such record exists.
func (s *EntityStore) GetByID(ctx context.Context, id any) (Record, bool, error) {
	key, ok := IDKey(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: empty id", common.ErrorNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records, _, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	if i := indexOf(records, key); i >= 0 {
		return records[i], true, nil
	}
	return nil, false, nil
}

// Save upserts rec by id and returns the stored version. A record without an
// id receives the next integer id; createdAt is preserved across updates and
// updatedAt is set to the current time.
func (s *EntityStore) Save(ctx context.Context, rec Record) (Record, error) {
	var saved Record
	err := s.mutate(ctx, func(records []Record) ([]Record, error) {
		r, err := normalize(rec)
		if err != nil {
			return nil, err
		}
		key, ok := r.ID()
		if !ok {
			r[FieldID] = json.Number(fmt.Sprint(nextID(records)))
			key, _ = r.ID()
		}

		i := indexOf(records, key)
		if i >= 0 {
			stamp(r, records[i], s.now())
			records[i] = r
		} else {
			stamp(r, nil, s.now())
			records = append(records, r)
		}
		saved = r
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Update replaces the record with rec's id, preserving createdAt. Unlike
// Save it never creates a record: an unknown id fails with
// common.ErrorNotFound, checked in the same critical section as the write.
func (s *EntityStore) Update(ctx context.Context, rec Record) (Record, error) {
	var saved Record
	err := s.mutate(ctx, func(records []Record) ([]Record, error) {
		r, err := normalize(rec)
		if err != nil {
			return nil, err
		}
		key, ok := r.ID()
		if !ok {
			return nil, fmt.Errorf("%w: empty id", common.ErrorNotFound)
		}
		i := indexOf(records, key)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s id=%s", common.ErrorNotFound, s.name, key)
		}
		stamp(r, records[i], s.now())
		records[i] = r
		saved = r
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Delete removes the record with the given id. Deleting an unknown id is a
// no-op and does not rewrite the container.
func (s *EntityStore) Delete(ctx context.Context, id any) error {
	key, ok := IDKey(id)
	if !ok {
		return fmt.Errorf("%w: empty id", common.ErrorNotFound)
	}
	return s.mutate(ctx, func(records []Record) ([]Record, error) {
		out := records[:0]
		removed := false
		for _, r := range records {
			if k, ok := r.ID(); ok && k == key {
				removed = true
				continue
			}
			out = append(out, r)
		}
		if !removed {
			return nil, nil
		}
		return out, nil
	})
}

// Replace overwrites the container with exactly records.
func (s *EntityStore) Replace(ctx context.Context, records []Record) error {
	return s.mutate(ctx, func([]Record) ([]Record, error) {
		out := make([]Record, 0, len(records))
		for _, r := range records {
			n, err := normalize(r)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	})
}

// Clear empties the container. The container itself stays in place.
func (s *EntityStore) Clear(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

// ensure writes an empty container when none exists yet.
func (s *EntityStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.driver.Read(ctx, s.name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return s.persist(ctx, []Record{})
}

// mutate runs one read-modify-write cycle. fn returning a nil slice with a
// nil error means "nothing changed".
func (s *EntityStore) mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	records, _, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.name, err)
	}

	next, err := fn(records)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return s.persist(ctx, next)
}

// load reads and decrypts the container. A missing container is an empty
// set. The caller holds s.mu.
func (s *EntityStore) load(ctx context.Context) ([]Record, *Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	blob, err := s.driver.Read(ctx, s.name)
	if errors.Is(err, common.ErrorNotFound) {
		return []Record{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if blob.Meta != nil && blob.Meta.Checksum != "" && blob.Meta.Checksum != cryptox.Hash(blob.Data) {
		return nil, blob.Meta, &common.IntegrityError{
			Entity:   s.name,
			Problems: []string{"container changed outside the store (checksum mismatch)"},
		}
	}

	ct, err := cryptox.Unmarshal(blob.Data)
	if err != nil {
		return nil, blob.Meta, err
	}

	var raw json.RawMessage
	err = s.keys.With(func(password []byte) error {
		return s.cipher.Decrypt(ct, password, &raw)
	})
	if err != nil {
		return nil, blob.Meta, err
	}

	records, err := decodeRecords(raw)
	if err != nil {
		return nil, blob.Meta, cryptox.ErrDecryption
	}
	return records, blob.Meta, nil
}

// persist encrypts records and hands them to the driver. The caller holds s.mu.
func (s *EntityStore) persist(ctx context.Context, records []Record) error {
	var ct *cryptox.Container
	err := s.keys.With(func(password []byte) error {
		var err error
		ct, err = s.cipher.Encrypt(records, password)
		return err
	})
	if err != nil {
		return err
	}

	data, err := cryptox.Marshal(ct)
	if err != nil {
		return err
	}

	meta := Meta{
		RecordCount: len(records),
		Checksum:    cryptox.Hash(data),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.driver.Write(ctx, s.name, data, meta); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

// GetStats never fails: an unreadable or tampered container is reported with
// IntegrityOK set to false. While locked only the checksum is verified.
func (s *EntityStore) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	blob, err := s.driver.Read(ctx, s.name)
	if errors.Is(err, common.ErrorNotFound) {
		st.IntegrityOK = true
		return st
	}
	if err != nil {
		return st
	}
	st.SizeBytes = blob.Size
	if blob.Meta != nil {
		st.Count = blob.Meta.RecordCount
		st.LastModified = blob.Meta.UpdatedAt
	}

	records, _, err := s.load(ctx)
	switch {
	case err == nil:
		st.Count = len(records)
		st.IntegrityOK = true
	case errors.Is(err, common.ErrLocked):
		// load checks the checksum before asking for the password, so a
		// locked store got that far and the count comes from metadata.
		st.IntegrityOK = true
	}
	return st
}

// VerifyIntegrity decrypts the container and checks its structure: every
// record has an id, ids are unique, and the count matches the stored metadata.
func (s *EntityStore) VerifyIntegrity(ctx context.Context) IntegrityReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep := IntegrityReport{Errors: []string{}, Warnings: []string{}}

	records, meta, err := s.load(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}

	seen := make(map[string]int, len(records))
	for i, r := range records {
		key, ok := r.ID()
		if !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("record #%d has no id", i))
			continue
		}
		if first, dup := seen[key]; dup {
			rep.Errors = append(rep.Errors, fmt.Sprintf("duplicate id %s (records #%d and #%d)", key, first, i))
			continue
		}
		seen[key] = i
		if r[FieldCreatedAt] == nil || r[FieldUpdatedAt] == nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("record %s is missing timestamps", key))
		}
	}

	switch {
	case meta == nil:
		rep.Warnings = append(rep.Warnings, "no container metadata")
	case meta.RecordCount != len(records):
		rep.Errors = append(rep.Errors, fmt.Sprintf("record count %d does not match metadata count %d", len(records), meta.RecordCount))
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}

// merge combines incoming with the current set under the given strategy.
// Added and Updated are counted against the set as it was before the import,
// so under replace a pre-existing id is an update. A repeated id in incoming
// is counted once; the later record wins.
func (s *EntityStore) merge(ctx context.Context, incoming []Record, strategy Strategy) (ImportReport, error) {
	var rep ImportReport
	err := s.mutate(ctx, func(records []Record) ([]Record, error) {
		rep = ImportReport{}
		seen := make(map[string]bool, len(incoming))
		base := records
		if strategy == StrategyReplace {
			base = []Record{}
		}

		for _, in := range incoming {
			r, err := normalize(in)
			if err != nil {
				return nil, err
			}
			key, ok := r.ID()
			if !ok {
				r[FieldID] = json.Number(fmt.Sprint(nextID(base)))
				key, _ = r.ID()
			}
			if r[FieldCreatedAt] == nil {
				stamp(r, nil, s.now())
			}

			i := indexOf(base, key)
			if i >= 0 {
				base[i] = r
			} else {
				base = append(base, r)
			}

			switch {
			case seen[key]:
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("duplicate id %s in import, last one kept", key))
			case indexOf(records, key) >= 0:
				rep.Updated++
			default:
				rep.Added++
			}
			seen[key] = true
		}
		rep.Total = len(base)
		return base, nil
	})
	return rep, err
}
