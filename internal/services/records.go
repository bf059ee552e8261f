// Package services exposes typed CRUD over the secure entity stores. Services
// never run in a demo session, and they treat a missing store as "nothing
// stored yet" on reads and as a configuration error on writes.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/models"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

// StoreProvider hands out entity stores. It returns nil when secure storage
// is not configured.
type StoreProvider interface {
	Store(entity string) *storage.EntityStore
}

// DemoChecker reports whether the current session is a demo session.
type DemoChecker interface {
	IsDemo(ctx context.Context) bool
}

// DemoFunc adapts a function to DemoChecker.
type DemoFunc func(ctx context.Context) bool

func (f DemoFunc) IsDemo(ctx context.Context) bool { return f(ctx) }

// NeverDemo is the checker for installations without demo sessions.
var NeverDemo = DemoFunc(func(context.Context) bool { return false })

// RecordService is the CRUD facade for one entity type.
type RecordService[T models.Entity] struct {
	entity string
	stores StoreProvider
	demo   DemoChecker
	logger logging.Logger
}

func newRecordService[T models.Entity](stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[T] {
	var zero T
	if demo == nil {
		demo = NeverDemo
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RecordService[T]{
		entity: zero.EntityName(),
		stores: stores,
		demo:   demo,
		logger: logger.With("entity", zero.EntityName()),
	}
}

func NewPatientService(stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[models.Patient] {
	return newRecordService[models.Patient](stores, demo, logger)
}

func NewAppointmentService(stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[models.Appointment] {
	return newRecordService[models.Appointment](stores, demo, logger)
}

func NewInvoiceService(stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[models.Invoice] {
	return newRecordService[models.Invoice](stores, demo, logger)
}

func NewPhotoService(stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[models.Photo] {
	return newRecordService[models.Photo](stores, demo, logger)
}

func NewConsultationReportService(stores StoreProvider, demo DemoChecker, logger logging.Logger) *RecordService[models.ConsultationReport] {
	return newRecordService[models.ConsultationReport](stores, demo, logger)
}

// Entity returns the entity name the service works on.
func (s *RecordService[T]) Entity() string { return s.entity }

func (s *RecordService[T]) guard(ctx context.Context) error {
	if s.demo.IsDemo(ctx) {
		return fmt.Errorf("%w: secure storage is not available in demo mode", common.ErrSecurityPolicyViolation)
	}
	return nil
}

// writable returns the store or ErrNotConfigured.
func (s *RecordService[T]) writable(ctx context.Context) (*storage.EntityStore, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	st := s.stores.Store(s.entity)
	if st == nil {
		return nil, common.ErrNotConfigured
	}
	return st, nil
}

// List returns every stored item. Without a configured store it returns an
// empty list.
func (s *RecordService[T]) List(ctx context.Context) ([]T, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	st := s.stores.Store(s.entity)
	if st == nil {
		return []T{}, nil
	}

	recs, err := st.GetAll(ctx)
	if err != nil {
		s.logger.Error(ctx, "list failed", "error", err)
		return nil, err
	}

	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := fromRecord[T](r)
		if err != nil {
			s.logger.Error(ctx, "decode failed", "error", err)
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns the item with id. The boolean is false when it does not exist
// or when no store is configured.
func (s *RecordService[T]) Get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	if err := s.guard(ctx); err != nil {
		return zero, false, err
	}
	st := s.stores.Store(s.entity)
	if st == nil {
		return zero, false, nil
	}

	r, found, err := st.GetByID(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "get failed", "id", id, "error", err)
		return zero, false, err
	}
	if !found {
		return zero, false, nil
	}
	v, err := fromRecord[T](r)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Create stores v and returns it with id and timestamps set.
func (s *RecordService[T]) Create(ctx context.Context, v T) (T, error) {
	return s.write(ctx, v, (*storage.EntityStore).Save)
}

// Update replaces an existing item. Updating an id that is not stored, or
// that a concurrent Delete removed, fails with common.ErrorNotFound.
func (s *RecordService[T]) Update(ctx context.Context, v T) (T, error) {
	if v.GetID() == 0 {
		var zero T
		return zero, fmt.Errorf("%w: update without id", common.ErrorNotFound)
	}
	return s.write(ctx, v, (*storage.EntityStore).Update)
}

func (s *RecordService[T]) write(ctx context.Context, v T, op func(*storage.EntityStore, context.Context, storage.Record) (storage.Record, error)) (T, error) {
	var zero T
	st, err := s.writable(ctx)
	if err != nil {
		return zero, err
	}

	rec, err := toRecord(v)
	if err != nil {
		return zero, err
	}
	saved, err := op(st, ctx, rec)
	if err != nil {
		s.logger.Error(ctx, "write failed", "id", v.GetID(), "error", err)
		return zero, err
	}
	return fromRecord[T](saved)
}

// Delete removes the item with id. Unknown ids are ignored.
func (s *RecordService[T]) Delete(ctx context.Context, id int64) error {
	st, err := s.writable(ctx)
	if err != nil {
		return err
	}
	if err := st.Delete(ctx, id); err != nil {
		s.logger.Error(ctx, "delete failed", "id", id, "error", err)
		return err
	}
	return nil
}

func toRecord(v any) (storage.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var r storage.Record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}

func fromRecord[T any](r storage.Record) (T, error) {
	var out T
	b, err := json.Marshal(r)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}
