package legacy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *BadgerSource {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_Missing(t *testing.T) {
	s := openMem(t)
	recs, found, err := s.Load(context.Background(), "u1", "patients")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, recs)
}

func TestPutLoad(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	in := []storage.Record{{"id": 1, "firstName": "Jean"}, {"id": 2, "firstName": "Paul"}}
	require.NoError(t, s.Put(ctx, "u1", "patients", in))

	recs, found, err := s.Load(ctx, "u1", "patients")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, recs, 2)
	assert.Equal(t, json.Number("1"), recs[0]["id"])
	assert.Equal(t, "Paul", recs[1]["firstName"])
}

func TestLoad_Malformed(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key("u1", "invoices"), []byte("{oops"))
	}))

	_, found, err := s.Load(ctx, "u1", "invoices")
	require.Error(t, err)
	assert.True(t, found)
}

func TestEntitiesAndRemoveAreScoped(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	require.NoError(t, s.Put(ctx, "u1", "patients", nil))
	require.NoError(t, s.Put(ctx, "u1", "invoices", nil))
	require.NoError(t, s.Put(ctx, "u10", "patients", nil))

	names, err := s.Entities(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patients", "invoices"}, names)

	require.NoError(t, s.Remove(ctx, "u1", "patients", "photos"))

	names, err = s.Entities(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices"}, names)

	_, found, err := s.Load(ctx, "u10", "patients")
	require.NoError(t, err)
	assert.True(t, found, "other users must be untouched")
}

func TestNewBadgerSource_DoesNotCloseForeignDB(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	s := NewBadgerSource(db)
	require.NoError(t, s.Close())
	require.NoError(t, s.Put(context.Background(), "u", "patients", nil))
}
