package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKey(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"int", 1, "1", true},
		{"int64", int64(42), "42", true},
		{"float64 integral", float64(7), "7", true},
		{"json number", json.Number("1"), "1", true},
		{"string", "1", "1", true},
		{"uuid string", "a-b", "a-b", true},
		{"empty string", "", "", false},
		{"nil", nil, "", false},
		{"object", map[string]any{"a": 1}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IDKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRecords_KeepsNumbers(t *testing.T) {
	recs, err := decodeRecords([]byte(`[{"id":12345678901234567,"x":1.5}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, json.Number("12345678901234567"), recs[0]["id"])

	empty, err := decodeRecords([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = decodeRecords([]byte(`{"not":"array"}`))
	assert.Error(t, err)
}

func TestNextID(t *testing.T) {
	assert.Equal(t, int64(1), nextID(nil))
	assert.Equal(t, int64(6), nextID([]Record{
		{FieldID: json.Number("2")},
		{FieldID: "5"},
		{FieldID: "abc"},
	}))
}

func TestStamp_PreservesCreatedAt(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	r := Record{}
	stamp(r, nil, t0)
	assert.Equal(t, timestamp(t0), r[FieldCreatedAt])
	assert.Equal(t, timestamp(t0), r[FieldUpdatedAt])

	next := Record{FieldCreatedAt: "bogus"}
	stamp(next, r, t1)
	assert.Equal(t, timestamp(t0), next[FieldCreatedAt])
	assert.Equal(t, timestamp(t1), next[FieldUpdatedAt])
}

func TestRecordClone(t *testing.T) {
	r := Record{"a": "b"}
	c := r.Clone()
	c["a"] = "c"
	assert.Equal(t, "b", r["a"])
}
