package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Field names every record carries.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Record is one domain entity as a JSON object. Numbers decoded from storage
// are json.Number so integer ids survive unchanged.
type Record map[string]any

// ID returns the canonical string form of the record id and whether it is set.
func (r Record) ID() (string, bool) {
	return IDKey(r[FieldID])
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IDKey canonicalizes an id value: 1, int64(1), json.Number("1") and "1" all
// map to "1". Empty strings, nil and non-scalar values are not ids.
func IDKey(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, id != ""
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		if f, err := id.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return id.String(), id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32), true
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint32:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	default:
		return "", false
	}
}

// decodeRecords parses a JSON array of objects keeping numbers as json.Number.
func decodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out []Record
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// normalize round-trips r through JSON so callers see the same value types a
// later read would return.
func normalize(r Record) (Record, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("record is not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out Record
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// nextID returns max(numeric ids)+1, or 1 for a set without numeric ids.
func nextID(records []Record) int64 {
	var max int64
	for _, r := range records {
		key, ok := r.ID()
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(key, 10, 64)
		if err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

func indexOf(records []Record, key string) int {
	for i, r := range records {
		if k, ok := r.ID(); ok && k == key {
			return i
		}
	}
	return -1
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// stamp sets createdAt (kept from prev or r when present) and updatedAt.
func stamp(r Record, prev Record, now time.Time) {
	switch {
	case prev != nil && prev[FieldCreatedAt] != nil:
		r[FieldCreatedAt] = prev[FieldCreatedAt]
	case r[FieldCreatedAt] == nil || r[FieldCreatedAt] == "":
		r[FieldCreatedAt] = timestamp(now)
	}
	r[FieldUpdatedAt] = timestamp(now)
}
