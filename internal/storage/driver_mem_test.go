package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
)

var errInjected = errors.New("injected write failure")

// memDriver keeps containers in a map. failWrites makes the next n writes
// fail before anything is replaced.
type memDriver struct {
	mu         sync.Mutex
	data       map[string][]byte
	meta       map[string]Meta
	writes     int
	failWrites int
	handle     string
	available  bool
}

func newMemDriver() *memDriver {
	return &memDriver{
		data:      map[string][]byte{},
		meta:      map[string]Meta{},
		available: true,
	}
}

func (d *memDriver) Type() BackendType { return BackendDirectFS }
func (d *memDriver) Available() bool   { return d.available }
func (d *memDriver) Handle() string    { return d.handle }
func (d *memDriver) Close() error      { return nil }

func (d *memDriver) Open(_ context.Context, handle string) (string, error) {
	if handle == "" {
		handle = "mem"
	}
	d.handle = handle
	return handle, nil
}

func (d *memDriver) Read(_ context.Context, entity string) (*Blob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.data[entity]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := append([]byte(nil), b...)
	m := d.meta[entity]
	return &Blob{Data: out, Meta: &m, Size: int64(len(out))}, nil
}

func (d *memDriver) Write(_ context.Context, entity string, data []byte, meta Meta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrites > 0 {
		d.failWrites--
		return errInjected
	}
	d.data[entity] = append([]byte(nil), data...)
	d.meta[entity] = meta
	d.writes++
	return nil
}

func (d *memDriver) List(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.data))
	for k := range d.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (d *memDriver) raw(entity string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data[entity]...)
}

func (d *memDriver) setRaw(entity string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[entity] = data
}

func (d *memDriver) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}
