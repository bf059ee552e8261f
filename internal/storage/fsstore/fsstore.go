// Package fsstore is the direct-filesystem storage driver. Each entity is one
// file in a user-granted directory:
//
//	<dir>/<entity>.hds
//
// The file starts with one line of clear JSON metadata followed by the
// encrypted container bytes. Both are replaced by a single rename, so a crash
// leaves either the old or the new pair on disk.
//
// The directory path is the capability handle. It comes from an explicit
// argument, from the persisted handle store, or from a DirectoryPicker, in
// that order.
package fsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/filex"
	"github.com/dmitrijs2005/osteokeeper/internal/handles"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

const (
	// HandleKey is the handle-store key holding the granted directory.
	HandleKey = handles.KeyDirectory

	containerExt = ".hds"
	probePattern = ".hds-probe-*"
	tempPattern  = ".hds-tmp-*"

	lookupTimeout = 2 * time.Second
)

// ErrPickerCancelled is returned by pickers when the user dismisses the dialog.
var ErrPickerCancelled = errors.New("directory selection cancelled")

// commit is swapped in tests to inject failures at the rename step.
var commit = filex.Commit

// HandleLookup reads persisted handles. Get returns common.ErrorNotFound when
// the key is absent.
type HandleLookup interface {
	Get(ctx context.Context, key string) (string, error)
}

// DirectoryPicker asks the user for a directory. It may block on user input,
// so it is only called from Open and at most once per Driver.
type DirectoryPicker interface {
	PickDirectory(ctx context.Context) (string, error)
}

// PickerFunc adapts a function to DirectoryPicker.
type PickerFunc func(ctx context.Context) (string, error)

func (f PickerFunc) PickDirectory(ctx context.Context) (string, error) { return f(ctx) }

type Option func(*Driver)

// WithHandles sets where a previously granted directory is looked up.
func WithHandles(h HandleLookup) Option {
	return func(d *Driver) { d.handles = h }
}

// WithPicker sets the interactive fallback used when no handle is known.
func WithPicker(p DirectoryPicker) Option {
	return func(d *Driver) { d.picker = p }
}

func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// Driver implements storage.Driver on a local directory.
type Driver struct {
	handles HandleLookup
	picker  DirectoryPicker
	logger  logging.Logger

	pickOnce sync.Once
	picked   string
	pickErr  error

	mu  sync.RWMutex
	dir string
}

var _ storage.Driver = (*Driver)(nil)

func New(opts ...Option) *Driver {
	d := &Driver{logger: logging.Discard()}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Type() storage.BackendType { return storage.BackendDirectFS }

// Available reports whether a directory can be obtained without failing
// outright: one is bound already, one is persisted, or a picker exists.
func (d *Driver) Available() bool {
	if d.Handle() != "" || d.picker != nil {
		return true
	}
	if d.handles == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	dir, err := d.handles.Get(ctx, HandleKey)
	return err == nil && filex.IsDir(dir)
}

func (d *Driver) Handle() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dir
}

// Open resolves the directory, checks it is writable with a zero-byte probe,
// and binds it. An explicit or picked directory is created when missing; a
// persisted one must still exist.
func (d *Driver) Open(ctx context.Context, handle string) (string, error) {
	dir, mustExist, err := d.resolve(ctx, handle)
	if err != nil {
		return "", err
	}

	if mustExist {
		if !filex.IsDir(dir) {
			return "", common.NewConfigurationError(common.ReasonHandleMissing, fmt.Errorf("directory %s", dir))
		}
	} else if dir, err = filex.EnsureDir(dir); err != nil {
		return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
	}

	if err := filex.ProbeWritable(dir, probePattern); err != nil {
		return "", common.NewConfigurationError(common.ReasonPermissionDenied, err)
	}
	d.sweep(ctx, dir)

	d.mu.Lock()
	d.dir = dir
	d.mu.Unlock()

	d.logger.Debug(ctx, "directory bound", "dir", dir)
	return dir, nil
}

func (d *Driver) resolve(ctx context.Context, handle string) (dir string, mustExist bool, err error) {
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

	if d.picker == nil {
		return "", false, common.NewConfigurationError(common.ReasonUnsupported, errors.New("no directory granted"))
	}

	d.pickOnce.Do(func() {
		d.picked, d.pickErr = d.picker.PickDirectory(ctx)
	})
	if d.pickErr != nil {
		return "", false, common.NewConfigurationError(common.ReasonPermissionDenied, d.pickErr)
	}
	if d.picked == "" {
		return "", false, common.NewConfigurationError(common.ReasonPermissionDenied, ErrPickerCancelled)
	}
	return d.picked, false, nil
}

// sweep removes temp files left behind by an interrupted Write.
func (d *Driver) sweep(ctx context.Context, dir string) {
	leftovers, err := filepath.Glob(filepath.Join(dir, tempPattern))
	if err != nil {
		return
	}
	for _, f := range leftovers {
		if err := os.Remove(f); err != nil {
			d.logger.Warn(ctx, "stale temp file not removed", "file", f, "error", err)
			continue
		}
		d.logger.Info(ctx, "stale temp file removed", "file", f)
	}
}

func (d *Driver) path(entity string) (string, error) {
	if !storage.ValidEntityName(entity) {
		return "", common.NewConfigurationError(common.ReasonInvalidArgument, fmt.Errorf("entity %q", entity))
	}
	dir := d.Handle()
	if dir == "" {
		return "", common.ErrNotConfigured
	}
	return filepath.Join(dir, entity+containerExt), nil
}

// Read returns the container and its metadata. A file without a metadata
// line is reported as an integrity error.
func (d *Driver) Read(ctx context.Context, entity string) (*storage.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.path(entity)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	header, data, ok := bytes.Cut(raw, []byte{'\n'})
	var m storage.Meta
	if !ok || json.Unmarshal(header, &m) != nil {
		return nil, &common.IntegrityError{
			Entity:   entity,
			Problems: []string{"malformed container file header"},
		}
	}
	return &storage.Blob{Data: data, Meta: &m, Size: int64(len(data))}, nil
}

// Write stages the metadata line and the container as one synced temp file
// and renames it into place. A failed Write leaves the previous file intact.
func (d *Driver) Write(ctx context.Context, entity string, data []byte, meta storage.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.path(entity)
	if err != nil {
		return err
	}

	header, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(header)+1+len(data))
	buf = append(buf, header...)
	buf = append(buf, '\n')
	buf = append(buf, data...)

	tmp, err := filex.WriteTemp(filepath.Dir(path), tempPattern, buf, filex.FilePerm)
	if err != nil {
		return err
	}
	return commit(tmp, path)
}

// List returns the entities that have a container file.
func (d *Driver) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := d.Handle()
	if dir == "" {
		return nil, common.ErrNotConfigured
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), containerExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), containerExt)
		if storage.ValidEntityName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close unbinds the directory. Files are left in place.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.dir = ""
	d.mu.Unlock()
	return nil
}
