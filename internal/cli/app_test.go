package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/config"
	"github.com/dmitrijs2005/osteokeeper/internal/handles"
	"github.com/dmitrijs2005/osteokeeper/internal/manager"
	"github.com/dmitrijs2005/osteokeeper/internal/storage/fsstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*App
	out *bytes.Buffer
	dir string
}

// newTestApp wires an App over a real manager with a directfs backend in a
// temporary directory. input feeds the prompts the commands read.
func newTestApp(t *testing.T, input string) *testApp {
	t.Helper()
	dir := t.TempDir()

	db, err := handles.OpenDatabase(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := handles.NewSQLiteRepository(db)

	m := manager.New(manager.Deps{
		Handles:  repo,
		DirectFS: fsstore.New(fsstore.WithHandles(repo)),
	})
	cfg := &config.Config{
		Entities: []string{"patients", "invoices"},
		DataDir:  filepath.Join(dir, "hds"),
	}

	out := &bytes.Buffer{}
	return &testApp{
		App: NewApp(m, cfg, strings.NewReader(input), out, nil),
		out: out,
		dir: dir,
	}
}

func (a *testApp) configured(t *testing.T) {
	t.Helper()
	stubPasswords(t, "pw", "pw")
	require.NoError(t, a.Configure(context.Background()))
	a.out.Reset()
}

func TestApp_Configure(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")

	stubPasswords(t, "pw", "other")
	require.Error(t, a.Configure(ctx))
	assert.Equal(t, manager.StateUnconfigured, a.manager.State())

	stubPasswords(t, "pw", "pw")
	require.NoError(t, a.Configure(ctx))
	assert.Equal(t, manager.StateUnlocked, a.manager.State())
	assert.Contains(t, a.out.String(), "Configured directfs storage for 2 entities")
	assert.Equal(t, "unlocked", a.status())
}

func TestApp_RecordsRequireConfiguration(t *testing.T) {
	a := newTestApp(t, "")
	err := a.List(context.Background(), []string{"patients"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestApp_AddListDelete(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")
	a.configured(t)

	require.NoError(t, a.Add(ctx, []string{"patients", "firstName=Jean", "age=42"}))
	assert.Contains(t, a.out.String(), "Saved patients id=1")

	a.out.Reset()
	require.NoError(t, a.List(ctx, []string{"patients"}))
	assert.Contains(t, a.out.String(), `"firstName":"Jean"`)
	assert.Contains(t, a.out.String(), `"age":42`)
	assert.Contains(t, a.out.String(), "1 record(s)")

	require.NoError(t, a.Add(ctx, []string{"patients", "id=1", "firstName=Jeanne"}))
	a.out.Reset()
	require.NoError(t, a.List(ctx, []string{"patients"}))
	assert.Contains(t, a.out.String(), `"firstName":"Jeanne"`)
	assert.Contains(t, a.out.String(), "1 record(s)")

	require.NoError(t, a.Delete(ctx, []string{"patients", "1"}))
	a.out.Reset()
	require.NoError(t, a.List(ctx, []string{"patients"}))
	assert.Contains(t, a.out.String(), "0 record(s)")

	require.ErrorIs(t, a.List(ctx, nil), errUsage)
	require.ErrorIs(t, a.Add(ctx, []string{"patients"}), errUsage)
	require.ErrorIs(t, a.Delete(ctx, []string{"patients"}), errUsage)
	require.Error(t, a.Add(ctx, []string{"patients", "broken"}))
	require.Error(t, a.List(ctx, []string{"unknown"}))
}

func TestApp_LockUnlock(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")
	a.configured(t)

	require.NoError(t, a.Lock(ctx))
	require.ErrorIs(t, a.List(ctx, []string{"patients"}), common.ErrLocked)

	stubPasswords(t, "wrong", "pw")
	require.Error(t, a.Unlock(ctx))
	require.NoError(t, a.Unlock(ctx))
	require.NoError(t, a.List(ctx, []string{"patients"}))
}

func TestApp_VerifyAndStatus(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")
	a.configured(t)

	require.NoError(t, a.Verify(ctx))
	assert.Contains(t, a.out.String(), "invoices")
	assert.Contains(t, a.out.String(), "ok")

	a.out.Reset()
	require.NoError(t, a.Status(ctx))
	assert.Contains(t, a.out.String(), `"state": "unlocked"`)
	assert.Contains(t, a.out.String(), `"backend": "directfs"`)

	require.NoError(t, os.WriteFile(filepath.Join(a.dir, "hds", "patients.hds"), []byte("{}"), 0o600))
	a.out.Reset()
	err := a.Verify(ctx)
	require.ErrorIs(t, err, common.ErrIntegrity)
	assert.Contains(t, a.out.String(), "FAILED")
}

func TestApp_ExportImport(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")
	a.configured(t)

	require.NoError(t, a.Add(ctx, []string{"patients", "firstName=Jean"}))
	file := filepath.Join(a.dir, "patients.phds")
	require.NoError(t, a.Export(ctx, []string{"patients", file}))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	a.out.Reset()
	stubPasswords(t, "pw")
	require.NoError(t, a.Import(ctx, []string{"invoices", file}))
	assert.Contains(t, a.out.String(), "invoices: 1 added, 0 updated, 1 total")
	assert.Contains(t, a.out.String(), "warning:")

	stubPasswords(t, "nope")
	require.Error(t, a.Import(ctx, []string{"patients", file}))

	require.ErrorIs(t, a.Export(ctx, []string{"patients"}), errUsage)
	require.ErrorIs(t, a.Import(ctx, []string{"patients"}), errUsage)
}

func TestApp_BackupRestore(t *testing.T) {
	ctx := context.Background()
	src := newTestApp(t, "")
	src.configured(t)
	require.NoError(t, src.Add(ctx, []string{"invoices", "number=F-1", "amount=60"}))

	file := filepath.Join(src.dir, "all.phds")
	require.NoError(t, src.Backup(ctx, []string{file}))

	dst := newTestApp(t, "")
	stubPasswords(t, "pw2", "pw2")
	require.NoError(t, dst.Configure(ctx))
	require.NoError(t, dst.Add(ctx, []string{"invoices", "number=F-9"}))

	dst.out.Reset()
	stubPasswords(t, "pw")
	require.NoError(t, dst.Restore(ctx, []string{file, "replace"}))
	assert.Contains(t, dst.out.String(), "invoices: 0 added, 1 updated, 1 total")

	dst.out.Reset()
	require.NoError(t, dst.List(ctx, []string{"invoices"}))
	assert.Contains(t, dst.out.String(), `"number":"F-1"`)
	assert.NotContains(t, dst.out.String(), "F-9")
}

func TestApp_MigrateWithoutLegacy(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "")
	a.configured(t)

	require.ErrorIs(t, a.Migrate(ctx, []string{"u1"}), manager.ErrNoLegacySource)
	require.ErrorIs(t, a.Migrate(ctx, nil), errUsage)
}

func TestApp_Reset(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "no\nyes\n")
	a.configured(t)

	require.NoError(t, a.Reset(ctx))
	assert.Contains(t, a.out.String(), "Cancelled")
	assert.Equal(t, manager.StateUnlocked, a.manager.State())

	require.NoError(t, a.Reset(ctx))
	assert.Equal(t, manager.StateUnconfigured, a.manager.State())

	_, err := os.Stat(filepath.Join(a.dir, "hds", "patients.hds"))
	require.NoError(t, err)
}

func TestApp_ConfigureHandle(t *testing.T) {
	a := newTestApp(t, "")
	dir := a.config.DataDir
	assert.Equal(t, dir, a.configureHandle())

	a.config.PreferredBackend = "embeddeddb"
	assert.Empty(t, a.configureHandle())

	a.config.PreferredBackend = ""
	a.config.Embedded = true
	assert.Empty(t, a.configureHandle())
}

func TestApp_PickDirectory(t *testing.T) {
	a := newTestApp(t, "/srv/hds\n")
	dir, err := a.PickDirectory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv/hds", dir)
}
