package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/models"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
	"github.com/dmitrijs2005/osteokeeper/internal/storage/fsstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noStores struct{}

func (noStores) Store(string) *storage.EntityStore { return nil }

func newEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e := storage.NewEngine(fsstore.New())
	require.NoError(t, e.Configure(context.Background(), []byte("pw"), models.AllEntities, filepath.Join(t.TempDir(), "hds")))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRecordService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := NewPatientService(newEngine(t), nil, nil)
	assert.Equal(t, models.EntityPatients, svc.Entity())

	created, err := svc.Create(ctx, models.Patient{FirstName: "Jean", LastName: "Dupont"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.NotEmpty(t, created.CreatedAt)
	assert.NotEmpty(t, created.UpdatedAt)

	got, found, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created, got)

	got.Phone = "0600000000"
	updated, err := svc.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "0600000000", updated.Phone)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0600000000", list[0].Phone)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, found, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordService_UpdateUnknownID(t *testing.T) {
	ctx := context.Background()
	svc := NewInvoiceService(newEngine(t), nil, nil)

	_, err := svc.Update(ctx, models.Invoice{Base: models.Base{ID: 7}, Number: "F-7"})
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.Update(ctx, models.Invoice{Number: "F-0"})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRecordService_UpdateRacingDeleteNeverResurrects(t *testing.T) {
	ctx := context.Background()
	svc := NewPatientService(newEngine(t), nil, nil)

	for i := 0; i < 20; i++ {
		p, err := svc.Create(ctx, models.Patient{FirstName: "Jean"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var updateErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Phone = "0600000000"
			_, updateErr = svc.Update(ctx, p)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Delete(ctx, p.ID))
		}()
		wg.Wait()

		_, found, err := svc.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, found, "deleted patient %d came back", p.ID)
		if updateErr != nil {
			require.ErrorIs(t, updateErr, common.ErrorNotFound)
		}
	}
}

func TestRecordService_WithoutStore(t *testing.T) {
	ctx := context.Background()
	svc := NewAppointmentService(noStores{}, nil, nil)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, found, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = svc.Create(ctx, models.Appointment{PatientID: 1})
	require.ErrorIs(t, err, common.ErrNotConfigured)
	require.ErrorIs(t, svc.Delete(ctx, 1), common.ErrNotConfigured)
}

func TestRecordService_DemoSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	demo := DemoFunc(func(context.Context) bool { return true })
	svc := NewPhotoService(newEngine(t), demo, nil)

	_, err := svc.Create(ctx, models.Photo{FileName: "x.jpg", Data: []byte{1, 2}})
	require.ErrorIs(t, err, common.ErrSecurityPolicyViolation)

	_, err = svc.List(ctx)
	require.ErrorIs(t, err, common.ErrSecurityPolicyViolation)

	require.ErrorIs(t, svc.Delete(ctx, 1), common.ErrSecurityPolicyViolation)
}

func TestRecordService_LockedStorePropagates(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	svc := NewConsultationReportService(e, nil, nil)
	e.Lock()

	_, err := svc.List(ctx)
	require.ErrorIs(t, err, common.ErrLocked)
}

func TestRecordService_PhotoBytesSurvive(t *testing.T) {
	ctx := context.Background()
	svc := NewPhotoService(newEngine(t), NeverDemo, nil)

	p, err := svc.Create(ctx, models.Photo{PatientID: 3, FileName: "spine.png", Data: []byte{0x89, 0x50, 0x4e, 0x47}})
	require.NoError(t, err)

	got, found, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, got.Data)
}
