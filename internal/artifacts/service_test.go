package artifacts

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photostudio/internal/adapter/memstore"
	"photostudio/internal/domain"
	"photostudio/internal/storage"
)

type fixture struct {
	svc    *Service
	studio *memstore.Studio
	store  *memstore.Artifacts
	files  *storage.FileStore
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	studio := memstore.NewStudio()
	studio.AddScene(domain.SceneAsset{ID: "scene-1", Name: "Park"})
	store := memstore.NewArtifacts(studio)
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	svc := New(Options{Store: store, Files: files, Logger: zerolog.Nop(), Registerer: reg})
	return &fixture{svc: svc, studio: studio, store: store, files: files, reg: reg}
}

var sceneOwner = domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}

func (f *fixture) record(t *testing.T, owner domain.Owner, run string) *domain.Artifact {
	t.Helper()
	key := "/generated/images/" + run + "/" + string(owner.Type) + "-01.png"
	_, err := f.files.Write(context.Background(), key, []byte("png-"+run))
	require.NoError(t, err)
	a := &domain.Artifact{RunID: run, Owner: owner, FilePath: key, MimeType: "image/png"}
	require.NoError(t, f.svc.Record(context.Background(), a))
	return a
}

func (f *fixture) current(t *testing.T) *string {
	t.Helper()
	scene, err := f.studio.SceneAsset(context.Background(), "scene-1")
	require.NoError(t, err)
	return scene.CurrentArtifactID
}

func TestRecordValidates(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Record(context.Background(), &domain.Artifact{Owner: domain.Owner{Type: "bogus", ID: "x"}, FilePath: "/a.png"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	err = f.svc.Record(context.Background(), &domain.Artifact{Owner: sceneOwner})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSetCurrentRules(t *testing.T) {
	f := newFixture(t)
	a := f.record(t, sceneOwner, "r1")

	_, err := f.svc.SetCurrent(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, f.current(t))
	assert.Equal(t, a.ID, *f.current(t))

	planScene := f.record(t, domain.Owner{Type: domain.OwnerTypePlanScene, ID: "plan-1", Slot: "scene:0"}, "r2")
	_, err = f.svc.SetCurrent(context.Background(), planScene.ID)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOwner)

	b := f.record(t, sceneOwner, "r3")
	_, err = f.svc.Delete(context.Background(), b.ID, false)
	require.NoError(t, err)
	_, err = f.svc.SetCurrent(context.Background(), b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.SetCurrent(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteCurrentPromotesNextMostRecent(t *testing.T) {
	f := newFixture(t)
	a1 := f.record(t, sceneOwner, "r1")
	a2 := f.record(t, sceneOwner, "r2")
	a3 := f.record(t, sceneOwner, "r3")
	_, err := f.svc.SetCurrent(context.Background(), a3.ID)
	require.NoError(t, err)

	res, err := f.svc.Delete(context.Background(), a3.ID, true)
	require.NoError(t, err)
	assert.True(t, res.WasCurrent)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, a2.ID, res.Promoted.ID)
	assert.Equal(t, a2.ID, *f.current(t))

	scene, _ := f.studio.SceneAsset(context.Background(), "scene-1")
	require.NotNil(t, scene.PrimaryImagePath)
	assert.Equal(t, a2.FilePath, *scene.PrimaryImagePath)

	_, err = f.files.Read(context.Background(), a3.FilePath)
	assert.Error(t, err, "file should be removed")

	// Deleting a non-current artifact leaves the pointer alone.
	res, err = f.svc.Delete(context.Background(), a1.ID, false)
	require.NoError(t, err)
	assert.False(t, res.WasCurrent)
	assert.Equal(t, a2.ID, *f.current(t))

	// Deleting the last one clears the pointer.
	res, err = f.svc.Delete(context.Background(), a2.ID, false)
	require.NoError(t, err)
	assert.True(t, res.WasCurrent)
	assert.Nil(t, res.Promoted)
	assert.Nil(t, f.current(t))
	scene, _ = f.studio.SceneAsset(context.Background(), "scene-1")
	assert.Nil(t, scene.PrimaryImagePath)
}

func TestDeleteMatchesLegacyPathPointer(t *testing.T) {
	f := newFixture(t)
	a1 := f.record(t, sceneOwner, "r1")
	a2 := f.record(t, sceneOwner, "r2")
	path := a2.FilePath
	f.studio.AddScene(domain.SceneAsset{ID: "scene-1", PrimaryImagePath: &path})

	res, err := f.svc.Delete(context.Background(), a2.ID, false)
	require.NoError(t, err)
	assert.True(t, res.WasCurrent)
	assert.Equal(t, a1.ID, *f.current(t))
}

func TestDeleteArtifactOfRemovedAsset(t *testing.T) {
	f := newFixture(t)
	gone := domain.Owner{Type: domain.OwnerTypeAsset, ID: "gone-asset"}
	a := f.record(t, gone, "r1")

	res, err := f.svc.Delete(context.Background(), a.ID, false)
	require.NoError(t, err)
	assert.False(t, res.WasCurrent)
	assert.Nil(t, res.Promoted)
	assert.True(t, res.Artifact.Deleted())

	report, err := f.svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.record(t, sceneOwner, "r1")

	first, err := f.svc.Delete(context.Background(), a.ID, false)
	require.NoError(t, err)
	assert.False(t, first.AlreadyDeleted)
	require.NotNil(t, first.Artifact.DeletedAt)

	second, err := f.svc.Delete(context.Background(), a.ID, false)
	require.NoError(t, err)
	assert.True(t, second.AlreadyDeleted)
	assert.Equal(t, first.Artifact.DeletedAt.Unix(), second.Artifact.DeletedAt.Unix())
}

func TestConcurrentDeletesAgreeOnPointer(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, run := range []string{"r1", "r2", "r3", "r4", "r5"} {
		ids = append(ids, f.record(t, sceneOwner, run).ID)
	}
	_, err := f.svc.SetCurrent(context.Background(), ids[4])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range ids[2:] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Delete(context.Background(), id, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NotNil(t, f.current(t))
	assert.Equal(t, ids[1], *f.current(t))
}

func TestCleanupPurgesDeleted(t *testing.T) {
	f := newFixture(t)
	a1 := f.record(t, sceneOwner, "r1")
	f.record(t, sceneOwner, "r2")
	_, err := f.svc.Delete(context.Background(), a1.ID, false)
	require.NoError(t, err)

	report, err := f.svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{Count: 1, BytesFreed: int64(len("png-r1"))}, report)
	_, err = f.store.GetByID(context.Background(), a1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.purged))

	report, err = f.svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Count)
}

func TestScheduleCleanupRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	c := cron.New()
	_, err := f.svc.ScheduleCleanup(context.Background(), c, "not a spec")
	assert.Error(t, err)
	id, err := f.svc.ScheduleCleanup(context.Background(), c, "@every 1h")
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestExportZipsLiveArtifacts(t *testing.T) {
	f := newFixture(t)
	f.record(t, sceneOwner, "r1")
	gone := f.record(t, sceneOwner, "r2")
	f.record(t, sceneOwner, "r3")
	_, err := f.svc.Delete(context.Background(), gone.ID, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := f.svc.Export(context.Background(), sceneOwner, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{"r3/asset-01.png", "r1/asset-01.png"}, names)

	_, err = f.svc.Export(context.Background(), domain.Owner{Type: domain.OwnerTypeAsset, ID: "empty"}, &buf)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingFiles struct{ FileStore }

func (failingFiles) Remove(ctx context.Context, key string) error { return errors.New("read-only fs") }

func TestDeleteSucceedsWhenFileRemovalFails(t *testing.T) {
	f := newFixture(t)
	a := f.record(t, sceneOwner, "r1")
	svc := New(Options{Store: f.store, Files: failingFiles{f.files}, Logger: zerolog.Nop(), Now: func() time.Time { return time.Unix(100, 0) }})

	res, err := svc.Delete(context.Background(), a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Artifact.DeletedAt.Unix())
}
