package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/model"
	"github.com/aliskhannn/image-transformer/internal/pipeline"
	jobrepo "github.com/aliskhannn/image-transformer/internal/repository/job"
	"github.com/aliskhannn/image-transformer/internal/validate"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes []string
	signed  int
	putErr  error
	delErr  error
	signErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, key)
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, key)
	return nil
}

// AccessURL returns a different URL on every call, like a real signer.
func (s *fakeStore) AccessURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signErr != nil {
		return "", s.signErr
	}
	s.signed++
	return fmt.Sprintf("https://storage.local/%s?sig=%d", key, s.signed), nil
}

type fakeRunner struct {
	refs []pipeline.Ref
}

func (r *fakeRunner) Run(_ context.Context, ref pipeline.Ref) pipeline.Outcome {
	r.refs = append(r.refs, ref)
	return pipeline.Outcome{Status: model.StatusProcessing}
}

// inlineSpawner runs the task before returning.
type inlineSpawner struct{}

func (inlineSpawner) Spawn(ctx context.Context, id uuid.UUID, fn func(ctx context.Context)) *pipeline.Task {
	fn(ctx)
	return nil
}

type env struct {
	svc    *Service
	repo   *jobrepo.Repository
	store  *fakeStore
	runner *fakeRunner
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	db, err := jobrepo.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := jobrepo.NewSQLiteRepository(db)
	require.NoError(t, repo.Migrate(ctx))

	e := &env{repo: repo, store: newFakeStore(), runner: &fakeRunner{}}
	e.svc = NewService(repo, e.store, validate.New(0, nil), e.runner, inlineSpawner{}, 0)

	return e
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestCreateStoresOriginalAndStartsPipeline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessing, job.Status)
	assert.Equal(t, model.OriginalKey(job.ID, "png"), job.OriginalKey)
	assert.Contains(t, e.store.objects, job.OriginalKey)

	require.Len(t, e.runner.refs, 1)
	assert.Equal(t, job.ID, e.runner.refs[0].JobID)
	assert.Equal(t, job.OriginalURL, e.runner.refs[0].OriginalURL)
	assert.Equal(t, "cat.png", e.runner.refs[0].OriginalFilename)

	stored, err := e.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", stored.OwnerToken)
	assert.Equal(t, model.StatusProcessing, stored.Status)
}

func TestCreateRejectsInvalidUpload(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Create(context.Background(), "owner-a", "notes.txt", []byte("plain text"))
	require.Error(t, err)

	c := failure.Classify(err)
	assert.Equal(t, failure.KindValidation, c.Kind)
	assert.Equal(t, "Invalid file type. Please upload a JPG, PNG, GIF, BMP, or TIFF image.", c.Message)
	assert.Empty(t, e.store.objects)
	assert.Empty(t, e.runner.refs)
}

func TestCreateUploadFailure(t *testing.T) {
	e := newEnv(t)
	e.store.putErr = errors.New("connection reset")

	_, err := e.svc.Create(context.Background(), "owner-a", "cat.png", pngBytes(t))
	require.Error(t, err)
	assert.Equal(t, failure.KindUpload, failure.Classify(err).Kind)
	assert.Empty(t, e.runner.refs)
}

func TestGetEnforcesOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)

	_, err = e.svc.Get(ctx, "owner-b", job.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.svc.Get(ctx, "", job.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.svc.Get(ctx, "owner-a", uuid.New())
	assert.ErrorIs(t, err, jobrepo.ErrJobNotFound)
}

func TestGetRegeneratesURLs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, e.repo.UpdateTerminal(ctx, job.ID, model.StatusCompleted,
		model.Completed(model.ProcessedKey(job.ID), "https://storage.local/stale")))

	first, err := e.svc.Get(ctx, "owner-a", job.ID)
	require.NoError(t, err)
	second, err := e.svc.Get(ctx, "owner-a", job.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ProcessedKey, second.ProcessedKey)
	assert.NotEqual(t, first.ProcessedURL, second.ProcessedURL)
	assert.NotEqual(t, first.OriginalURL, second.OriginalURL)
	assert.NotEqual(t, "https://storage.local/stale", first.ProcessedURL)
}

func TestGetFallsBackToStoredURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)

	e.store.signErr = errors.New("signer offline")

	got, err := e.svc.Get(ctx, "owner-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.OriginalURL, got.OriginalURL)
}

func TestListScopesToOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a1, err := e.svc.Create(ctx, "owner-a", "a1.png", pngBytes(t))
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, "owner-b", "b1.png", pngBytes(t))
	require.NoError(t, err)

	jobs, err := e.svc.List(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a1.ID, jobs[0].ID)

	none, err := e.svc.List(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)
	processed := model.ProcessedKey(job.ID)
	require.NoError(t, e.repo.UpdateTerminal(ctx, job.ID, model.StatusCompleted, model.Completed(processed, "")))

	assert.ErrorIs(t, e.svc.Delete(ctx, "", job.ID), ErrUnauthorized)
	assert.ErrorIs(t, e.svc.Delete(ctx, "owner-b", job.ID), ErrForbidden)
	assert.ErrorIs(t, e.svc.Delete(ctx, "owner-a", uuid.New()), jobrepo.ErrJobNotFound)

	require.NoError(t, e.svc.Delete(ctx, "owner-a", job.ID))
	assert.ElementsMatch(t, []string{job.OriginalKey, processed}, e.store.deletes)

	_, err = e.repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, jobrepo.ErrJobNotFound)
}

func TestDeleteSurvivesStorageFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Create(ctx, "owner-a", "cat.png", pngBytes(t))
	require.NoError(t, err)

	e.store.delErr = errors.New("storage down")

	require.NoError(t, e.svc.Delete(ctx, "owner-a", job.ID))
	_, err = e.repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, jobrepo.ErrJobNotFound)
}

func TestReconcileFailsStuckJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stuck, err := e.svc.Create(ctx, "owner-a", "old.png", pngBytes(t))
	require.NoError(t, err)
	done, err := e.svc.Create(ctx, "owner-a", "done.png", pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, e.repo.UpdateTerminal(ctx, done.ID, model.StatusFailed, model.Failed("boom")))

	e.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	ids, err := e.svc.Reconcile(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.ID}, ids)

	got, err := e.repo.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, TimedOutMessage, got.ErrorMessage)
	assert.Contains(t, e.store.deletes, model.TempKey(stuck.ID))

	untouched, err := e.repo.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", untouched.ErrorMessage)
}

func TestReconcileIgnoresRecentJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, "owner-a", "new.png", pngBytes(t))
	require.NoError(t, err)

	ids, err := e.svc.Reconcile(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
