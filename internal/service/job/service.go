package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/model"
	"github.com/aliskhannn/image-transformer/internal/pipeline"
	"github.com/aliskhannn/image-transformer/internal/validate"
)

var (
	// ErrForbidden is returned when the caller does not own the job.
	ErrForbidden = errors.New("access denied")
	// ErrUnauthorized is returned when an operation requires an owner token and none was given.
	ErrUnauthorized = errors.New("owner token required")
)

// TimedOutMessage is stored on jobs failed by reconciliation.
const TimedOutMessage = "Image processing timed out. Please try again."

// repository defines the job record operations used by the service.
type repository interface {
	Create(ctx context.Context, job model.Job) error
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	UpdateTerminal(ctx context.Context, id uuid.UUID, status model.Status, patch model.TerminalPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, owner string) ([]model.Job, error)
	ListStuck(ctx context.Context, before time.Time) ([]model.Job, error)
}

// objectStore defines the object storage operations used by the service.
type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// validator checks uploads before anything is stored.
type validator interface {
	Validate(filename string, data []byte) (validate.Result, error)
}

// runner drives one job to a terminal state.
type runner interface {
	Run(ctx context.Context, ref pipeline.Ref) pipeline.Outcome
}

// spawner starts detached tasks.
type spawner interface {
	Spawn(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context)) *pipeline.Task
}

// Service implements job creation, ownership-scoped reads and deletion.
type Service struct {
	repo      repository
	store     objectStore
	validator validator
	runner    runner
	tasks     spawner
	urlTTL    time.Duration
	now       func() time.Time
}

// NewService creates a Service. urlTTL is the lifetime of access URLs handed to callers.
func NewService(repo repository, store objectStore, v validator, r runner, tasks spawner, urlTTL time.Duration) *Service {
	if urlTTL <= 0 {
		urlTTL = 7 * 24 * time.Hour
	}

	return &Service{
		repo:      repo,
		store:     store,
		validator: v,
		runner:    r,
		tasks:     tasks,
		urlTTL:    urlTTL,
		now:       time.Now,
	}
}

// Create validates and stores the original, records the job as processing and
// starts the pipeline without waiting for it.
// Validation failures are returned as *failure.Error with the validation stage.
func (s *Service) Create(ctx context.Context, owner, filename string, data []byte) (model.Job, error) {
	res, err := s.validator.Validate(filename, data)
	if err != nil {
		return model.Job{}, err
	}

	id := uuid.New()
	key := model.OriginalKey(id, res.Extension)

	if err := s.store.Put(ctx, key, data, res.ContentType); err != nil {
		return model.Job{}, failure.Wrap(failure.StageUpload, "put original", err)
	}

	url, err := s.store.AccessURL(ctx, key, s.urlTTL)
	if err != nil {
		s.deleteObject(ctx, key)
		return model.Job{}, failure.Wrap(failure.StageStorage, "sign original url", err)
	}

	now := s.now().UTC()
	job := model.Job{
		ID:               id,
		OwnerToken:       owner,
		OriginalFilename: filename,
		OriginalKey:      key,
		OriginalURL:      url,
		Status:           model.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		s.deleteObject(ctx, key)
		return model.Job{}, fmt.Errorf("create: failed to save job: %w", err)
	}

	ref := pipeline.Ref{
		JobID:            id,
		OriginalKey:      key,
		OriginalURL:      url,
		OriginalFilename: filename,
	}
	s.tasks.Spawn(ctx, id, func(ctx context.Context) {
		s.runner.Run(ctx, ref)
	})

	zlog.Logger.Info().Str("job_id", id.String()).Str("filename", filename).Int("bytes", len(data)).Msg("job accepted")

	return job, nil
}

// Get returns the job owned by owner with freshly signed URLs.
func (s *Service) Get(ctx context.Context, owner string, id uuid.UUID) (model.Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Job{}, fmt.Errorf("get: %w", err)
	}

	if !job.OwnedBy(owner) {
		return model.Job{}, ErrForbidden
	}

	return s.freshen(ctx, job), nil
}

// List returns the owner's jobs, newest first. An empty owner sees nothing.
func (s *Service) List(ctx context.Context, owner string) ([]model.Job, error) {
	if owner == "" {
		return []model.Job{}, nil
	}

	jobs, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	for i := range jobs {
		jobs[i] = s.freshen(ctx, jobs[i])
	}

	return jobs, nil
}

// Delete removes the job's artifacts best-effort and then its record.
func (s *Service) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	if owner == "" {
		return ErrUnauthorized
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if !job.OwnedBy(owner) {
		return ErrForbidden
	}

	for _, key := range job.Keys() {
		s.deleteObject(ctx, key)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}

// Reconcile fails jobs that have been processing for longer than olderThan.
// It returns the IDs of the jobs it moved to failed.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	stuck, err := s.repo.ListStuck(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	failed := make([]uuid.UUID, 0, len(stuck))
	for _, job := range stuck {
		err := s.repo.UpdateTerminal(ctx, job.ID, model.StatusFailed, model.Failed(TimedOutMessage))
		if err != nil {
			// The pipeline may have finished in the meantime.
			zlog.Logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to reconcile job")
			continue
		}

		s.deleteObject(ctx, model.TempKey(job.ID))
		failed = append(failed, job.ID)
	}

	return failed, nil
}

// freshen replaces stored URLs with newly signed ones, keeping the stored URL
// for any key that cannot be signed.
func (s *Service) freshen(ctx context.Context, job model.Job) model.Job {
	job.OriginalURL = s.signOr(ctx, job.ID, job.OriginalKey, job.OriginalURL)
	if job.ProcessedKey != "" {
		job.ProcessedURL = s.signOr(ctx, job.ID, job.ProcessedKey, job.ProcessedURL)
	}

	return job
}

func (s *Service) signOr(ctx context.Context, id uuid.UUID, key, stored string) string {
	url, err := s.store.AccessURL(ctx, key, s.urlTTL)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Str("key", key).Msg("failed to refresh url, using stored one")
		return stored
	}

	return url
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to delete object")
	}
}
