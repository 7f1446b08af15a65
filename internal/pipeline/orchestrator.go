// Package pipeline drives accepted jobs through background removal and
// flipping to a terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/events"
	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/model"
)

// BackgroundRemover removes the background of an encoded image.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte, filename string) ([]byte, error)
}

// Flipper mirrors the image reachable at imageURL.
type Flipper interface {
	Flip(ctx context.Context, imageURL string) ([]byte, error)
}

// ObjectStore is the subset of object storage used by the pipeline.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// JobStore persists the terminal state of a job.
type JobStore interface {
	UpdateTerminal(ctx context.Context, id uuid.UUID, status model.Status, patch model.TerminalPatch) error
}

// Fetcher downloads an object through its access URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// EventPublisher announces terminal states.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Options tunes access URL lifetimes.
type Options struct {
	TempURLTTL      time.Duration // lifetime of the URL handed to the flip service
	ProcessedURLTTL time.Duration // lifetime of the cached processed URL
}

// Ref identifies the job to run and where its original lives.
type Ref struct {
	JobID            uuid.UUID
	OriginalKey      string
	OriginalURL      string
	OriginalFilename string
}

// Outcome reports what a run did. It exists for logging and tests; callers of a
// detached run have nobody to return an error to.
type Outcome struct {
	Status       model.Status
	ProcessedKey string
	Failure      *failure.Classified
	WriteErr     error // terminal write error; the job stays processing when set
}

// Orchestrator runs jobs through the fixed stage sequence.
type Orchestrator struct {
	remover   BackgroundRemover
	flipper   Flipper
	store     ObjectStore
	jobs      JobStore
	fetcher   Fetcher
	publisher EventPublisher
	opts      Options
	now       func() time.Time
}

// New creates an Orchestrator. A nil publisher discards events.
func New(
	remover BackgroundRemover,
	flipper Flipper,
	store ObjectStore,
	jobs JobStore,
	fetcher Fetcher,
	publisher EventPublisher,
	opts Options,
) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.TempURLTTL <= 0 {
		opts.TempURLTTL = time.Hour
	}
	if opts.ProcessedURLTTL <= 0 {
		opts.ProcessedURLTTL = 7 * 24 * time.Hour
	}

	return &Orchestrator{
		remover:   remover,
		flipper:   flipper,
		store:     store,
		jobs:      jobs,
		fetcher:   fetcher,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// progress tracks artifacts created by a run.
type progress struct {
	tempKey      string // set while a temp object may exist
	processedKey string
	processedURL string
}

// Run drives the job to a terminal state and performs exactly one terminal write.
// Stage errors are classified and stored on the job, never returned.
func (o *Orchestrator) Run(ctx context.Context, ref Ref) Outcome {
	log := zlog.Logger.With().Str("job_id", ref.JobID.String()).Logger()
	started := o.now()

	var p progress
	err := o.runStages(ctx, ref, &p, log)
	if err != nil {
		o.deleteTemp(ctx, &p, log)

		c := failure.Classify(err)
		log.Error().
			Str("stage", string(c.Stage)).
			Str("kind", string(c.Kind)).
			Bool("retryable", c.Retryable).
			Str("detail", c.Detail).
			Msg("job failed")

		return Outcome{
			Status:   model.StatusFailed,
			Failure:  &c,
			WriteErr: o.finish(ctx, ref.JobID, model.StatusFailed, model.Failed(c.Message), string(c.Kind), log),
		}
	}

	log.Info().Dur("elapsed", o.now().Sub(started)).Msg("job completed")

	return Outcome{
		Status:       model.StatusCompleted,
		ProcessedKey: p.processedKey,
		WriteErr:     o.finish(ctx, ref.JobID, model.StatusCompleted, model.Completed(p.processedKey, p.processedURL), "", log),
	}
}

// runStages executes the stages in order. A panic in a collaborator is turned
// into an unclassified error so the terminal write still happens.
func (o *Orchestrator) runStages(ctx context.Context, ref Ref, p *progress, log zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	// Fetch original bytes via the original access URL.
	originalURL := ref.OriginalURL
	if originalURL == "" {
		originalURL, err = o.store.AccessURL(ctx, ref.OriginalKey, o.opts.TempURLTTL)
		if err != nil {
			return failure.Wrap(failure.StageStorage, "sign original url", err)
		}
	}

	log.Debug().Str("stage", "fetch").Msg("fetching original")
	original, err := o.fetcher.Fetch(ctx, originalURL)
	if err != nil {
		return err
	}

	// Remove the background.
	log.Debug().Str("stage", string(failure.StageBackgroundRemoval)).Int("bytes", len(original)).Msg("removing background")
	noBg, err := o.remover.RemoveBackground(ctx, original, ref.OriginalFilename)
	if err != nil {
		return err
	}

	// The flip service consumes a URL, so the intermediate image must be stored first.
	tempKey := model.TempKey(ref.JobID)
	if err := o.store.Put(ctx, tempKey, noBg, "image/png"); err != nil {
		return failure.Wrap(failure.StageStorage, "put temp object", err)
	}
	p.tempKey = tempKey

	tempURL, err := o.store.AccessURL(ctx, tempKey, o.opts.TempURLTTL)
	if err != nil {
		return failure.Wrap(failure.StageStorage, "sign temp url", err)
	}

	// Flip.
	log.Debug().Str("stage", string(failure.StageFlip)).Msg("flipping image")
	flipped, err := o.flipper.Flip(ctx, tempURL)
	if err != nil {
		return err
	}

	// Persist the final image.
	processedKey := model.ProcessedKey(ref.JobID)
	if err := o.store.Put(ctx, processedKey, flipped, "image/png"); err != nil {
		return failure.Wrap(failure.StageStorage, "put processed object", err)
	}
	p.processedKey = processedKey

	o.deleteTemp(ctx, p, log)

	// The cached URL is a convenience; readers regenerate it from the key.
	processedURL, err := o.store.AccessURL(ctx, processedKey, o.opts.ProcessedURLTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", processedKey).Msg("failed to sign processed url")
	}
	p.processedURL = processedURL

	return nil
}

// deleteTemp removes the temp object if one was created. Failures are logged
// and discarded.
func (o *Orchestrator) deleteTemp(ctx context.Context, p *progress, log zerolog.Logger) {
	if p.tempKey == "" {
		return
	}

	key := p.tempKey
	p.tempKey = ""

	if err := o.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to delete temp object")
	}
}

// finish performs the single terminal write and announces it. The write is
// not retried; on failure the job stays processing until reconciled.
func (o *Orchestrator) finish(
	ctx context.Context,
	id uuid.UUID,
	status model.Status,
	patch model.TerminalPatch,
	errorKind string,
	log zerolog.Logger,
) error {
	if err := o.jobs.UpdateTerminal(ctx, id, status, patch); err != nil {
		if errors.Is(err, model.ErrAlreadyTerminal) {
			// Reconciliation got there first; the stored result is no longer referenced.
			log.Warn().Err(err).Str("status", string(status)).Msg("job already finalized, discarding result")
			if patch.ProcessedKey != "" {
				if derr := o.store.Delete(ctx, patch.ProcessedKey); derr != nil {
					log.Warn().Err(derr).Str("key", patch.ProcessedKey).Msg("failed to delete orphaned processed object")
				}
			}
			return err
		}

		log.Error().Err(err).Str("status", string(status)).Msg("failed to write terminal state, job remains processing")
		return err
	}

	if err := o.publisher.Publish(ctx, events.ForStatus(id, status, errorKind, o.now())); err != nil {
		log.Warn().Err(err).Msg("failed to publish job event")
	}

	return nil
}
