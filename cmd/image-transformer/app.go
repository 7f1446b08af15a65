package main

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/config"
	"github.com/aliskhannn/image-transformer/internal/events"
	"github.com/aliskhannn/image-transformer/internal/pipeline"
	jobrepo "github.com/aliskhannn/image-transformer/internal/repository/job"
	"github.com/aliskhannn/image-transformer/internal/storage/file"
	"github.com/aliskhannn/image-transformer/internal/transform"
	"github.com/aliskhannn/image-transformer/internal/transform/local"
	"github.com/aliskhannn/image-transformer/internal/transform/pixelixe"
	"github.com/aliskhannn/image-transformer/internal/transform/removebg"
)

// openRepository connects to the configured job record store and applies the schema.
// The returned func closes every connection.
func openRepository(ctx context.Context, cfg *config.Config) (*jobrepo.Repository, func(), error) {
	if cfg.Database.Driver == "sqlite" {
		db, err := jobrepo.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}

		repo := jobrepo.NewSQLiteRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return repo, func() {
			if err := db.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close sqlite database")
			}
		}, nil
	}

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	closeDB := func() {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close master DB")
		}
		for i, s := range db.Slaves {
			if err := s.Close(); err != nil {
				zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
			}
		}
	}

	repo := jobrepo.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}

	return repo, closeDB, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (*file.Storage, error) {
	s, err := file.NewStorage(ctx, file.Options{
		Endpoint:       cfg.Storage.Endpoint,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.BucketName,
		Region:         cfg.Storage.Region,
		UseSSL:         cfg.Storage.UseSSL,
		PublicEndpoint: cfg.Storage.PublicEndpoint,
		PublicUseSSL:   cfg.Storage.PublicUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	return s, nil
}

// publisher is an event publisher that can be closed on shutdown.
type publisher interface {
	pipeline.EventPublisher
	Close() error
}

func newPublisher(cfg *config.Config) publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		zlog.Logger.Info().Msg("kafka brokers not configured, job events disabled")
		return events.Nop{}
	}

	// Retry strategy for Kafka writes.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, strategy)
}

// newOrchestrator wires the transform stages selected by the configuration.
func newOrchestrator(cfg *config.Config, store *file.Storage, repo *jobrepo.Repository, pub publisher) *pipeline.Orchestrator {
	httpClient := transform.NewHTTPClient(cfg.Transform.Timeout)
	fetcher := transform.NewHTTPFetcher(httpClient, cfg.Transform.FetchLimitBytes)

	remover := removebg.New(cfg.Transform.RemoveBgURL, cfg.Transform.RemoveBgAPIKey, httpClient)

	var flipper pipeline.Flipper
	switch cfg.Transform.FlipProvider {
	case "local":
		flipper = local.NewFlipper(fetcher)
	default:
		flipper = pixelixe.New(cfg.Transform.PixelixeURL, cfg.Transform.PixelixeAPIKey, httpClient)
	}

	return pipeline.New(remover, flipper, store, repo, fetcher, pub, pipeline.Options{
		TempURLTTL:      cfg.Transform.TempURLTTL,
		ProcessedURLTTL: cfg.Transform.URLTTL,
	})
}
