package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	jobhandler "github.com/aliskhannn/image-transformer/internal/api/handlers/job"
	statshandler "github.com/aliskhannn/image-transformer/internal/api/handlers/stats"
	"github.com/aliskhannn/image-transformer/internal/api/router"
	"github.com/aliskhannn/image-transformer/internal/api/server"
	"github.com/aliskhannn/image-transformer/internal/api/session"
	"github.com/aliskhannn/image-transformer/internal/pipeline"
	jobsvc "github.com/aliskhannn/image-transformer/internal/service/job"
	statssvc "github.com/aliskhannn/image-transformer/internal/service/stats"
	"github.com/aliskhannn/image-transformer/internal/validate"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cc)
		},
	}
}

func serve(ctx context.Context, cc *commandContext) error {
	cfg, err := cc.config()
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	loc, err := cfg.Stats.Location()
	if err != nil {
		return fmt.Errorf("invalid stats timezone: %w", err)
	}

	pub := newPublisher(cfg)
	defer func() {
		if err := pub.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	// Initialize the pipeline, the task registry and the service layer.
	orchestrator := newOrchestrator(cfg, storage, repo, pub)
	registry := pipeline.NewRegistry()
	validator := validate.New(cfg.Transform.MaxUploadSize, nil)

	jobs := jobsvc.NewService(repo, storage, validator, orchestrator, registry, cfg.Transform.URLTTL)
	stats := statssvc.NewService(repo, storage, cfg.Stats.SizeBatch, loc)

	// HTTP handlers.
	jh := jobhandler.NewHandler(jobs, session.New(cfg.Production()), validator.MaxSize())
	sh := statshandler.NewHandler(stats, statssvc.RenderChart)

	r := router.Setup(jh, sh)
	s := server.New(cfg.Server.HTTPPort, r, cfg.Server.AllowedOrigins)

	serveErr := make(chan error, 1)
	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Block until context is canceled (SIGINT/SIGTERM) or the server fails.
	select {
	case <-ctx.Done():
		zlog.Logger.Info().Msg("context done")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	// Graceful shutdown: stop accepting requests, then let running jobs finish.
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = shutdownGrace
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	zlog.Logger.Info().Int("running", registry.Running()).Msg("waiting for running jobs")
	if err := registry.WaitAll(shutdownCtx); err != nil {
		zlog.Logger.Warn().Int("running", registry.Running()).Dur("timeout", timeout).
			Msg("timeout exceeded, abandoning running jobs; reconcile will fail them later")
	}

	return nil
}

// shutdownGrace is the minimum shutdown window, applied when none is configured.
const shutdownGrace = 5 * time.Second
