package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/signreel/signreel/internal/api"
	"github.com/signreel/signreel/internal/cleanup"
	"github.com/signreel/signreel/internal/config"
	"github.com/signreel/signreel/internal/logging"
	"github.com/signreel/signreel/internal/playback"
	"github.com/signreel/signreel/internal/workspace"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, ctx.loggerFor(cfg, true))
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now()
	if parent == nil {
		parent = context.Background()
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another signreel server is using %s", cfg.DataDir)
	}
	defer lock.Unlock()

	logger.Info("starting signreel",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir),
		"dataset", cfg.Dataset.Backend,
		"resolver", cfg.Resolver.Backend,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	initCtx, initCancel := context.WithTimeout(parent, 15*time.Second)
	if caps, err := a.doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else if !caps.CanDecode || !caps.CanEncode {
		logger.Warn("media tools missing, renders will fail", "decode", caps.CanDecode, "encode", caps.CanEncode)
	}
	initCancel()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workspaces := workspace.NewManager(a.fs, cfg.WorkspaceDir())
	scheduler := cleanup.NewScheduler(cleanup.Options{
		Fs:           a.fs,
		Store:        a.repo,
		Workspaces:   workspaces,
		Delay:        cfg.Cleanup.Delay.Duration,
		PollInterval: cfg.Cleanup.PollInterval.Duration,
		Logger:       logging.WithComponent(logger, "cleanup"),
	})
	scheduler.Recover(ctx)
	schedCtx, schedCancel := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		scheduler.Start(schedCtx)
		close(schedDone)
	}()

	server := api.NewServer(api.ServerConfig{
		Addr:         cfg.Addr(),
		AuthToken:    cfg.Server.AuthToken,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Renderer:     a.pipeline,
		Workspaces:   workspaces,
		Cleanup:      scheduler,
		Playback:     playback.NewServer(logging.WithComponent(logger, "playback")),
		Repository:   a.repo,
		Dataset:      a.dataset,
		ResolverName: a.resolver.Name(),
		Doctor:       a.doctor,
		Logger:       logger,
		StartTime:    startTime,
		Version:      config.Version,
	})
	if cfg.Server.AuthToken != "" {
		logger.Info("admin endpoints require a bearer token", "token", logging.SanitizeToken(cfg.Server.AuthToken))
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-serveErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		logger.Error("failed to shutdown HTTP server", "error", serr)
	}

	// in-flight renders are done; remove what they left behind
	schedCancel()
	<-schedDone

	logger.Info("shutdown complete", "uptime", time.Since(startTime).Round(time.Second).String())
	return err
}
