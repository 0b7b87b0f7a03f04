package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/config"
	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/db"
	"github.com/signreel/signreel/internal/logging"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/pipeline"
	"github.com/signreel/signreel/internal/resolver"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/timeline"
)

const unavailableCacheFile = "unavailable.json"

// app holds the collaborators shared by the serve and render commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	fs       afero.Fs
	db       *db.DB
	repo     *store.SQLiteRepository
	dataset  dataset.Source
	resolver resolver.Resolver
	doctor   *media.CachedDoctor
	pipeline *pipeline.Pipeline
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		fs:     afero.NewOsFs(),
		db:     database,
		repo:   store.NewRepository(database.Conn()),
	}
	a.dataset = openDataset(cfg, a.fs, database)

	a.resolver, err = resolver.New(resolver.Config{
		Backend:        cfg.Resolver.Backend,
		Timeout:        cfg.Resolver.Timeout.Duration,
		YTDLPPath:      cfg.Resolver.YTDLPPath,
		Format:         cfg.Resolver.Format,
		MaxSourceBytes: cfg.Resolver.MaxSourceBytes,
		CacheFs:        a.fs,
		CachePath:      filepath.Join(cfg.CacheDir(), unavailableCacheFile),
		UnavailableTTL: cfg.Resolver.UnavailableTTL.Duration,
		Logger:         logger,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	mcfg := mediaConfig(cfg, logger)
	a.doctor = newDoctor(cfg, mcfg, logger)
	a.pipeline = pipeline.New(pipeline.Options{
		Dataset:     a.dataset,
		Resolver:    a.resolver,
		Extractor:   clip.NewExtractor(media.NewDecoder(mcfg), logging.WithComponent(logger, "clip")),
		Assembler:   timeline.NewAssembler(media.NewEncoder(mcfg), logging.WithComponent(logger, "timeline")),
		Concurrency: cfg.Pipeline.Concurrency,
		Logger:      logger,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func openDataset(cfg *config.Config, fs afero.Fs, database *db.DB) dataset.Source {
	if cfg.Dataset.Backend == config.DatasetSQLite {
		return dataset.NewSQLiteSource(database.Conn())
	}
	return dataset.NewJSONSource(fs, cfg.Dataset.Path)
}

func mediaConfig(cfg *config.Config, logger *slog.Logger) media.Config {
	mcfg := media.DefaultConfig(logging.WithComponent(logger, "media"))
	mcfg.FFmpegPath = cfg.Media.FFmpegPath
	mcfg.FFprobePath = cfg.Media.FFprobePath
	mcfg.Codec = cfg.Media.Codec
	return mcfg
}

func newDoctor(cfg *config.Config, mcfg media.Config, logger *slog.Logger) *media.CachedDoctor {
	var extra []media.Tool
	if cfg.Resolver.Backend == config.ResolverYTDLP {
		extra = append(extra, media.Tool{Name: media.ToolYTDLP, Path: cfg.Resolver.YTDLPPath, VersionArgs: []string{"--version"}})
	}
	return media.NewCachedDoctor(media.NewToolDoctor(mcfg, extra...), logger)
}
