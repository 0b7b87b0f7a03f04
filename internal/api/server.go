package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/pipeline"
	"github.com/signreel/signreel/internal/playback"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/workspace"
)

// Renderer runs the phrase pipeline for one request.
type Renderer interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// CleanupScheduler removes request artifacts after delivery.
type CleanupScheduler interface {
	Schedule(ctx context.Context, requestID string, paths []string) *store.CleanupTask
	Pending() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr         string
	AuthToken    string
	CORSOrigins  []string
	Renderer     Renderer
	Workspaces   *workspace.Manager
	Cleanup      CleanupScheduler
	Playback     *playback.Server
	Repository   store.Repository
	Dataset      dataset.Source
	ResolverName string
	Doctor       *media.CachedDoctor
	Logger       *slog.Logger
	StartTime    time.Time
	Version      string
}

func (cfg ServerConfig) fs() afero.Fs {
	if cfg.Workspaces != nil {
		return cfg.Workspaces.Fs()
	}
	return afero.NewOsFs()
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// renders and video delivery have no upper bound
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight renders.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
