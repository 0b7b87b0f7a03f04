package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/signreel/signreel/internal/logging"
	"github.com/signreel/signreel/internal/pipeline"
	"github.com/signreel/signreel/internal/playback"
	"github.com/signreel/signreel/internal/store"
)

const maxFetchBody = 1 << 20

// fetchVideoHandler renders the phrase in the body and streams the video
// back. Cleanup of the request's workspace is scheduled for every outcome;
// on success it is scheduled only after the output is open for delivery.
func fetchVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := RequestID(ctx)
		if id == "" {
			id = uuid.NewString()
		}
		logger := logging.WithRequestID(cfg.Logger, id)

		var req FetchRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFetchBody)).Decode(&req); err != nil || req.Text == nil {
			writeFetchError(w, http.StatusBadRequest, "request body must be a JSON object with a text field")
			return
		}
		text := *req.Text

		ws, err := cfg.Workspaces.Create(id)
		if err != nil {
			logger.Error("failed to create workspace", "error", err)
			writeFetchError(w, http.StatusInternalServerError, "failed to create workspace")
			return
		}

		if cfg.Repository != nil {
			if err := cfg.Repository.CreateRender(ctx, &store.Render{ID: id, Text: text}); err != nil {
				logger.Warn("failed to record render", "error", err)
			}
		}

		// A client that disconnects does not abort the render; its outcome is
		// still recorded and its workspace cleaned up.
		res, runErr := cfg.Renderer.Run(context.WithoutCancel(ctx), pipeline.Request{ID: id, Text: text, Workspace: ws, Logger: logger})
		if res == nil {
			res = &pipeline.Result{RequestID: id, Status: pipeline.StatusError, Cleanup: ws.Tracked()}
		}
		cfg.finishRender(ctx, logger, text, res, runErr)

		if runErr != nil {
			cfg.scheduleCleanup(ctx, id, res.Cleanup)
			status, msg := fetchFailure(runErr)
			writeFetchError(w, status, msg)
			return
		}

		art, err := playback.Open(cfg.fs(), res.Output.Path)
		cfg.scheduleCleanup(ctx, id, res.Cleanup)
		if err != nil {
			logger.Error("failed to open output", "error", err)
			writeFetchError(w, http.StatusInternalServerError, "failed to open output video")
			return
		}
		defer art.Close()

		if _, err := cfg.Playback.Serve(w, r, art); err != nil {
			logger.Warn("video delivery failed", "error", err)
		}
	}
}

func (cfg ServerConfig) finishRender(ctx context.Context, logger *slog.Logger, text string, res *pipeline.Result, runErr error) {
	if cfg.Repository == nil {
		return
	}
	if err := cfg.Repository.FinishRender(context.WithoutCancel(ctx), pipeline.Record(text, res, runErr)); err != nil {
		logger.Warn("failed to record render outcome", "error", err)
	}
}

func (cfg ServerConfig) scheduleCleanup(ctx context.Context, id string, paths []string) {
	if cfg.Cleanup == nil || len(paths) == 0 {
		return
	}
	cfg.Cleanup.Schedule(context.WithoutCancel(ctx), id, paths)
}

// fetchFailure maps a pipeline error to its HTTP status and message.
func fetchFailure(err error) (int, string) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError, err.Error()
	}
	switch pe.Kind {
	case pipeline.KindEmptyResult, pipeline.KindAssemblyFailure:
		return http.StatusUnprocessableEntity, pe.Message()
	default:
		return http.StatusInternalServerError, pe.Message()
	}
}

func writeFetchError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, FetchError{Success: false, Error: msg})
}
