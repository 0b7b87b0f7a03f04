package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signreel/signreel/internal/export"
	"github.com/signreel/signreel/internal/store"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))
	r.Post("/fetch_asl_video", fetchVideoHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthToken, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/renders", listRendersHandler(cfg))
		r.Get("/renders/{id}", getRenderHandler(cfg))
		r.Get("/renders/{id}/edl", renderEDLHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{Resolver: cfg.ResolverName}

		if cfg.Dataset != nil {
			resp.Dataset.Backend = cfg.Dataset.Name()
			table, err := cfg.Dataset.Open(ctx)
			if err == nil {
				resp.Dataset.Stats, err = table.Stats(ctx)
			}
			if err != nil {
				resp.Dataset.Error = err.Error()
			}
		}

		if cfg.Doctor != nil {
			resp.Tools = ToolsToResponse(cfg.Doctor.Peek())
		}
		if cfg.Cleanup != nil {
			resp.Cleanup.Pending = cfg.Cleanup.Pending()
		}
		if cfg.Repository != nil {
			counts, err := cfg.Repository.CountRendersByStatus(ctx)
			if err != nil {
				cfg.Logger.Warn("failed to count renders", "error", err)
			}
			resp.Renders = counts
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}

		renders, err := cfg.Repository.ListRenders(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list renders", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list renders", "INTERNAL_ERROR")
			return
		}
		if renders == nil {
			renders = []*store.Render{}
		}
		WriteJSON(w, http.StatusOK, RendersResponse{Renders: renders})
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rd, ok := loadRender(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, rd)
	}
}

func renderEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rd, ok := loadRender(cfg, w, r)
		if !ok {
			return
		}
		if rd.Status != store.RenderStatusVideo {
			WriteError(w, http.StatusConflict, "render produced no video", "NO_VIDEO")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.SanitizeName(rd.ID, 64)+`.edl"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(export.EDL(export.FromRender(rd), rd.Text)))
	}
}

func loadRender(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*store.Render, bool) {
	id := chi.URLParam(r, "id")
	rd, err := cfg.Repository.GetRender(r.Context(), id)
	if err != nil {
		cfg.Logger.Error("failed to get render", "render_id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to get render", "INTERNAL_ERROR")
		return nil, false
	}
	if rd == nil {
		WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
		return nil, false
	}
	return rd, true
}
