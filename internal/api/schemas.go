package api

import (
	"time"

	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/store"
)

// FetchRequest is the body of POST /fetch_asl_video.
type FetchRequest struct {
	Text *string `json:"text"`
}

// FetchError is the failure body of POST /fetch_asl_video.
type FetchError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Dataset  DatasetStatus  `json:"dataset"`
	Resolver string         `json:"resolver"`
	Tools    *ToolsStatus   `json:"tools,omitempty"`
	Cleanup  CleanupStatus  `json:"cleanup"`
	Renders  map[string]int `json:"renders,omitempty"`
}

type DatasetStatus struct {
	Backend string `json:"backend"`
	dataset.Stats
	Error string `json:"error,omitempty"`
}

type ToolsStatus struct {
	CanDecode   bool                      `json:"can_decode"`
	CanEncode   bool                      `json:"can_encode"`
	CanFetch    bool                      `json:"can_fetch"`
	Tools       map[string]media.ToolInfo `json:"tools"`
	LastProbeAt string                    `json:"last_probe_at"`
}

type CleanupStatus struct {
	Pending int `json:"pending"`
}

type RendersResponse struct {
	Renders []*store.Render `json:"renders"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ToolsToResponse(caps *media.Capabilities) *ToolsStatus {
	if caps == nil {
		return nil
	}
	return &ToolsStatus{
		CanDecode:   caps.CanDecode,
		CanEncode:   caps.CanEncode,
		CanFetch:    caps.CanFetch,
		Tools:       caps.Tools,
		LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
	}
}
