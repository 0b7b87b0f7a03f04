// Package store persists render history and deferred cleanup tasks.
package store

import (
	"time"

	"github.com/google/uuid"
)

const (
	RenderStatusRunning = "running"
	RenderStatusVideo   = "delivered_video"
	RenderStatusError   = "delivered_error"
	RenderStatusFailed  = "failed"
)

type Render struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	Status     string        `json:"status"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	FrameCount int           `json:"frame_count"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	DurationMs int64         `json:"duration_ms"`
	Words      []*RenderWord `json:"words,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// RenderWord records what happened to one input word.
type RenderWord struct {
	Position   int     `json:"position"`
	Word       string  `json:"word"`
	Outcome    string  `json:"outcome"`
	Locator    string  `json:"locator,omitempty"`
	StartTime  float64 `json:"start_time,omitempty"`
	EndTime    float64 `json:"end_time,omitempty"`
	FrameCount int     `json:"frame_count"`
}

type CleanupTask struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	Paths     []string   `json:"paths"`
	DueAt     time.Time  `json:"due_at"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewID() string {
	return uuid.NewString()
}
