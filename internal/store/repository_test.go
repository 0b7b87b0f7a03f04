package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/signreel/signreel/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, *SQLiteRepository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database, NewRepository(database.Conn())
}

func TestRepository_RenderLifecycle(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	rd := &Render{ID: NewID(), Text: "HELLO WORLD"}
	if err := repo.CreateRender(ctx, rd); err != nil {
		t.Fatalf("CreateRender() error = %v", err)
	}

	got, err := repo.GetRender(ctx, rd.ID)
	if err != nil {
		t.Fatalf("GetRender() error = %v", err)
	}
	if got == nil || got.Status != RenderStatusRunning {
		t.Fatalf("GetRender() = %+v, want running render", got)
	}

	rd.Status = RenderStatusVideo
	rd.FrameCount = 50
	rd.Width, rd.Height = 640, 480
	rd.Words = []*RenderWord{
		{Position: 0, Word: "HELLO", Outcome: "matched", Locator: "https://example.com/a", StartTime: 1, EndTime: 2, FrameCount: 25},
		{Position: 1, Word: "XYZ", Outcome: "no_match"},
		{Position: 2, Word: "WORLD", Outcome: "matched", Locator: "https://example.com/b", StartTime: 0.5, EndTime: 1.5, FrameCount: 25},
	}
	if err := repo.FinishRender(ctx, rd); err != nil {
		t.Fatalf("FinishRender() error = %v", err)
	}

	got, err = repo.GetRender(ctx, rd.ID)
	if err != nil {
		t.Fatalf("GetRender() error = %v", err)
	}
	if got.Status != RenderStatusVideo {
		t.Errorf("Status = %s, want %s", got.Status, RenderStatusVideo)
	}
	if got.FrameCount != 50 || got.Width != 640 || got.Height != 480 {
		t.Errorf("unexpected render metrics: %+v", got)
	}
	if len(got.Words) != 3 {
		t.Fatalf("len(Words) = %d, want 3", len(got.Words))
	}
	if got.Words[1].Outcome != "no_match" || got.Words[1].Locator != "" {
		t.Errorf("Words[1] = %+v", got.Words[1])
	}
	if got.Words[2].Word != "WORLD" || got.Words[2].StartTime != 0.5 {
		t.Errorf("Words[2] = %+v", got.Words[2])
	}
}

func TestRepository_GetRender_NotFound(t *testing.T) {
	_, repo := setupTestDB(t)

	got, err := repo.GetRender(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRender() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRender() = %+v, want nil", got)
	}
}

func TestRepository_FinishRender_Unknown(t *testing.T) {
	_, repo := setupTestDB(t)

	err := repo.FinishRender(context.Background(), &Render{ID: "missing", Status: RenderStatusError})
	if err == nil {
		t.Fatal("FinishRender() should fail for unknown render")
	}
}

func TestRepository_ListAndCountRenders(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []string{RenderStatusVideo, RenderStatusError, RenderStatusVideo} {
		rd := &Render{ID: NewID(), Text: "W", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.CreateRender(ctx, rd); err != nil {
			t.Fatalf("CreateRender() error = %v", err)
		}
		rd.Status = status
		if err := repo.FinishRender(ctx, rd); err != nil {
			t.Fatalf("FinishRender() error = %v", err)
		}
	}

	renders, err := repo.ListRenders(ctx, 2)
	if err != nil {
		t.Fatalf("ListRenders() error = %v", err)
	}
	if len(renders) != 2 {
		t.Fatalf("len(renders) = %d, want 2", len(renders))
	}
	if !renders[0].CreatedAt.After(renders[1].CreatedAt) {
		t.Errorf("renders not ordered newest first: %v, %v", renders[0].CreatedAt, renders[1].CreatedAt)
	}

	counts, err := repo.CountRendersByStatus(ctx)
	if err != nil {
		t.Fatalf("CountRendersByStatus() error = %v", err)
	}
	if counts[RenderStatusVideo] != 2 || counts[RenderStatusError] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRepository_CleanupTasks(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	due := time.Now().Add(5 * time.Second)
	t1 := &CleanupTask{ID: NewID(), RequestID: "req-1", Paths: []string{"/tmp/a", "/tmp/b"}, DueAt: due}
	t2 := &CleanupTask{ID: NewID(), RequestID: "req-2", Paths: []string{"/tmp/c"}, DueAt: due.Add(time.Second)}
	for _, task := range []*CleanupTask{t1, t2} {
		if err := repo.CreateCleanupTask(ctx, task); err != nil {
			t.Fatalf("CreateCleanupTask() error = %v", err)
		}
	}

	pending, err := repo.ListPendingCleanupTasks(ctx)
	if err != nil {
		t.Fatalf("ListPendingCleanupTasks() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].ID != t1.ID || len(pending[0].Paths) != 2 {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	if err := repo.MarkCleanupFailed(ctx, t2.ID, "busy"); err != nil {
		t.Fatalf("MarkCleanupFailed() error = %v", err)
	}
	if err := repo.MarkCleanupDone(ctx, t1.ID); err != nil {
		t.Fatalf("MarkCleanupDone() error = %v", err)
	}

	pending, err = repo.ListPendingCleanupTasks(ctx)
	if err != nil {
		t.Fatalf("ListPendingCleanupTasks() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != t2.ID {
		t.Fatalf("pending = %+v, want only %s", pending, t2.ID)
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "busy" {
		t.Errorf("pending[0] = %+v", pending[0])
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "dataset_source"); err != nil || v != "" {
		t.Fatalf("GetConfig() = %q, %v", v, err)
	}
	if err := repo.SetConfig(ctx, "dataset_source", "a.json"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "dataset_source", "b.json"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if v, _ := repo.GetConfig(ctx, "dataset_source"); v != "b.json" {
		t.Errorf("GetConfig() = %q, want b.json", v)
	}
}
