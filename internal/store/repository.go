package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeLayout keeps a fixed fraction width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Repository interface {
	CreateRender(ctx context.Context, render *Render) error
	FinishRender(ctx context.Context, render *Render) error
	GetRender(ctx context.Context, id string) (*Render, error)
	ListRenders(ctx context.Context, limit int) ([]*Render, error)
	CountRendersByStatus(ctx context.Context) (map[string]int, error)

	CreateCleanupTask(ctx context.Context, task *CleanupTask) error
	ListPendingCleanupTasks(ctx context.Context) ([]*CleanupTask, error)
	MarkCleanupDone(ctx context.Context, id string) error
	MarkCleanupFailed(ctx context.Context, id, errorMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRender(ctx context.Context, rd *Render) error {
	now := time.Now().UTC()
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = now
	}
	rd.UpdatedAt = now
	if rd.Status == "" {
		rd.Status = RenderStatusRunning
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO renders (id, text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, rd.ID, rd.Text, rd.Status, rd.CreatedAt.Format(timeLayout), rd.UpdatedAt.Format(timeLayout))
	return err
}

// FinishRender stores the terminal state of a render together with its
// per-word outcomes.
func (r *SQLiteRepository) FinishRender(ctx context.Context, rd *Render) error {
	rd.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE renders SET status = ?, error_kind = ?, error = ?, output_path = ?,
			frame_count = ?, width = ?, height = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, rd.Status, nullString(rd.ErrorKind), nullString(rd.Error), nullString(rd.OutputPath),
		rd.FrameCount, rd.Width, rd.Height, rd.DurationMs, rd.UpdatedAt.Format(timeLayout), rd.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("render %s not found", rd.ID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM render_words WHERE render_id = ?", rd.ID); err != nil {
		return err
	}
	for _, w := range rd.Words {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO render_words (render_id, position, word, outcome, locator, start_time, end_time, frame_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rd.ID, w.Position, w.Word, w.Outcome, nullString(w.Locator), w.StartTime, w.EndTime, w.FrameCount)
		if err != nil {
			return fmt.Errorf("insert word %d: %w", w.Position, err)
		}
	}

	return tx.Commit()
}

const renderColumns = `id, text, status, error_kind, error, output_path, frame_count, width, height, duration_ms, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (*Render, error) {
	var rd Render
	var errorKind, errMsg, outputPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&rd.ID, &rd.Text, &rd.Status, &errorKind, &errMsg, &outputPath,
		&rd.FrameCount, &rd.Width, &rd.Height, &rd.DurationMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rd.ErrorKind = errorKind.String
	rd.Error = errMsg.String
	rd.OutputPath = outputPath.String
	rd.CreatedAt = parseTime(createdAt)
	rd.UpdatedAt = parseTime(updatedAt)
	return &rd, nil
}

// GetRender returns the render with its words, or nil when it does not exist.
func (r *SQLiteRepository) GetRender(ctx context.Context, id string) (*Render, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+renderColumns+" FROM renders WHERE id = ?", id)
	rd, err := scanRender(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT position, word, outcome, locator, start_time, end_time, frame_count
		FROM render_words WHERE render_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var w RenderWord
		var locator sql.NullString
		var start, end sql.NullFloat64
		if err := rows.Scan(&w.Position, &w.Word, &w.Outcome, &locator, &start, &end, &w.FrameCount); err != nil {
			return nil, err
		}
		w.Locator = locator.String
		w.StartTime = start.Float64
		w.EndTime = end.Float64
		rd.Words = append(rd.Words, &w)
	}
	return rd, rows.Err()
}

func (r *SQLiteRepository) ListRenders(ctx context.Context, limit int) ([]*Render, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+renderColumns+" FROM renders ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var renders []*Render
	for rows.Next() {
		rd, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		renders = append(renders, rd)
	}
	return renders, rows.Err()
}

func (r *SQLiteRepository) CountRendersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM renders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) CreateCleanupTask(ctx context.Context, t *CleanupTask) error {
	paths, err := json.Marshal(t.Paths)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cleanup_tasks (id, request_id, paths, due_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.RequestID, string(paths), t.DueAt.UTC().Format(timeLayout), t.Attempts, t.CreatedAt.Format(timeLayout))
	return err
}

// ListPendingCleanupTasks returns tasks that have not completed, oldest due first.
func (r *SQLiteRepository) ListPendingCleanupTasks(ctx context.Context) ([]*CleanupTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, paths, due_at, attempts, last_error, created_at
		FROM cleanup_tasks WHERE done_at IS NULL ORDER BY due_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*CleanupTask
	for rows.Next() {
		var t CleanupTask
		var paths, dueAt, createdAt string
		var lastError sql.NullString
		if err := rows.Scan(&t.ID, &t.RequestID, &paths, &dueAt, &t.Attempts, &lastError, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paths), &t.Paths); err != nil {
			return nil, fmt.Errorf("decode paths of task %s: %w", t.ID, err)
		}
		t.DueAt = parseTime(dueAt)
		t.CreatedAt = parseTime(createdAt)
		t.LastError = lastError.String
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (r *SQLiteRepository) MarkCleanupDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE cleanup_tasks SET done_at = ?, attempts = attempts + 1 WHERE id = ?",
		time.Now().UTC().Format(timeLayout), id)
	return err
}

func (r *SQLiteRepository) MarkCleanupFailed(ctx context.Context, id, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE cleanup_tasks SET attempts = attempts + 1, last_error = ? WHERE id = ?", errorMsg, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
