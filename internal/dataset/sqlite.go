package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/samber/mo"
)

const entryColumns = `clean_text, url, start_time, end_time, text, org_text, label, signer_id, fps, width, height`

// SQLiteSource serves the dataset from the dataset_entries table filled by
// Import.
type SQLiteSource struct {
	db *sql.DB
}

func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

func (s *SQLiteSource) Name() string {
	return "sqlite"
}

func (s *SQLiteSource) Open(ctx context.Context) (Table, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	return &sqliteTable{db: s.db}, nil
}

type sqliteTable struct {
	db *sql.DB
}

func (t *sqliteTable) Find(ctx context.Context, word string) (mo.Option[Entry], error) {
	row := t.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM dataset_entries WHERE clean_text = ? ORDER BY position LIMIT 1", word)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return mo.None[Entry](), nil
	}
	if err != nil {
		return mo.None[Entry](), fmt.Errorf("find %q: %w", word, err)
	}
	return mo.Some(*e), nil
}

func (t *sqliteTable) Candidates(ctx context.Context, word string) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM dataset_entries WHERE clean_text = ? ORDER BY position", word)
	if err != nil {
		return nil, fmt.Errorf("candidates %q: %w", word, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (t *sqliteTable) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT clean_text) FROM dataset_entries").Scan(&st.Entries, &st.Words)
	return st, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var text, orgText sql.NullString
	if err := row.Scan(&e.CleanText, &e.URL, &e.StartTime, &e.EndTime, &text, &orgText,
		&e.Label, &e.SignerID, &e.FPS, &e.Width, &e.Height); err != nil {
		return nil, err
	}
	e.Text = text.String
	e.OrgText = orgText.String
	return &e, nil
}

// Import replaces the dataset_entries table with the JSON array read from r.
// Stored order follows the array order. It returns the number of entries.
func Import(ctx context.Context, db *sql.DB, r io.Reader) (int, error) {
	entries, err := Decode(r)
	if err != nil {
		return 0, fmt.Errorf("decode dataset: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dataset_entries"); err != nil {
		return 0, fmt.Errorf("clear dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_entries (position, `+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.CleanText, e.URL, e.StartTime, e.EndTime,
			nullString(e.Text), nullString(e.OrgText), e.Label, e.SignerID, e.FPS, e.Width, e.Height); err != nil {
			return 0, fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
