// Package dataset provides read access to the sign-language lookup table.
// Entries are matched by exact clean_text in stored order.
package dataset

import (
	"context"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Entry is one MS-ASL style record.
type Entry struct {
	CleanText string  `json:"clean_text"`
	URL       string  `json:"url"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text,omitempty"`
	OrgText   string  `json:"org_text,omitempty"`
	Label     int     `json:"label,omitempty"`
	SignerID  int     `json:"signer_id,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}

// Stats summarizes a loaded table.
type Stats struct {
	Entries int `json:"entries"`
	Words   int `json:"words"`
}

// Source loads a Table. Each call returns a fresh view of the dataset.
type Source interface {
	Open(ctx context.Context) (Table, error)
	Name() string
}

// Table is a read-only view of the dataset.
type Table interface {
	// Find returns the first entry whose CleanText equals word.
	Find(ctx context.Context, word string) (mo.Option[Entry], error)
	// Candidates returns every entry for word in stored order.
	Candidates(ctx context.Context, word string) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)
}

// memTable is an in-memory Table over entries in stored order.
type memTable struct {
	entries []Entry
	byWord  map[string][]int
}

func newMemTable(entries []Entry) *memTable {
	byWord := make(map[string][]int)
	for i, e := range entries {
		byWord[e.CleanText] = append(byWord[e.CleanText], i)
	}
	return &memTable{entries: entries, byWord: byWord}
}

func (t *memTable) Find(_ context.Context, word string) (mo.Option[Entry], error) {
	idx, ok := t.byWord[word]
	if !ok || len(idx) == 0 {
		return mo.None[Entry](), nil
	}
	return mo.Some(t.entries[idx[0]]), nil
}

func (t *memTable) Candidates(_ context.Context, word string) ([]Entry, error) {
	return lo.Map(t.byWord[word], func(i int, _ int) Entry {
		return t.entries[i]
	}), nil
}

func (t *memTable) Stats(context.Context) (Stats, error) {
	return Stats{Entries: len(t.entries), Words: len(t.byWord)}, nil
}

// NewTable returns a Table over entries, kept in the given order.
func NewTable(entries []Entry) Table {
	return newMemTable(entries)
}
