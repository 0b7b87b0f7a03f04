// Package pipeline turns a phrase into one concatenated sign video:
// lookup, resolve, extract and assemble, with per-word failures skipped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/logging"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/resolver"
	"github.com/signreel/signreel/internal/timeline"
	"github.com/signreel/signreel/internal/workspace"
)

// Outcome is what happened to one input word.
type Outcome string

const (
	OutcomeMatched     Outcome = "matched"
	OutcomeNoMatch     Outcome = "no_match"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeOpenFailure Outcome = "open_failure"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusVideo Status = "delivered_video"
	StatusError Status = "delivered_error"
)

// WordOutcome is the match result of one word, in input order.
type WordOutcome struct {
	Position int                      `json:"position"`
	Word     string                   `json:"word"`
	Entry    mo.Option[dataset.Entry] `json:"-"`
	Outcome  Outcome                  `json:"outcome"`
	Locator  string                   `json:"locator,omitempty"`
	Frames   int                      `json:"frames"`
	Reason   string                   `json:"reason,omitempty"`
}

// Request carries everything one run needs. Nothing is shared between runs
// except the read-only collaborators of Pipeline.
type Request struct {
	ID        string
	Text      string
	Workspace *workspace.Workspace
	Logger    *slog.Logger
}

// Result is the outcome of a run. Cleanup lists every path the run created,
// whether or not it succeeded.
type Result struct {
	RequestID string           `json:"request_id"`
	Status    Status           `json:"status"`
	Output    *timeline.Output `json:"output,omitempty"`
	Words     []WordOutcome    `json:"words"`
	Cleanup   []string         `json:"-"`
	Elapsed   time.Duration    `json:"elapsed"`
}

type Options struct {
	Dataset     dataset.Source
	Resolver    resolver.Resolver
	Extractor   *clip.Extractor
	Assembler   *timeline.Assembler
	Concurrency int
	Logger      *slog.Logger
}

type Pipeline struct {
	dataset     dataset.Source
	resolver    resolver.Resolver
	extractor   *clip.Extractor
	assembler   *timeline.Assembler
	concurrency int
	logger      *slog.Logger
}

func New(opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		dataset:     opts.Dataset,
		resolver:    opts.Resolver,
		extractor:   opts.Extractor,
		assembler:   opts.Assembler,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

// Run executes the pipeline for req. The returned Result is never nil; on
// failure its status is StatusError and the error is a *Error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = logging.WithRequestID(p.logger, req.ID)
	}

	res := &Result{RequestID: req.ID, Status: StatusError}
	finish := func(err error) (*Result, error) {
		res.Cleanup = req.Workspace.Tracked()
		res.Elapsed = time.Since(start)
		if err != nil {
			logger.Error("render failed", "kind", KindOf(err), "error", err, "elapsed_ms", res.Elapsed.Milliseconds())
			return res, err
		}
		res.Status = StatusVideo
		logger.Info("render complete",
			"frames", res.Output.FrameCount,
			"matched", lo.CountBy(res.Words, func(w WordOutcome) bool { return w.Outcome == OutcomeMatched }),
			"words", len(res.Words),
			"elapsed_ms", res.Elapsed.Milliseconds(),
		)
		return res, nil
	}

	table, err := p.dataset.Open(ctx)
	if err != nil {
		return finish(&Error{Kind: KindFatal, Err: fmt.Errorf("dataset unavailable: %w", err)})
	}

	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return finish(&Error{Kind: KindEmptyResult, Err: errors.New("no words in input")})
	}
	logger.Info("render started", "words", len(words), "dataset", p.dataset.Name(), "resolver", p.resolver.Name())

	res.Words = make([]WordOutcome, len(words))
	candidates := make([][]dataset.Entry, len(words))
	for i, w := range words {
		res.Words[i] = WordOutcome{Position: i, Word: w, Outcome: OutcomeNoMatch, Entry: mo.None[dataset.Entry]()}
		c, err := table.Candidates(ctx, w)
		if err != nil {
			return finish(&Error{Kind: KindFatal, Word: w, Err: fmt.Errorf("lookup: %w", err)})
		}
		if len(c) == 0 {
			logging.WithWord(logger, w, i).Warn("no video found for word")
			continue
		}
		candidates[i] = c
	}

	// Sources are resolved concurrently but streamed into the output in
	// input order, so at most one clip is being decoded at a time.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sources := make([]*resolver.Source, len(words))
	done := make([]chan struct{}, len(words))
	sem := semaphore.NewWeighted(int64(p.concurrency))
	g, gctx := errgroup.WithContext(runCtx)
	for i := range words {
		done[i] = make(chan struct{})
		if len(candidates[i]) == 0 {
			close(done[i])
			continue
		}
		g.Go(func() error {
			defer close(done[i])
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			src, err := p.resolveWord(gctx, req, logger, &res.Words[i], candidates[i])
			sources[i] = src
			return err
		})
	}

	tl := p.assembler.NewWriter(runCtx, req.Workspace.OutputPath())
	matched, streamErr := p.streamWords(gctx, logger, tl, res.Words, sources, done)
	if streamErr != nil {
		cancel()
		tl.Abort()
	}
	if err := g.Wait(); err != nil && (streamErr == nil || isContextErr(streamErr)) {
		tl.Abort()
		return finish(asFatal(err))
	}
	if streamErr != nil {
		return finish(asFatal(streamErr))
	}

	if matched == 0 {
		tl.Abort()
		return finish(&Error{Kind: KindEmptyResult, Err: errors.New("no word produced a clip")})
	}

	out, err := tl.Finish()
	if err != nil {
		return finish(asFatal(err))
	}
	res.Output = out
	return finish(nil)
}

// resolveWord resolves the word's candidates in dataset order until one can
// be retrieved. It returns nil when every candidate is unavailable. Only
// fatal errors are returned.
func (p *Pipeline) resolveWord(ctx context.Context, req Request, logger *slog.Logger, wo *WordOutcome, candidates []dataset.Entry) (*resolver.Source, error) {
	wlog := logging.WithWord(logger, wo.Word, wo.Position)

	for n, entry := range candidates {
		wo.Entry = mo.Some(entry)
		wo.Locator = entry.URL

		dir, err := req.Workspace.Sub(fmt.Sprintf("src-%03d-%02d", wo.Position, n))
		if err != nil {
			return nil, &Error{Kind: KindFatal, Word: wo.Word, Locator: entry.URL, Err: err}
		}

		src, err := p.resolver.Resolve(ctx, entry.URL, dir)
		if err != nil {
			if resolver.IsUnavailable(err) {
				wo.Outcome = OutcomeUnavailable
				wo.Reason = err.Error()
				wlog.Warn("video unavailable", "locator", entry.URL, "candidate", n, "error", err)
				continue
			}
			return nil, &Error{Kind: KindFatal, Word: wo.Word, Locator: entry.URL, Err: err}
		}
		req.Workspace.Track(src.Paths...)
		wlog.Info("source retrieved", "locator", entry.URL, "path", src.Path, "size", src.Size)
		return src, nil
	}
	return nil, nil
}

// streamWords waits for each word's source in input order and streams its
// clip into tl. It returns the number of matched words.
func (p *Pipeline) streamWords(ctx context.Context, logger *slog.Logger, tl *timeline.Writer, words []WordOutcome, sources []*resolver.Source, done []chan struct{}) (int, error) {
	matched := 0
	for i := range words {
		select {
		case <-done[i]:
		case <-ctx.Done():
			return matched, ctx.Err()
		}
		if sources[i] == nil {
			continue
		}
		ok, err := p.streamWord(ctx, logger, tl, &words[i], sources[i])
		if err != nil {
			return matched, err
		}
		if ok {
			matched++
		}
	}
	return matched, nil
}

// streamWord extracts one word's clip straight into tl. A source that cannot
// be opened drops the word.
func (p *Pipeline) streamWord(ctx context.Context, logger *slog.Logger, tl *timeline.Writer, wo *WordOutcome, src *resolver.Source) (bool, error) {
	wlog := logging.WithWord(logger, wo.Word, wo.Position)
	entry, _ := wo.Entry.Get()
	window := clip.Window{Start: entry.StartTime, End: entry.EndTime}

	begun := false
	n, err := p.extractor.Stream(ctx, src.Path, window, func(f media.Frame) error {
		if !begun {
			tl.Begin(wo.Word, wo.Locator, window)
			begun = true
		}
		return tl.Write(f)
	})
	if err != nil {
		switch {
		case clip.IsOpenError(err):
			wo.Outcome = OutcomeOpenFailure
			wo.Reason = err.Error()
			wlog.Error("error opening video file", "locator", wo.Locator, "error", err)
			return false, nil
		case timeline.IsAssemblyError(err):
			return false, &Error{Kind: KindAssemblyFailure, Word: wo.Word, Locator: wo.Locator, Err: err}
		default:
			return false, &Error{Kind: KindFatal, Word: wo.Word, Locator: wo.Locator, Err: err}
		}
	}
	if !begun {
		tl.Begin(wo.Word, wo.Locator, window)
	}

	wo.Outcome = OutcomeMatched
	wo.Reason = ""
	wo.Frames = n
	return true, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// asFatal classifies err, keeping an existing *Error as is.
func asFatal(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if timeline.IsAssemblyError(err) {
		return &Error{Kind: KindAssemblyFailure, Err: err}
	}
	return &Error{Kind: KindFatal, Err: err}
}
