package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/signreel/signreel/internal/cleanup"
	"github.com/signreel/signreel/internal/export"
	"github.com/signreel/signreel/internal/pipeline"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/workspace"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var outPath, edlPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "render TEXT",
		Short: "Render a phrase to a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cfg, verbose)

			fs := afero.NewOsFs()
			if err := export.ValidateOutputPath(fs, outPath); err != nil {
				return err
			}
			if edlPath != "" {
				if err := export.ValidateOutputPath(fs, edlPath); err != nil {
					return err
				}
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			tmp, err := afero.TempDir(fs, "", "signreel-render-")
			if err != nil {
				return fmt.Errorf("create workspace root: %w", err)
			}
			ws, err := workspace.NewManager(fs, tmp).Create(store.NewID())
			if err != nil {
				return err
			}

			// render artifacts go as soon as the output is copied out
			sched := cleanup.NewScheduler(cleanup.Options{Fs: fs, Logger: logger})
			defer func() {
				sched.Schedule(context.Background(), ws.ID, append(ws.Tracked(), tmp))
				sched.Flush(context.Background())
			}()

			text := args[0]
			if err := a.repo.CreateRender(cmd.Context(), &store.Render{ID: ws.ID, Text: text}); err != nil {
				logger.Warn("failed to record render", "error", err)
			}
			res, runErr := a.pipeline.Run(cmd.Context(), pipeline.Request{ID: ws.ID, Text: text, Workspace: ws, Logger: logger})
			if err := a.repo.FinishRender(context.WithoutCancel(cmd.Context()), pipeline.Record(text, res, runErr)); err != nil {
				logger.Warn("failed to record render outcome", "error", err)
			}

			out := cmd.OutOrStdout()
			printWordOutcomes(out, res.Words)
			if runErr != nil {
				var pe *pipeline.Error
				if errors.As(runErr, &pe) {
					return errors.New(pe.Message())
				}
				return runErr
			}

			size, err := copyFile(fs, res.Output.Path, outPath)
			if err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(out, "wrote %s: %d frames, %s at %d fps, %dx%d, %s\n",
				outPath, res.Output.FrameCount, res.Output.Duration, res.Output.FrameRate,
				res.Output.Geometry.Width, res.Output.Geometry.Height, humanize.Bytes(uint64(size)))

			if edlPath != "" {
				if err := afero.WriteFile(fs, edlPath, []byte(export.EDL(res.Output, text)), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", edlPath, err)
				}
				fmt.Fprintf(out, "wrote %s\n", edlPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "output.mp4", "Output video path")
	cmd.Flags().StringVar(&edlPath, "edl", "", "Also write a CMX3600 EDL of the timeline")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress")
	return cmd
}

func printWordOutcomes(w io.Writer, words []pipeline.WordOutcome) {
	if len(words) == 0 {
		return
	}
	rows := make([][]string, 0, len(words))
	for _, wo := range words {
		rows = append(rows, []string{
			strconv.Itoa(wo.Position + 1),
			wo.Word,
			string(wo.Outcome),
			wo.Locator,
			strconv.Itoa(wo.Frames),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Word", "Outcome", "Source", "Frames"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func copyFile(fs afero.Fs, src, dst string) (int64, error) {
	in, err := fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
