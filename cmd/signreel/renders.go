package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/signreel/signreel/internal/db"
	"github.com/signreel/signreel/internal/store"
)

func newRendersCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "renders",
		Short: "List recent renders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			database, err := db.New(cfg.DBPath(), ctx.loggerFor(cfg, false))
			if err != nil {
				return err
			}
			defer database.Close()

			renders, err := store.NewRepository(database.Conn()).ListRenders(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(renders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no renders yet")
				return nil
			}

			rows := make([][]string, 0, len(renders))
			for _, rd := range renders {
				rows = append(rows, renderRow(rd))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "When", "Text", "Status", "Frames", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of renders to show")
	return cmd
}

func renderRow(rd *store.Render) []string {
	detail := rd.Error
	if detail == "" && rd.Status == store.RenderStatusVideo {
		detail = fmt.Sprintf("%dx%d, %.2fs", rd.Width, rd.Height, float64(rd.DurationMs)/1000)
	}
	text := rd.Text
	if r := []rune(text); len(r) > 40 {
		text = string(r[:39]) + "…"
	}
	return []string{
		rd.ID[:min(8, len(rd.ID))],
		humanize.Time(rd.CreatedAt),
		text,
		rd.Status,
		strconv.Itoa(rd.FrameCount),
		detail,
	}
}
