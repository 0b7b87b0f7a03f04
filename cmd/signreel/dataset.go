package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/signreel/signreel/internal/config"
	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/db"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage the sign lookup dataset",
	}
	cmd.AddCommand(newDatasetImportCommand(ctx))
	cmd.AddCommand(newDatasetStatsCommand(ctx))
	return cmd
}

func newDatasetImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Load an MS-ASL JSON file into the sqlite dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			database, err := db.New(cfg.DBPath(), ctx.loggerFor(cfg, false))
			if err != nil {
				return err
			}
			defer database.Close()

			n, err := dataset.Import(cmd.Context(), database.Conn(), f)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %s entries from %s\n", humanize.Comma(int64(n)), args[0])
			if cfg.Dataset.Backend != config.DatasetSQLite {
				fmt.Fprintf(out, "set dataset.backend = %q (or %s=%s) to serve from it\n",
					config.DatasetSQLite, config.EnvDatasetBackend, config.DatasetSQLite)
			}
			return nil
		},
	}
}

func newDatasetStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry and word counts of the configured dataset",
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

			src := openDataset(cfg, nil, database)
			table, err := src.Open(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := table.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Dataset", "Entries", "Words"},
				[][]string{{src.Name(), humanize.Comma(int64(stats.Entries)), humanize.Comma(int64(stats.Words))}},
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}
