package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/db"
)

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "lookup WORD...",
		Short: "Show the dataset entry each word matches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cfg, false)

			database, err := db.New(cfg.DBPath(), logger)
			if err != nil {
				return err
			}
			defer database.Close()

			table, err := openDataset(cfg, nil, database).Open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open dataset: %w", err)
			}

			rows, err := lookupRows(cmd.Context(), table, args, all)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Word", "Candidate", "Source", "Start", "End"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every candidate, not only the first")
	return cmd
}

// lookupRows shows the entry a render would use for each word, or every
// candidate when all is set.
func lookupRows(ctx context.Context, table dataset.Table, words []string, all bool) ([][]string, error) {
	var rows [][]string
	for _, word := range words {
		if !all {
			entry, err := table.Find(ctx, word)
			if err != nil {
				return nil, err
			}
			if e, ok := entry.Get(); ok {
				rows = append(rows, entryRow(word, 0, e))
			} else {
				rows = append(rows, noMatchRow(word))
			}
			continue
		}

		candidates, err := table.Candidates(ctx, word)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			rows = append(rows, noMatchRow(word))
			continue
		}
		for i, e := range candidates {
			rows = append(rows, entryRow(word, i, e))
		}
	}
	return rows, nil
}

func noMatchRow(word string) []string {
	return []string{word, "-", "no match", "", ""}
}

func entryRow(word string, i int, e dataset.Entry) []string {
	return []string{
		word,
		strconv.Itoa(i + 1),
		e.URL,
		strconv.FormatFloat(e.StartTime, 'f', 3, 64),
		strconv.FormatFloat(e.EndTime, 'f', 3, 64),
	}
}
