package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg, ffprobe and yt-dlp are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cfg, false)

			caps, err := newDoctor(cfg, mediaConfig(cfg, logger), logger).Refresh(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(caps.Tools))
			for name := range caps.Tools {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				info := caps.Tools[name]
				status := "ok"
				if !info.Available {
					status = "missing"
				}
				detail := info.Version
				if info.Error != "" {
					detail = info.Error
				}
				rows = append(rows, []string{name, status, info.Path, detail})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Tool", "Status", "Path", "Version"}, rows, nil))
			fmt.Fprintf(out, "decode: %t  encode: %t  fetch: %t\n", caps.CanDecode, caps.CanEncode, caps.CanFetch)

			if !caps.CanDecode || !caps.CanEncode || !caps.CanFetch {
				return errors.New("some required tools are missing")
			}
			return nil
		},
	}
}
