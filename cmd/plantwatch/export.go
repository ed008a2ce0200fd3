package main

import (
	"fmt"
	"os"

	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		from, to   string
		formatFlag string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export <plant-id>",
		Short: "Export a day range as CSV or XLSX",
		Long: `Fetch every day in [from, to] through the cache and write one file.
The output defaults to <plant>_<from>_<to>.<ext> in the current directory; "-" writes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateClient(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if to == "" {
				to = from
			}
			fromDay, err := resolveDay(a.store, from)
			if err != nil {
				return err
			}
			toDay, err := resolveDay(a.store, to)
			if err != nil {
				return err
			}

			res, err := a.ranges.FetchRange(cmd.Context(), args[0], fromDay, toDay)
			if err != nil {
				return err
			}

			blob, err := a.exporter.Export(export.Request{
				PlantID: args[0],
				From:    fromDay.String(),
				To:      toDay.String(),
				Format:  format,
				Rows:    export.RowsFromSnapshots(res.Snapshots()),
			})
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(blob.Data)
				return err
			}
			if output == "" {
				output = blob.Filename
			}
			if err := os.WriteFile(output, blob.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d bytes, %d days)\n", output, len(blob.Data), len(res.Days))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "today", "First day (YYYY-MM-DD or today)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, inclusive; defaults to --from")
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file; "-" for stdout`)
	return cmd
}
