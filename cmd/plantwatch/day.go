package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/spf13/cobra"
)

func newDayCmd() *cobra.Command {
	var (
		reasonFlag string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "day <plant-id> [YYYY-MM-DD|today]",
		Short: "Fetch one day of telemetry through the cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := coordinator.ParseReason(reasonFlag)
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

			raw := "today"
			if len(args) == 2 {
				raw = args[1]
			}
			day, err := resolveDay(a.store, raw)
			if err != nil {
				return err
			}

			res, err := a.coord.Request(cmd.Context(), daycache.Key{PlantID: args[0], Day: day}, reason)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Snapshot)
			}

			source := "upstream"
			if res.FromCache {
				source = "cache"
			}
			fmt.Fprintf(out, "Plant:    %s\n", args[0])
			fmt.Fprintf(out, "Day:      %s\n", day)
			fmt.Fprintf(out, "Source:   %s\n", source)
			fmt.Fprintf(out, "Fetched:  %s\n", res.FetchedAt.In(a.location).Format("2006-01-02 15:04:05 MST"))
			if res.Snapshot != nil {
				fmt.Fprintf(out, "Samples:  %d\n", len(res.Snapshot.Samples))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reasonFlag, "reason", "initial", "Request reason: initial, dateChange or refresh")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	return cmd
}

// resolveDay accepts YYYY-MM-DD or "today" and rejects future days.
func resolveDay(store *daycache.Store, raw string) (daycache.DayKey, error) {
	today := store.Today()
	if strings.EqualFold(raw, "today") {
		return today, nil
	}
	day, err := daycache.ParseDayKey(raw)
	if err != nil {
		return "", err
	}
	if day.After(today) {
		return "", fmt.Errorf("day %s is in the future", day)
	}
	return day, nil
}
