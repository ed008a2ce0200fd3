package main

import (
	"fmt"
	"runtime"

	"github.com/Sternrassler/plantwatch/pkg/config"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plantwatch %s (commit %s, built %s, %s)\n",
				config.Version, config.Commit, config.BuildDate, runtime.Version())
		},
	}
}
