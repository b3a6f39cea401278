package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the breakwater CLI: environment-driven
// defaults from pkg/config, with flags layered on top per-invocation.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "breakwater",
		Short: "Breakwater",
		Long:  "A high-throughput Pixelflut server.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the breakwater version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println(version)
			return nil
		},
	}
}

const version = "0.1.0"
