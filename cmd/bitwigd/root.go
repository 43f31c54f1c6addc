package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bitwigd",
		Short:         "Batch-control gateway for the Bitwig controller bridge",
		Long:          "bitwigd drives a Bitwig Studio controller bridge over websocket and exposes batched project edits, device snapshots and a device knowledge catalog over HTTP.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "http://127.0.0.1:8721", "base URL of a running gateway")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bitwigd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
