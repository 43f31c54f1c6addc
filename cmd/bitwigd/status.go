package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bridge and session status of a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status map[string]any
			if err := newAPIClient(30 * time.Second).get(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}
