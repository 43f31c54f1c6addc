package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "devices [query]",
		Short: "Search the device knowledge catalog of a running gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return runDevices(cmd, query, category)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by device category")
	return cmd
}

func runDevices(cmd *cobra.Command, query, category string) error {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if category != "" {
		params.Set("category", category)
	}
	path := "/api/knowledge/devices"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var body struct {
		Items []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Category string `json:"category"`
			Vendor   string `json:"vendor"`
		} `json:"items"`
	}
	if err := newAPIClient(30 * time.Second).get(cmd.Context(), path, &body); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(body.Items) == 0 {
		fmt.Fprintln(out, "no matching devices")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-12s  %-10s  %s\n", "ID", "CATEGORY", "VENDOR", "NAME")
	for _, item := range body.Items {
		fmt.Fprintf(out, "%-36s  %-12s  %-10s  %s\n", item.ID, item.Category, item.Vendor, item.Name)
	}
	return nil
}
