package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [file]",
		Short: "Submit a batch of operations to a running gateway",
		Long:  "Reads a JSON batch request from the given file, or from stdin when no file (or \"-\") is given, posts it to the gateway and prints the per-operation results.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args)
		},
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	raw, err := readBatchInput(args)
	if err != nil {
		return err
	}
	// Fail on malformed input locally instead of bouncing it off the API.
	if !json.Valid(raw) {
		return fmt.Errorf("batch input is not valid JSON")
	}

	var resp struct {
		Executed int `json:"executed"`
		Results  []struct {
			OpID    string `json:"op_id"`
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
			Payload any    `json:"payload"`
		} `json:"results"`
	}
	// Batches pace themselves with settle pauses; give them room.
	client := newAPIClient(15 * time.Minute)
	if err := client.post(cmd.Context(), "/api/batch", bytes.NewReader(raw), &resp); err != nil {
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	failed := 0
	for _, r := range resp.Results {
		if r.Status != "success" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d operations failed", failed, resp.Executed)
	}
	return nil
}

func readBatchInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return raw, nil
}
