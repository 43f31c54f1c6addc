package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/config"
	"github.com/patchgrid/bitwigd/internal/converge"
	"github.com/patchgrid/bitwigd/internal/cursor"
	"github.com/patchgrid/bitwigd/internal/gateway"
	httpapi "github.com/patchgrid/bitwigd/internal/http"
	"github.com/patchgrid/bitwigd/internal/knowledge"
	"github.com/patchgrid/bitwigd/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.KnowledgeDir, 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}

	catalog, err := knowledge.Open(ctx, cfg.CatalogPath(), cfg.KnowledgeDir, logger)
	if err != nil {
		return fmt.Errorf("open knowledge catalog: %w", err)
	}
	defer catalog.Close()

	watcher := knowledge.NewWatcher(catalog, cfg.KnowledgeDir, logger)
	go watcher.Run(ctx)

	client := bitwig.NewClient(cfg.BridgeURL, cfg.BridgeToken, cfg.CallTimeout, logger)
	defer client.Close()

	cur := cursor.New(client, cursor.Settle{
		Track:  cfg.SettleTrack,
		Device: cfg.SettleDevice,
		Page:   cfg.SettlePage,
	}, logger)
	// A fresh bridge session starts with unknown host selection, so the
	// cached cursor must not survive a reconnect.
	client.OnReconnect(cur.Reset)

	svc := gateway.New(client, client, cur, catalog, gateway.Options{
		SettleRead: cfg.SettleRead,
		Confirm: converge.Policy{
			MaxAttempts: cfg.ConfirmAttempts,
			Interval:    cfg.ConfirmInterval,
		},
	}, logger)

	api := httpapi.New(svc, catalog, watcher, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: batch responses are held open while the
		// operations run and may take minutes.
	}

	logger.Info("gateway starting", "addr", cfg.ListenAddr, "bridge", cfg.BridgeURL)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
