package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/api"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/netutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture instruments from the browser and serve the control API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("rh_exporter starting", "cdp", cfg.CDPURL(), "tab_filter", cfg.TabURLFilter, "api_base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.installLoop(ctx)
	if cfg.SeedSymbolsFile != "" {
		go seedFromFile(ctx, a, cfg.SeedSymbolsFile)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	if bindAddr != cfg.BindAddr {
		slog.Warn("preferred bind address unavailable, using fallback", "preferred", cfg.BindAddr, "selected", bindAddr)
	}

	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           api.NewServer(a.service, api.Options{Metrics: a.metrics.Handler(), Events: a.broker}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control api listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("rh_exporter stopped")
	return nil
}

func seedFromFile(ctx context.Context, a *app, path string) {
	symbols, err := loadSeedSymbols(path)
	if err != nil {
		slog.Warn("seed file not loaded", "path", path, "error", err)
		return
	}
	a.seed(ctx, symbols)
}
