package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	exportWait      time.Duration
	exportOutDir    string
	exportSymbols   []string
	exportNoBrowser bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run one export and write the workbook to a directory",
	Long: `export attaches to the browser, waits up to --wait for instruments to be
captured (or resolves --symbols directly), runs a single export and copies the
workbook into --out.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().DurationVar(&exportWait, "wait", 30*time.Second, "how long to wait for captured instruments and a bearer token")
	exportCmd.Flags().StringVar(&exportOutDir, "out", ".", "directory to write the workbook into")
	exportCmd.Flags().StringSliceVar(&exportSymbols, "symbols", nil, "tickers to resolve before exporting (e.g. AAPL,MSFT)")
	exportCmd.Flags().BoolVar(&exportNoBrowser, "no-browser", false, "skip CDP and use only the generic transport")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, !exportNoBrowser)
	if err != nil {
		return err
	}
	defer a.Close()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go a.installLoop(loopCtx)

	symbols := exportSymbols
	if len(symbols) == 0 && cfg.SeedSymbolsFile != "" {
		if seed, err := loadSeedSymbols(cfg.SeedSymbolsFile); err == nil {
			symbols = seed
		} else {
			slog.Warn("seed file not loaded", "path", cfg.SeedSymbolsFile, "error", err)
		}
	}
	a.seed(ctx, symbols)

	waitForCapture(ctx, a, exportWait, !exportNoBrowser)
	if err := a.interceptor.WaitEnrichment(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.service.Status(ctx).Describe())

	meta, err := a.service.RunExport(ctx)
	if err != nil {
		return err
	}
	data, _, err := a.service.ReadExportFile(ctx, meta.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(exportOutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(exportOutDir, meta.FileName)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d stocks to %s\n", meta.Rows, out)
	return nil
}

// waitForCapture blocks until at least one instrument is known and, when a
// browser is attached, a bearer token has been seen. It gives up after d.
func waitForCapture(ctx context.Context, a *app, d time.Duration, wantToken bool) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		_, ready := a.tokens.Get()
		if a.registry.Len() > 0 && (ready || !wantToken) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			slog.Warn("capture wait elapsed", "instruments", a.registry.Len(), "token_ready", ready)
			return
		case <-tick.C:
		}
	}
}
