package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/browser"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/capture"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdp"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/config"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/controller"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/events"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/metrics"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/notify"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/pipeline"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/registry"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/storage"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/token"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/upstream"
)

const (
	journalBufferSize = 1024
	journalMaxSizeMB  = 50
)

// app holds every long-lived component of one process.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	tokens   *token.Cache
	registry *registry.Registry

	journals    *storage.Journals
	interceptor *capture.Interceptor
	observer    *capture.NetworkObserver
	installer   *capture.Installer

	launcher *browser.Launcher
	tabs     *cdp.Client
	control  *cdpcontrol.Client

	upstream *upstream.Client
	exports  *exports.Store
	pipeline *pipeline.Pipeline
	broker   *events.Broker
	notifier *notify.Notifier
	service  *controller.Service
	panel    *panelSync
}

// newApp wires the exporter. withBrowser=false skips every CDP component;
// authenticated calls then rely on the generic transport alone.
func newApp(ctx context.Context, cfg *config.Config, withBrowser bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		metrics:  metrics.New(),
		tokens:   token.NewCache(),
		registry: registry.New(),
		broker:   events.NewBroker(),
		notifier: notify.New(cfg.NtfyEndpoint, nil),
	}

	opts := capture.Options{
		APIHost:      cfg.APIHost(),
		MaxBodyBytes: cfg.JournalMaxBodyBytes,
		Metrics:      a.metrics,
	}
	if cfg.JournalDir != "" {
		session := time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
		a.journals = storage.NewJournals(cfg.JournalDir, session, journalBufferSize, journalMaxSizeMB)
		opts.Journal = a.journals.Stream("quotes")
	}
	a.interceptor = capture.NewInterceptor(a.tokens, a.registry, opts)
	a.installer = capture.NewInstaller(a.interceptor)

	// Hook the generic client before resty adopts it so its transport is
	// never swapped while requests are in flight.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	a.installer.AddClient(httpClient)
	a.installer.Install(ctx)

	if withBrowser {
		if err := a.attachBrowser(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	upOpts := upstream.OptionsFromConfig(cfg)
	upOpts.HTTPClient = httpClient
	upOpts.Metrics = a.metrics
	var native upstream.NativeTransport
	if a.control != nil {
		native = a.control
	}
	a.upstream = upstream.New(a.tokens, a.installer, native, upOpts)
	a.interceptor.SetNameLookup(a.upstream)

	store, err := exports.NewStore(cfg.ExportDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.exports = store

	a.pipeline = pipeline.New(a.registry, a.upstream, a.exports, pipeline.Options{
		TokenReady: func() bool {
			_, ok := a.tokens.Get()
			return ok
		},
		Metrics: a.metrics,
	})
	a.subscribe()

	deps := controller.Deps{
		Registry:  a.registry,
		Tokens:    a.tokens,
		Lookup:    a.upstream,
		Pipeline:  a.pipeline,
		Exports:   a.exports,
		Installer: a.installer,
	}
	if a.control != nil {
		deps.Pages = a.control
	}
	a.service = controller.NewService(deps)
	return a, nil
}

func (a *app) attachBrowser(ctx context.Context) error {
	cfg := a.cfg
	if cfg.LaunchBrowser {
		a.launcher = browser.NewLauncher(browser.ConfigFrom(cfg))
		if err := a.launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
	}

	a.observer = capture.NewNetworkObserver(a.interceptor)
	a.tabs = cdp.NewClient(cfg.CDPURL(), cfg.TabURLFilter, a.observer, cdp.NewTabRegistry())
	a.installer.AddAttacher(a.tabs)

	a.control = cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := a.control.Connect(ctx); err != nil {
		// The client reconnects on first use; a tab may simply not be open yet.
		slog.Warn("cdp control connect failed, will retry on demand", "cdp_url", cfg.CDPURL(), "error", err)
	}

	if cfg.InjectPanel {
		a.panel = newPanelSync(a.control, cfg.EvalTimeout)
		a.control.OnPanelTrigger(func() {
			if _, err := a.pipeline.Start(context.Background()); err != nil {
				if errors.Is(err, pipeline.ErrBusy) {
					slog.Info("panel export ignored, export already running")
					return
				}
				slog.Warn("panel export failed to start", "error", err)
			}
		})
	}
	return nil
}

// subscribe fans pipeline and registry notifications out to the log, the
// SSE broker, the export journal, the panel and the notifier.
func (a *app) subscribe() {
	var journal *storage.JSONLWriter
	if a.journals != nil {
		journal = a.journals.Stream("exports")
	}

	a.pipeline.Subscribe(func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventProgress:
			slog.Debug("export progress", "run_id", ev.RunID, "current", ev.Progress.Current, "total", ev.Progress.Total, "message", ev.Progress.Message)
		case pipeline.EventStatus:
			slog.Info("export status", "run_id", ev.RunID, "level", ev.Status.Level, "message", ev.Status.Message)
		}
		a.broker.PublishJSON(string(ev.Kind), ev)
		if journal != nil && ev.Kind != pipeline.EventProgress {
			if err := journal.Write(ev); err != nil {
				slog.Debug("export journal write failed", "error", err)
			}
		}
		if a.panel != nil {
			a.panel.push(a.panelState(ev))
		}
		if ev.Kind == pipeline.EventState && ev.State == pipeline.StateDone && !ev.Busy {
			a.notifyDone()
		}
	})

	a.registry.Subscribe(func(count int) {
		a.broker.PublishJSON("registry", map[string]int{"instruments": count})
		if a.panel != nil {
			a.panel.push(a.panelState(pipeline.Event{}))
		}
	})
}

func (a *app) panelState(ev pipeline.Event) cdpcontrol.PanelState {
	snap := a.pipeline.Snapshot()
	_, ready := a.tokens.Get()
	st := cdpcontrol.PanelState{
		TokenReady:  ready,
		Instruments: a.registry.Len(),
		Busy:        snap.Busy,
		Current:     snap.Progress.Current,
		Total:       snap.Progress.Total,
		Message:     snap.Progress.Message,
	}
	if ev.Kind != "" {
		st.Busy = ev.Busy
	}
	if snap.Status != nil && (ev.Kind == pipeline.EventStatus || snap.State.Terminal()) {
		st.Message = snap.Status.Message
		st.Level = string(snap.Status.Level)
	}
	return st
}

func (a *app) notifyDone() {
	if !a.notifier.Enabled() {
		return
	}
	last := a.pipeline.Snapshot().LastExport
	if last == nil {
		return
	}
	meta := *last
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.notifier.ExportCompleted(ctx, meta); err != nil {
			slog.Warn("export notification failed", "error", err)
		}
	}()
}

// installLoop re-runs the idempotent install routine and panel injection
// until ctx ends.
func (a *app) installLoop(ctx context.Context) {
	a.installOnce(ctx)
	ticker := time.NewTicker(a.cfg.ReinstallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.installOnce(ctx)
		}
	}
}

func (a *app) installOnce(ctx context.Context) {
	if n := a.installer.Install(ctx); n > 0 {
		observed := 0
		if a.tabs != nil {
			observed = a.tabs.AttachedCount()
		}
		slog.Info("interceptor hooked", "new_hooks", n, "observed_tabs", observed)
	}
	if a.panel == nil {
		return
	}
	installed, err := a.control.InstallPanel(ctx)
	if err != nil {
		slog.Debug("panel install failed", "error", err)
		return
	}
	if installed > 0 {
		a.panel.push(a.panelState(pipeline.Event{}))
	}
}

// seed resolves the configured tickers into the registry.
func (a *app) seed(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	results, err := a.service.LookupSymbols(ctx, symbols)
	if err != nil {
		slog.Warn("seed lookup failed", "error", err)
		return
	}
	found := 0
	for _, r := range results {
		if r.Found {
			found++
		} else {
			slog.Warn("seed symbol not resolved", "symbol", r.Symbol, "error", r.Error)
		}
	}
	slog.Info("seed symbols loaded", "requested", len(results), "found", found)
}

func (a *app) Close() {
	if a.panel != nil {
		a.panel.stop()
	}
	if a.interceptor != nil {
		a.interceptor.Close()
	}
	if a.observer != nil {
		a.observer.Close()
	}
	if a.tabs != nil {
		_ = a.tabs.Close()
	}
	if a.control != nil {
		_ = a.control.Close()
	}
	if a.journals != nil {
		_ = a.journals.Close()
	}
	if a.launcher != nil && a.launcher.Running() {
		a.launcher.Stop()
	}
}
