// Package controller is the command surface shared by the HTTP API, the
// CLI and the in-page panel.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/pipeline"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/registry"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/token"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

// SymbolLookup resolves tickers to instruments.
type SymbolLookup interface {
	LookupSymbol(ctx context.Context, symbol string) (types.Instrument, bool, error)
}

// PageLister reports the brokerage tabs reachable over CDP.
type PageLister interface {
	ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error)
}

// Installer re-hooks the interceptor into every primitive.
type Installer interface {
	Install(ctx context.Context) int
}

type Deps struct {
	Registry  *registry.Registry
	Tokens    *token.Cache
	Lookup    SymbolLookup
	Pipeline  *pipeline.Pipeline
	Exports   *exports.Store
	Pages     PageLister
	Installer Installer
}

// Service wraps exporter operations.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

type Status struct {
	TokenReady  bool              `json:"token_ready"`
	Instruments int               `json:"instruments"`
	Export      pipeline.Snapshot `json:"export"`
}

func (s *Service) Status(ctx context.Context) Status {
	_, ready := s.deps.Tokens.Get()
	return Status{
		TokenReady:  ready,
		Instruments: s.deps.Registry.Len(),
		Export:      s.deps.Pipeline.Snapshot(),
	}
}

func (s *Service) ListInstruments(ctx context.Context) []types.Instrument {
	return s.deps.Registry.Snapshot()
}

// LookupResult is the outcome for one requested ticker.
type LookupResult struct {
	Symbol     string            `json:"symbol"`
	Found      bool              `json:"found"`
	Instrument *types.Instrument `json:"instrument,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// LookupSymbols resolves each ticker and adds found instruments to the
// registry. Per-symbol failures are reported in the result, not returned.
func (s *Service) LookupSymbols(ctx context.Context, symbols []string) ([]LookupResult, error) {
	cleaned := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		cleaned = append(cleaned, sym)
	}
	if len(cleaned) == 0 {
		return nil, s.requireNonEmpty("", "symbols")
	}

	out := make([]LookupResult, 0, len(cleaned))
	for _, sym := range cleaned {
		res := LookupResult{Symbol: sym}
		inst, found, err := s.deps.Lookup.LookupSymbol(ctx, sym)
		switch {
		case err != nil:
			res.Error = err.Error()
			slog.Warn("instrument lookup failed", "symbol", sym, "error", err)
		case found:
			s.deps.Registry.Put(inst)
			res.Found = true
			res.Instrument = &inst
		}
		out = append(out, res)
	}
	return out, nil
}

// StartExport begins an export in the background. An empty registry is
// rejected up front so callers get the error instead of a doomed run id.
func (s *Service) StartExport(ctx context.Context) (string, error) {
	if s.deps.Registry.Len() == 0 {
		return "", pipeline.ErrEmptyRegistry
	}
	return s.deps.Pipeline.Start(context.WithoutCancel(ctx))
}

// RunExport performs an export and waits for it.
func (s *Service) RunExport(ctx context.Context) (exports.Meta, error) {
	return s.deps.Pipeline.Run(ctx)
}

func (s *Service) ListExports(ctx context.Context) ([]exports.Meta, error) {
	return s.deps.Exports.List()
}

func (s *Service) GetExport(ctx context.Context, id string) (exports.Meta, error) {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return exports.Meta{}, err
	}
	return s.deps.Exports.Get(strings.TrimSpace(id))
}

func (s *Service) ReadExportFile(ctx context.Context, id string) ([]byte, exports.Meta, error) {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return nil, exports.Meta{}, err
	}
	return s.deps.Exports.ReadFile(strings.TrimSpace(id))
}

func (s *Service) DeleteExport(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return err
	}
	return s.deps.Exports.Delete(strings.TrimSpace(id))
}

// ListTabs returns the brokerage tabs the active CDP client can reach.
func (s *Service) ListTabs(ctx context.Context) ([]cdpcontrol.PageInfo, error) {
	if s.deps.Pages == nil {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "browser control is not configured"}
	}
	return s.deps.Pages.ListPages(ctx)
}

// Reinstall runs the interceptor install routine and reports how many
// hooks were newly placed.
func (s *Service) Reinstall(ctx context.Context) int {
	if s.deps.Installer == nil {
		return 0
	}
	return s.deps.Installer.Install(ctx)
}

// IsBusy reports whether err means an export is already running.
func IsBusy(err error) bool {
	return errors.Is(err, pipeline.ErrBusy)
}

// Describe renders a one-line summary for logs and the CLI.
func (st Status) Describe() string {
	return fmt.Sprintf("token_ready=%t instruments=%d export=%s", st.TokenReady, st.Instruments, st.Export.State)
}
