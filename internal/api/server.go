// Package api exposes the exporter over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/controller"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/events"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/pipeline"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

type Service interface {
	Status(ctx context.Context) controller.Status
	ListInstruments(ctx context.Context) []types.Instrument
	LookupSymbols(ctx context.Context, symbols []string) ([]controller.LookupResult, error)
	StartExport(ctx context.Context) (string, error)
	ListExports(ctx context.Context) ([]exports.Meta, error)
	GetExport(ctx context.Context, id string) (exports.Meta, error)
	ReadExportFile(ctx context.Context, id string) ([]byte, exports.Meta, error)
	DeleteExport(ctx context.Context, id string) error
	ListTabs(ctx context.Context) ([]cdpcontrol.PageInfo, error)
	Reinstall(ctx context.Context) int
}

type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Events backs the SSE stream when set.
	Events *events.Broker
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Robinhood Ratings Exporter API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}
	if opts.Events != nil {
		router.Get("/api/v1/export/events", events.SSEHandler(opts.Events))
	}

	registerStatusHandlers(api, svc)
	registerInstrumentHandlers(api, svc)
	registerExportHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, pipeline.ErrEmptyRegistry):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, exports.ErrInvalidID):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, exports.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeFetchFailed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
