package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/controller"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/pipeline"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

const knownID = "123e4567-e89b-12d3-a456-426614174000"

type stubService struct {
	busy  bool
	empty bool
}

func (s *stubService) Status(context.Context) controller.Status {
	return controller.Status{TokenReady: true, Instruments: 2, Export: pipeline.Snapshot{State: pipeline.StateIdle}}
}
func (s *stubService) ListInstruments(context.Context) []types.Instrument {
	return []types.Instrument{{InstrumentID: "a", Symbol: "AAPL", Name: "Apple"}}
}
func (s *stubService) LookupSymbols(_ context.Context, symbols []string) ([]controller.LookupResult, error) {
	if len(symbols) == 0 {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "symbols is required"}
	}
	return []controller.LookupResult{{Symbol: symbols[0], Found: true}}, nil
}
func (s *stubService) StartExport(context.Context) (string, error) {
	if s.busy {
		return "", pipeline.ErrBusy
	}
	if s.empty {
		return "", pipeline.ErrEmptyRegistry
	}
	return knownID, nil
}
func (s *stubService) ListExports(context.Context) ([]exports.Meta, error) { return nil, nil }
func (s *stubService) GetExport(_ context.Context, id string) (exports.Meta, error) {
	if id != knownID {
		return exports.Meta{}, exports.ErrNotFound
	}
	return exports.Meta{ID: id, FileName: "robinhood_stock_ratings_2026-01-02.xlsx"}, nil
}
func (s *stubService) ReadExportFile(ctx context.Context, id string) ([]byte, exports.Meta, error) {
	meta, err := s.GetExport(ctx, id)
	if err != nil {
		return nil, exports.Meta{}, err
	}
	return []byte("PK-workbook"), meta, nil
}
func (s *stubService) DeleteExport(context.Context, string) error { return exports.ErrInvalidID }
func (s *stubService) ListTabs(context.Context) ([]cdpcontrol.PageInfo, error) {
	return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "no browser"}
}
func (s *stubService) Reinstall(context.Context) int { return 1 }

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := serve(t, NewServer(&stubService{}, Options{}), http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data-theme="dark"`)
}

func TestStatusAndInstruments(t *testing.T) {
	h := NewServer(&stubService{}, Options{})

	w := serve(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st controller.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.TokenReady)
	assert.Equal(t, 2, st.Instruments)

	w = serve(t, h, http.MethodGet, "/api/v1/instruments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = serve(t, h, http.MethodPost, "/api/v1/instruments/lookup", `{"symbols":["AAPL"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"found":true`)

	w = serve(t, h, http.MethodPost, "/api/v1/instruments/lookup", `{"symbols":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartExportConflictWhenBusy(t *testing.T) {
	w := serve(t, NewServer(&stubService{}, Options{}), http.MethodPost, "/api/v1/export", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), knownID)

	w = serve(t, NewServer(&stubService{busy: true}, Options{}), http.MethodPost, "/api/v1/export", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(t, NewServer(&stubService{empty: true}, Options{}), http.MethodPost, "/api/v1/export", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "no stocks captured yet")
}

func TestDownloadExport(t *testing.T) {
	h := NewServer(&stubService{}, Options{})

	w := serve(t, h, http.MethodGet, "/api/v1/exports/"+knownID+"/file", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK-workbook", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "robinhood_stock_ratings_2026-01-02.xlsx")
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")

	w = serve(t, h, http.MethodGet, "/api/v1/exports/"+strings.Repeat("0", 8)+"-0000-0000-0000-000000000000/file", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, h, http.MethodDelete, "/api/v1/exports/bad", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMapErrCodes(t *testing.T) {
	h := NewServer(&stubService{}, Options{})
	w := serve(t, h, http.MethodGet, "/api/v1/tabs", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = serve(t, h, http.MethodPost, "/api/v1/interceptor/install", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hooked":1`)
}

func TestMetricsMountedWhenProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rh_exporter_up 1\n"))
	})
	w := serve(t, NewServer(&stubService{}, Options{Metrics: metrics}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rh_exporter_up")

	w = serve(t, NewServer(&stubService{}, Options{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIsQuiet(t *testing.T) {
	if !isQuiet("/api/v1/export/events") || !isQuiet("/metrics") {
		t.Fatal("polling endpoints should be quiet")
	}
	if isQuiet("/api/v1/export") {
		t.Fatal("export trigger should log at info")
	}
}
