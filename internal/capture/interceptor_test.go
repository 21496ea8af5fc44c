package capture

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/registry"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/token"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

const quotesURL = "https://api.robinhood.com/marketdata/quotes/?bounds=trading&ids=id-1%2Cid-2"

type fakeLookup struct {
	mu    sync.Mutex
	names map[string]string
	calls map[string]int
	fail  map[string]bool
}

func newFakeLookup(names map[string]string) *fakeLookup {
	return &fakeLookup{names: names, calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeLookup) InstrumentName(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] {
		return "", errors.New("lookup failed")
	}
	return f.names[id], nil
}

func (f *fakeLookup) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type memJournal struct {
	mu      sync.Mutex
	records []any
}

func (j *memJournal) Write(record any) error {
	j.mu.Lock()
	j.records = append(j.records, record)
	j.mu.Unlock()
	return nil
}

func newTestInterceptor(opts Options) (*Interceptor, *token.Cache, *registry.Registry) {
	tokens := token.NewCache()
	reg := registry.New()
	return NewInterceptor(tokens, reg, opts), tokens, reg
}

func TestObserveRequestCapturesFirstBearerOnly(t *testing.T) {
	in, tokens, _ := newTestInterceptor(Options{})
	defer in.Close()

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{
		URL:     "https://api.robinhood.com/accounts/",
		Headers: HeaderMap{"authorization": "Bearer first"},
	})
	assert.True(t, obs.BrokerAPI)
	assert.True(t, obs.TokenStored)

	obs = in.ObserveRequest(PrimitiveNetwork, URLRequest{
		URL:     "https://api.robinhood.com/accounts/",
		Headers: HeaderMap{"Authorization": "Bearer second"},
	})
	assert.False(t, obs.TokenStored)

	got, ok := tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "Bearer first", got)
}

func TestObserveRequestIgnoresOtherHostsAndNonBearer(t *testing.T) {
	in, tokens, reg := newTestInterceptor(Options{})
	defer in.Close()

	in.ObserveRequest(PrimitiveNetwork, URLRequest{
		URL:     "https://cdn.example.com/marketdata/quotes/?ids=x",
		Headers: HeaderMap{"Authorization": "Bearer other"},
	})
	in.ObserveRequest(PrimitiveNetwork, URLRequest{
		URL:     "https://api.robinhood.com/accounts/",
		Headers: HeaderMap{"Authorization": "Basic abc"},
	})

	_, ok := tokens.Get()
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestObserveRequestAddsPlaceholders(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: quotesURL})
	assert.True(t, obs.Quotes)
	assert.Equal(t, []string{"id-1", "id-2"}, obs.IDs)
	assert.Equal(t, 2, obs.NewIDs)

	inst, ok := reg.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, types.NewPlaceholder("id-1"), inst)

	obs = in.ObserveRequest(PrimitiveTransport, URLRequest{URL: quotesURL})
	assert.Equal(t, 0, obs.NewIDs)
	assert.Equal(t, 2, reg.Len())
}

func TestObserveResponseUpsertsSymbols(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: quotesURL})
	body := []byte(`{"results":[{"instrument_id":"id-1","symbol":"AAPL"},null,{"instrument_id":"id-3","symbol":"MSFT"},{"symbol":"NOID"}]}`)
	in.ObserveResponse(obs, http.StatusOK, body)

	inst, _ := reg.Get("id-1")
	assert.Equal(t, types.Instrument{InstrumentID: "id-1", Symbol: "AAPL", Name: "AAPL"}, inst)

	inst, ok := reg.Get("id-3")
	require.True(t, ok)
	assert.Equal(t, "MSFT", inst.Symbol)

	inst, _ = reg.Get("id-2")
	assert.Equal(t, types.Placeholder, inst.Symbol)
	assert.Equal(t, 3, reg.Len())
}

func TestObserveResponseIgnoresFailuresAndGarbage(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: quotesURL})
	in.ObserveResponse(obs, http.StatusUnauthorized, []byte(`{"results":[{"instrument_id":"id-1","symbol":"AAPL"}]}`))
	in.ObserveResponse(obs, http.StatusOK, []byte(`<html>`))
	in.ObserveResponse(obs, http.StatusOK, nil)

	inst, _ := reg.Get("id-1")
	assert.Equal(t, types.Placeholder, inst.Symbol)
}

func TestObserveResponseEnrichesNamesOncePerInstrument(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	lookup := newFakeLookup(map[string]string{"id-1": "Apple Inc."})
	lookup.fail["id-2"] = true
	in.SetNameLookup(lookup)

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: quotesURL})
	body := []byte(`{"results":[{"instrument_id":"id-1","symbol":"AAPL"},{"instrument_id":"id-2","symbol":"MSFT"}]}`)
	in.ObserveResponse(obs, http.StatusOK, body)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, in.WaitEnrichment(ctx))

	inst, _ := reg.Get("id-1")
	assert.Equal(t, "Apple Inc.", inst.Name)
	inst, _ = reg.Get("id-2")
	assert.Equal(t, "MSFT", inst.Name)

	in.ObserveResponse(obs, http.StatusOK, body)
	require.NoError(t, in.WaitEnrichment(ctx))

	assert.Equal(t, 1, lookup.callCount("id-1"))
	assert.Equal(t, 1, lookup.callCount("id-2"))
}

func TestEnrichmentRerunsForResponseDuringHandOff(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	lookup := newFakeLookup(map[string]string{"id-1": "Apple Inc.", "id-3": "Tesla, Inc."})
	in.SetNameLookup(lookup)

	late := "https://api.robinhood.com/marketdata/quotes/?ids=id-3"
	var once sync.Once
	in.passDone = func() {
		once.Do(func() {
			obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: late})
			in.ObserveResponse(obs, http.StatusOK, []byte(`{"results":[{"instrument_id":"id-3","symbol":"TSLA"}]}`))
		})
	}

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{URL: quotesURL})
	in.ObserveResponse(obs, http.StatusOK, []byte(`{"results":[{"instrument_id":"id-1","symbol":"AAPL"}]}`))

	require.Eventually(t, func() bool {
		inst, ok := reg.Get("id-3")
		return ok && inst.Name == "Tesla, Inc."
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, lookup.callCount("id-3"))
}

func TestObserveResponseJournalsQuotes(t *testing.T) {
	journal := &memJournal{}
	in, _, _ := newTestInterceptor(Options{Journal: journal, MaxBodyBytes: 8})
	defer in.Close()

	obs := in.ObserveRequest(PrimitiveNetwork, URLRequest{
		URL:     quotesURL,
		Headers: HeaderMap{"Authorization": "Bearer secret"},
	})
	in.ObserveResponse(obs, http.StatusOK, []byte(`{"results":[]}`))

	require.Len(t, journal.records, 1)
	rec := journal.records[0].(*observedRecord)
	assert.Equal(t, PrimitiveNetwork, rec.Primitive)
	assert.Equal(t, "Bearer <redacted>", rec.RequestHeaders["Authorization"])
	assert.True(t, rec.Truncated)
	assert.Equal(t, []string{"id-1", "id-2"}, rec.InstrumentIDs)
}
