// Package capture passively observes the brokerage page's own API traffic.
// It picks up the bearer token and the instruments the page asks quotes for,
// and never alters the observed calls.
package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/metrics"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/registry"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/token"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

const (
	PrimitiveTransport = "transport"
	PrimitiveNetwork   = "network"

	DefaultAPIHost = "api.robinhood.com"

	nameLookupTimeout = 10 * time.Second
)

type observedRecord = types.ObservedCall

// NameLookup resolves an instrument's display name from the brokerage API.
// An empty name with a nil error means the API had none.
type NameLookup interface {
	InstrumentName(ctx context.Context, instrumentID string) (string, error)
}

// Journal receives a record per observed quotes exchange.
type Journal interface {
	Write(record any) error
}

type Options struct {
	APIHost      string
	Journal      Journal
	MaxBodyBytes int
	Metrics      *metrics.Metrics
}

// Observation is what the interceptor learned from the request half of a call.
type Observation struct {
	Primitive   string
	RequestID   string
	TabID       string
	Method      string
	URL         string
	BrokerAPI   bool
	Quotes      bool
	IDs         []string
	NewIDs      int
	TokenStored bool

	headers HeaderSource
}

type Interceptor struct {
	tokens      *token.Cache
	instruments *registry.Registry
	apiHost     string
	journal     Journal
	maxBody     int
	metrics     *metrics.Metrics

	lookupMu sync.RWMutex
	lookup   NameLookup
	looked   sync.Map

	enriching   atomic.Bool
	enrichAgain atomic.Bool
	enrichWG    sync.WaitGroup
	// passDone runs when a pass has decided to stop; tests use it to land
	// a request in the hand-off window.
	passDone func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewInterceptor(tokens *token.Cache, instruments *registry.Registry, opts Options) *Interceptor {
	if opts.APIHost == "" {
		opts.APIHost = DefaultAPIHost
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Interceptor{
		tokens:      tokens,
		instruments: instruments,
		apiHost:     opts.APIHost,
		journal:     opts.Journal,
		maxBody:     opts.MaxBodyBytes,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetNameLookup installs the resolver used for name enrichment. The upstream
// client depends on the interceptor, so it is wired after construction.
func (i *Interceptor) SetNameLookup(l NameLookup) {
	i.lookupMu.Lock()
	i.lookup = l
	i.lookupMu.Unlock()
}

func (i *Interceptor) nameLookup() NameLookup {
	i.lookupMu.RLock()
	defer i.lookupMu.RUnlock()
	return i.lookup
}

// Close stops pending name enrichment and waits for it to exit.
func (i *Interceptor) Close() {
	i.cancel()
	i.enrichWG.Wait()
}

// ObserveRequest inspects an outgoing call before it is sent. It captures the
// bearer token from brokerage API calls and registers placeholder entries for
// the identifiers of quotes calls. It never fails.
func (i *Interceptor) ObserveRequest(primitive string, in RequestInput) (obs Observation) {
	defer i.guard(primitive, "request")

	method, rawURL, headers := in.normalize()
	obs = Observation{
		Primitive: primitive,
		Method:    method,
		URL:       rawURL,
		headers:   headers,
	}
	if !IsBrokerURL(rawURL, i.apiHost) {
		return obs
	}
	obs.BrokerAPI = true
	i.metrics.ObservedCall(primitive, "api")

	if i.offerToken(primitive, headers) {
		obs.TokenStored = true
	}

	if !IsQuotesURL(rawURL) {
		return obs
	}
	obs.Quotes = true
	i.metrics.ObservedCall(primitive, "quotes")

	obs.IDs = ExtractInstrumentIDs(rawURL)
	if len(obs.IDs) > 0 {
		obs.NewIDs = i.instruments.AddPlaceholders(obs.IDs)
		i.metrics.Discovered(obs.NewIDs)
		if obs.NewIDs > 0 {
			slog.Debug("Discovered instruments from quotes request",
				"primitive", primitive,
				"new", obs.NewIDs,
				"total", i.instruments.Len())
		}
	}
	return obs
}

// OfferHeaders captures a token from headers that arrive separately from the
// request itself, as CDP reports them for some calls.
func (i *Interceptor) OfferHeaders(primitive string, headers HeaderSource) bool {
	defer i.guard(primitive, "headers")
	return i.offerToken(primitive, headers)
}

func (i *Interceptor) offerToken(primitive string, headers HeaderSource) bool {
	if _, ok := i.tokens.Get(); ok {
		return false
	}
	if !i.tokens.Set(Authorization(headers)) {
		return false
	}
	i.metrics.TokenCaptured(primitive)
	slog.Info("Captured bearer token", "primitive", primitive)
	return true
}

type quotesPayload struct {
	Results []*quoteResult `json:"results"`
}

type quoteResult struct {
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
}

// ObserveResponse inspects the response body of a quotes call and fills in
// symbols. Non-2xx responses and unparseable bodies are ignored.
func (i *Interceptor) ObserveResponse(obs Observation, status int, body []byte) {
	defer i.guard(obs.Primitive, "response")

	if !obs.Quotes {
		return
	}
	i.writeJournal(obs, status, body)
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return
	}

	var payload quotesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Debug("Skipping unparseable quotes response",
			"primitive", obs.Primitive,
			"error", err)
		return
	}

	upserted := 0
	for _, r := range payload.Results {
		if r == nil || r.InstrumentID == "" || r.Symbol == "" {
			continue
		}
		i.instruments.UpsertSymbol(r.InstrumentID, r.Symbol)
		upserted++
	}
	if upserted > 0 {
		i.scheduleEnrichment()
	}
}

func (i *Interceptor) writeJournal(obs Observation, status int, body []byte) {
	if i.journal == nil {
		return
	}
	rec := &observedRecord{
		Timestamp:      time.Now().UTC(),
		Primitive:      obs.Primitive,
		RequestID:      obs.RequestID,
		TabID:          obs.TabID,
		Method:         obs.Method,
		URL:            obs.URL,
		InstrumentIDs:  obs.IDs,
		RequestHeaders: redactedHeaders(obs.headers, "Authorization", "Accept", "X-Hyper-Ex", "X-Timezone-Id"),
		Status:         status,
	}
	clipBody(rec, body, i.maxBody)
	if err := i.journal.Write(rec); err != nil {
		slog.Debug("Failed to journal quotes exchange", "error", err)
	}
}

// scheduleEnrichment starts one background pass over entries that still lack
// a display name. A request made while a pass runs queues exactly one rerun.
func (i *Interceptor) scheduleEnrichment() {
	lookup := i.nameLookup()
	if lookup == nil {
		return
	}
	if !i.enriching.CompareAndSwap(false, true) {
		i.enrichAgain.Store(true)
		return
	}
	i.enrichWG.Add(1)
	go func() {
		defer i.enrichWG.Done()
		for {
			i.enrichPasses(lookup)
			i.enriching.Store(false)
			// A request that lost the CAS after the last check is still pending.
			if !i.enrichAgain.Load() || i.ctx.Err() != nil || !i.enriching.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

func (i *Interceptor) enrichPasses(lookup NameLookup) {
	defer i.guard("enrichment", "names")
	for {
		i.enrichAgain.Store(false)
		i.enrichNames(lookup)
		if !i.enrichAgain.Load() || i.ctx.Err() != nil {
			break
		}
	}
	if i.passDone != nil {
		i.passDone()
	}
}

func (i *Interceptor) enrichNames(lookup NameLookup) {
	for _, id := range i.instruments.NeedingNames() {
		if i.ctx.Err() != nil {
			return
		}
		// One lookup per instrument per session.
		if _, seen := i.looked.LoadOrStore(id, struct{}{}); seen {
			continue
		}
		ctx, cancel := context.WithTimeout(i.ctx, nameLookupTimeout)
		name, err := lookup.InstrumentName(ctx, id)
		cancel()
		if err != nil {
			slog.Warn("Instrument name lookup failed",
				"instrument_id", id,
				"error", err)
			continue
		}
		if name != "" {
			i.instruments.SetName(id, name)
		}
	}
}

// WaitEnrichment blocks until no enrichment pass is running or ctx ends.
func (i *Interceptor) WaitEnrichment(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for i.enriching.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (i *Interceptor) guard(primitive, stage string) {
	if r := recover(); r != nil {
		slog.Error("Interceptor recovered from panic",
			"primitive", primitive,
			"stage", stage,
			"panic", r)
	}
}
