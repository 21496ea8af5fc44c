// Package pipeline runs an export: snapshot the registry, fetch ratings,
// quotes and fair values, join them into rows and store the workbook.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/metrics"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/report"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/spreadsheet"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/upstream"
)

var (
	ErrBusy          = errors.New("export already running")
	ErrEmptyRegistry = errors.New("no stocks captured yet")
)

// Source yields the instruments to export.
type Source interface {
	Snapshot() []types.Instrument
}

// Fetcher is the upstream surface a run needs.
type Fetcher interface {
	GetRatings(ctx context.Context, ids []string) map[string]types.RatingsSummary
	GetQuotes(ctx context.Context, ids []string, progress upstream.ProgressFunc) (map[string]*types.Quote, error)
	GetFairValues(ctx context.Context, ids []string, progress upstream.ProgressFunc) (map[string]*types.FairValueReport, error)
}

// Store persists finished workbooks.
type Store interface {
	Save(meta exports.Meta, data []byte) (exports.Meta, error)
}

type Options struct {
	// Serialize renders rows; spreadsheet.Encode when nil.
	Serialize func(rows []report.Row) ([]byte, error)
	// TokenReady is recorded on the export's metadata.
	TokenReady func() bool
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Snapshot is the pipeline's externally visible state.
type Snapshot struct {
	RunID      string        `json:"run_id,omitempty"`
	State      State         `json:"state"`
	Busy       bool          `json:"busy"`
	Progress   Progress      `json:"progress"`
	Status     *Status       `json:"status,omitempty"`
	LastExport *exports.Meta `json:"last_export,omitempty"`
}

type Pipeline struct {
	source  Source
	fetcher Fetcher
	store   Store
	opts    Options

	// busy is the trigger's ready flag; a run owns it from start to finish.
	busy atomic.Bool

	mu     sync.RWMutex
	snap   Snapshot
	subs   map[int]func(Event)
	nextID int
}

func New(source Source, fetcher Fetcher, store Store, opts Options) *Pipeline {
	if opts.Serialize == nil {
		opts.Serialize = spreadsheet.Encode
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		source:  source,
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		snap:    Snapshot{State: StateIdle},
		subs:    make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every event and returns a function that
// removes it. fn runs on the exporting goroutine and must not block.
func (p *Pipeline) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Busy reports whether a run is in progress.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snap
	s.Busy = p.busy.Load()
	return s
}

// Run performs one export synchronously. It returns ErrBusy when another
// run holds the trigger.
func (p *Pipeline) Run(ctx context.Context) (exports.Meta, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return exports.Meta{}, ErrBusy
	}
	return p.run(ctx, exports.NewID())
}

// Start claims the trigger and runs the export in the background. The
// returned id names the run and the stored export.
func (p *Pipeline) Start(ctx context.Context) (string, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	id := exports.NewID()
	go func() {
		if _, err := p.run(ctx, id); err != nil {
			slog.Debug("export run ended with error", "run_id", id, "error", err)
		}
	}()
	return id, nil
}

func (p *Pipeline) run(ctx context.Context, runID string) (meta exports.Meta, err error) {
	started := p.opts.Now()
	p.mu.Lock()
	p.snap = Snapshot{RunID: runID, State: StateIdle, LastExport: p.snap.LastExport}
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("export panic: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			if errors.Is(err, ErrEmptyRegistry) {
				outcome = "empty"
			}
			p.setState(runID, StateFailed)
			p.status(runID, "Error: "+err.Error(), LevelError)
			slog.Error("export failed", "run_id", runID, "error", err)
		}
		p.opts.Metrics.ExportFinished(outcome, p.opts.Now().Sub(started))
		p.busy.Store(false)
		// Final state event carries Busy=false so listeners re-enable the trigger.
		p.setState(runID, p.Snapshot().State)
	}()

	p.setState(runID, StateReadingRegistry)
	records := p.source.Snapshot()
	total := len(records)
	if total == 0 {
		return exports.Meta{}, ErrEmptyRegistry
	}
	ids := make([]string, 0, total)
	for _, r := range records {
		if r.InstrumentID != "" {
			ids = append(ids, r.InstrumentID)
		}
	}
	p.status(runID, fmt.Sprintf("Fetching data for %d stocks...", total), LevelInfo)
	slog.Info("export started", "run_id", runID, "instruments", total)

	p.setState(runID, StateFetchingRatings)
	p.progress(runID, 0, total, "Fetching analyst ratings...")
	ratings := p.fetcher.GetRatings(ctx, ids)
	p.progress(runID, total, total, "Ratings fetched")

	p.setState(runID, StateFetchingQuotes)
	p.progress(runID, 0, total, "Fetching latest quotes...")
	quotes, err := p.fetcher.GetQuotes(ctx, ids, func(done, n int) {
		p.progress(runID, done, n, fmt.Sprintf("Fetched quotes %d/%d...", done, n))
	})
	if err != nil {
		return exports.Meta{}, fmt.Errorf("fetch quotes: %w", err)
	}

	p.setState(runID, StateFetchingFairValue)
	p.progress(runID, 0, total, "Fetching fair value data...")
	fairValues, err := p.fetcher.GetFairValues(ctx, ids, func(done, n int) {
		p.progress(runID, done, n, fmt.Sprintf("Fetched fair value %d/%d...", done, n))
	})
	if err != nil {
		return exports.Meta{}, fmt.Errorf("fetch fair values: %w", err)
	}

	p.setState(runID, StateJoining)
	p.progress(runID, 0, 1, "Compiling data...")
	rows := report.Join(records, ratings, fairValues, quotes)

	p.setState(runID, StateSerializing)
	p.progress(runID, 1, 1, "Generating Excel file...")
	data, err := p.opts.Serialize(rows)
	if err != nil {
		return exports.Meta{}, fmt.Errorf("serialize: %w", err)
	}

	finished := p.opts.Now()
	meta = exports.Meta{
		ID:          runID,
		FileName:    spreadsheet.FileName(finished),
		Rows:        len(rows),
		CreatedAt:   finished.UTC(),
		Duration:    finished.Sub(started),
		RatingsHits: len(ratings),
		QuoteHits:   len(quotes),
		FairHits:    countPresent(fairValues),
	}
	if p.opts.TokenReady != nil {
		meta.TokenReady = p.opts.TokenReady()
	}
	if meta, err = p.store.Save(meta, data); err != nil {
		return exports.Meta{}, fmt.Errorf("store export: %w", err)
	}

	p.mu.Lock()
	p.snap.LastExport = &meta
	p.mu.Unlock()

	p.setState(runID, StateDone)
	p.status(runID, fmt.Sprintf("Successfully exported data for %d stocks!", len(rows)), LevelSuccess)
	p.progress(runID, len(rows), len(rows), "Complete!")
	slog.Info("export finished", "run_id", runID, "rows", len(rows), "file", meta.FileName, "elapsed", meta.Duration)
	return meta, nil
}

func countPresent(m map[string]*types.FairValueReport) int {
	n := 0
	for _, v := range m {
		if v != nil {
			n++
		}
	}
	return n
}

func (p *Pipeline) setState(runID string, s State) {
	p.mu.Lock()
	p.snap.State = s
	p.mu.Unlock()
	p.publish(Event{Kind: EventState, RunID: runID, State: s})
}

func (p *Pipeline) progress(runID string, current, total int, message string) {
	pr := Progress{Current: current, Total: total, Message: message}
	p.mu.Lock()
	p.snap.Progress = pr
	p.mu.Unlock()
	p.publish(Event{Kind: EventProgress, RunID: runID, Progress: &pr})
}

func (p *Pipeline) status(runID, message string, level Level) {
	st := Status{Message: message, Level: level}
	p.mu.Lock()
	p.snap.Status = &st
	p.mu.Unlock()
	p.publish(Event{Kind: EventStatus, RunID: runID, Status: &st})
}

func (p *Pipeline) publish(ev Event) {
	ev.At = p.opts.Now()
	ev.Busy = p.busy.Load()

	p.mu.RLock()
	if ev.State == "" {
		ev.State = p.snap.State
	}
	subs := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("export subscriber panicked", "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}
