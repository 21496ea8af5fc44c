// Package registry keeps the instruments discovered from the brokerage tab.
package registry

import (
	"strings"
	"sync"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

// Registry maps instrument id to discovered metadata. Entries keep insertion
// order and are never removed during a session.
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]*types.Instrument

	subsMu sync.RWMutex
	subs   []func(count int)
}

func New() *Registry {
	return &Registry{items: make(map[string]*types.Instrument)}
}

// Subscribe registers fn to be called with the entry count after every change.
func (r *Registry) Subscribe(fn func(count int)) {
	r.subsMu.Lock()
	r.subs = append(r.subs, fn)
	r.subsMu.Unlock()
}

func (r *Registry) notify() {
	count := r.Len()
	r.subsMu.RLock()
	subs := make([]func(int), len(r.subs))
	copy(subs, r.subs)
	r.subsMu.RUnlock()
	for _, fn := range subs {
		fn(count)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (types.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	if !ok {
		return types.Instrument{}, false
	}
	return *inst, true
}

// AddPlaceholders inserts a placeholder record for every id not yet known and
// returns how many were new.
func (r *Registry) AddPlaceholders(ids []string) int {
	added := 0
	r.mu.Lock()
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := r.items[id]; ok {
			continue
		}
		inst := types.NewPlaceholder(id)
		r.items[id] = &inst
		r.order = append(r.order, id)
		added++
	}
	r.mu.Unlock()

	if added > 0 {
		r.notify()
	}
	return added
}

// UpsertSymbol records the ticker for id, creating the entry when missing.
// A learned name survives; a placeholder name falls back to the symbol.
func (r *Registry) UpsertSymbol(id, symbol string) types.Instrument {
	r.mu.Lock()
	inst, ok := r.items[id]
	if !ok {
		fresh := types.NewPlaceholder(id)
		inst = &fresh
		r.items[id] = inst
		r.order = append(r.order, id)
	}
	inst.Symbol = symbol
	if inst.Name == "" || inst.Name == types.Placeholder {
		inst.Name = symbol
	}
	out := *inst
	r.mu.Unlock()

	r.notify()
	return out
}

// Put stores a fully resolved record, e.g. from a symbol lookup.
func (r *Registry) Put(inst types.Instrument) {
	if inst.InstrumentID == "" {
		return
	}
	r.mu.Lock()
	existing, ok := r.items[inst.InstrumentID]
	if !ok {
		stored := inst
		r.items[inst.InstrumentID] = &stored
		r.order = append(r.order, inst.InstrumentID)
	} else {
		if inst.Symbol != "" {
			existing.Symbol = inst.Symbol
		}
		if inst.Name != "" && !(inst.Name == inst.Symbol && !existing.NeedsName()) {
			existing.Name = inst.Name
		}
	}
	r.mu.Unlock()

	r.notify()
}

// SetName replaces the display name of an existing entry.
func (r *Registry) SetName(id, name string) bool {
	if name == "" {
		return false
	}
	r.mu.Lock()
	inst, ok := r.items[id]
	if ok {
		inst.Name = name
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// NeedingNames lists ids whose display name is still a stand-in.
func (r *Registry) NeedingNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		if r.items[id].NeedsName() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns copies of every record in insertion order. Later registry
// mutations do not affect the returned slice.
func (r *Registry) Snapshot() []types.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Instrument, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.items[id])
	}
	return out
}
