package types

// Placeholder marks a symbol or name that has not been learned yet.
const Placeholder = "Loading..."

// Instrument is the registry value for one discovered instrument.
type Instrument struct {
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
}

// NewPlaceholder returns a record for an id seen before any metadata arrived.
func NewPlaceholder(id string) Instrument {
	return Instrument{InstrumentID: id, Symbol: Placeholder, Name: Placeholder}
}

// NeedsName reports whether the display name is still a stand-in: either the
// placeholder itself or the ticker copied in when the symbol was learned.
func (i Instrument) NeedsName() bool {
	return i.Name == "" || i.Name == Placeholder || i.Name == i.Symbol
}
