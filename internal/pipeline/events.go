package pipeline

import "time"

// State is a step of an export run.
type State string

const (
	StateIdle              State = "idle"
	StateReadingRegistry   State = "reading_registry"
	StateFetchingRatings   State = "fetching_ratings"
	StateFetchingQuotes    State = "fetching_quotes"
	StateFetchingFairValue State = "fetching_fair_value"
	StateJoining           State = "joining"
	StateSerializing       State = "serializing"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventStatus   EventKind = "status"
)

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

type Status struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

// Event is one notification from a run. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id"`
	At       time.Time `json:"at"`
	State    State     `json:"state"`
	Busy     bool      `json:"busy"`
	Progress *Progress `json:"progress,omitempty"`
	Status   *Status   `json:"status,omitempty"`
}

// Callbacks adapts plain progress and status functions to a subscriber.
// Either may be nil.
func Callbacks(progress func(current, total int, message string), status func(message string, level Level)) func(Event) {
	return func(ev Event) {
		switch {
		case ev.Progress != nil && progress != nil:
			progress(ev.Progress.Current, ev.Progress.Total, ev.Progress.Message)
		case ev.Status != nil && status != nil:
			status(ev.Status.Message, ev.Status.Level)
		}
	}
}
