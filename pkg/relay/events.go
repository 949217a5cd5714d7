package relay

// EventType distinguishes content deltas from the terminal events of a turn
type EventType string

const (
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item on a turn's event channel. Every turn ends with exactly one
// EventDone or EventError, after which the channel is closed.
type Event struct {
	Type   EventType `json:"type"`
	TurnID string    `json:"turn_id"`
	// Content is the delta text for EventContent
	Content string `json:"content,omitempty"`
	// Reply is the full committed text for EventDone
	Reply string `json:"reply,omitempty"`
	// Kind and Error describe the failure for EventError
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`

	err error
}

// Err returns the underlying failure of an EventError
func (e Event) Err() error {
	return e.err
}

// Terminal reports whether e ends its turn
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// State is the final state of a turn
type State string

const (
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Outcome records how a turn ended
type Outcome struct {
	TurnID string
	State  State
	Reply  string
	Deltas int
	Err    error
}

func errorEvent(turnID string, err error) Event {
	kind, msg := Describe(err)
	return Event{Type: EventError, TurnID: turnID, Kind: kind, Error: msg, err: err}
}
