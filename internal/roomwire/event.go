package roomwire

// EventType tags a live-feed event.
type EventType string

const (
	EventRoom    EventType = "room"
	EventMove    EventType = "move"
	EventDeleted EventType = "deleted"
	EventInvalid EventType = "invalid"
)

// Event is one item of a room's live feed: a new snapshot, a move-log
// entry, the room's deletion, or a payload that failed validation.
type Event struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	Snapshot *Room     `json:"snapshot,omitempty"`
	Index    int       `json:"index,omitempty"`
	Move     *Move     `json:"move,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Validate checks the payload that the event type requires.
func (e *Event) Validate() error {
	if e == nil {
		return invalid("event is nil")
	}
	switch e.Type {
	case EventRoom:
		return e.Snapshot.Validate()
	case EventMove:
		if e.Index < 0 {
			return invalid("negative move index")
		}
		return e.Move.Validate()
	case EventDeleted, EventInvalid:
		return nil
	}
	return invalid("event type " + string(e.Type))
}

// Feed is a live subscription to one room.
type Feed interface {
	Events() <-chan Event
	Close() error
}
