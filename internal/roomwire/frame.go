package roomwire

// Op names a relay request.
type Op string

const (
	OpReady       Op = "ready"
	OpCreate      Op = "create"
	OpLoad        Op = "load"
	OpClaim       Op = "claim"
	OpSeat        Op = "seat"
	OpDisconnect  Op = "disconnect"
	OpUpdate      Op = "update"
	OpAppend      Op = "append"
	OpMoves       Op = "moves"
	OpDelete      Op = "delete"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"

	// OpEvent marks a server push carrying a room event.
	OpEvent Op = "event"
)

// Request is a client to relay frame. Color is empty for a disconnect
// request that cancels the registration.
type Request struct {
	ID          string `json:"id"`
	Op          Op     `json:"op"`
	RoomID      string `json:"roomId,omitempty"`
	Color       string `json:"color,omitempty"`
	Index       int    `json:"index,omitempty"`
	ExpectedSeq int64  `json:"expectedSeq,omitempty"`
	Occupied    bool   `json:"occupied,omitempty"`
	Room        *Room  `json:"room,omitempty"`
	Move        *Move  `json:"move,omitempty"`
}

// Reply is a relay to client frame: either the response to the request
// with the same ID, or a push with Op set to OpEvent.
type Reply struct {
	ID    string `json:"id,omitempty"`
	Op    Op     `json:"op,omitempty"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Room  *Room  `json:"room,omitempty"`
	Moves []Move `json:"moves,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
	Event *Event `json:"event,omitempty"`
}

// Err turns a failed reply back into a coded error.
func (r *Reply) Err() error {
	if r.OK {
		return nil
	}
	code := r.Code
	if code == "" {
		code = CodeInternal
	}
	return FromCode(code, r.Error)
}
