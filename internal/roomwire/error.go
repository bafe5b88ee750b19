package roomwire

import "errors"

// Error codes shared by the store, the relay and its clients.
const (
	CodeRoomNotFound  = "room_not_found"
	CodeRoomExists    = "room_exists"
	CodeSeatTaken     = "seat_taken"
	CodeMoveExists    = "move_exists"
	CodeSeqConflict   = "seq_conflict"
	CodeNotReady      = "not_ready"
	CodeInvalidRecord = "invalid_record"
	CodeInternal      = "internal"
)

// Error is a coded failure. Two Errors match under errors.Is when their
// codes match, so an error decoded from the wire still satisfies the
// package sentinels.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "room error"
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrRoomNotFound  = &Error{Code: CodeRoomNotFound, Message: "room not found"}
	ErrRoomExists    = &Error{Code: CodeRoomExists, Message: "room already exists"}
	ErrSeatTaken     = &Error{Code: CodeSeatTaken, Message: "seat already taken"}
	ErrMoveExists    = &Error{Code: CodeMoveExists, Message: "move index already written"}
	ErrSeqConflict   = &Error{Code: CodeSeqConflict, Message: "room changed concurrently", Retryable: true}
	ErrNotReady      = &Error{Code: CodeNotReady, Message: "transport not ready", Retryable: true}
	ErrInvalidRecord = &Error{Code: CodeInvalidRecord, Message: "invalid record"}
)

func invalid(msg string) error {
	return &Error{Code: CodeInvalidRecord, Message: "invalid record: " + msg}
}

// CodeOf extracts the wire code of err, CodeInternal for foreign errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var we *Error
	if errors.As(err, &we) && we.Code != "" {
		return we.Code
	}
	return CodeInternal
}

// FromCode rebuilds an error received over the wire.
func FromCode(code, message string) error {
	if code == "" {
		return nil
	}
	for _, known := range []*Error{ErrRoomNotFound, ErrRoomExists, ErrSeatTaken, ErrMoveExists, ErrSeqConflict, ErrNotReady, ErrInvalidRecord} {
		if known.Code == code {
			if message == "" {
				return known
			}
			return &Error{Code: code, Message: message, Retryable: known.Retryable}
		}
	}
	return &Error{Code: code, Message: message}
}
