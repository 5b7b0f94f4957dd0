package session

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrDisconnected = errors.New("disconnected from signaling server")
	ErrNoRoom       = errors.New("room id is required")
)

// Error wraps a failed session operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
