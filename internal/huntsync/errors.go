package huntsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSubscribed is returned when closing a notifier that has no open streams.
	ErrNotSubscribed = errors.New("change notifier not subscribed")
	// ErrAlreadySubscribed is returned by a second Subscribe without an intervening Close.
	ErrAlreadySubscribed = errors.New("change notifier already subscribed")
	// ErrInvalidInput marks records rejected before any remote call.
	ErrInvalidInput = errors.New("invalid input")
)

// Error is the failure result of a sync operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("huntsync: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &Error{Op: op, Err: err}
}
