package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSession is returned when a session id is registered twice
	ErrDuplicateSession = errors.New("session already exists")
	// ErrCancelled is the cancellation cause attached to a session token
	ErrCancelled = errors.New("session cancelled")
	// ErrTimedOut is used when the time budget runs out
	ErrTimedOut = errors.New("session timed out")
	// ErrExtractionMiss marks a notification without all required fields
	ErrExtractionMiss = errors.New("notification fields not extracted")
)

// TransientSourceError wraps a failed poll of the notification source.
// It never ends a session.
type TransientSourceError struct {
	Op  string
	Err error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("notification source %s failed: %v", e.Op, e.Err)
}

func (e *TransientSourceError) Unwrap() error {
	return e.Err
}
