package eventsource

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContent is returned when the server answers 204, which tells the
	// client to stop reconnecting.
	ErrNoContent = errors.New("eventsource: server responded 204 No Content")
	// ErrStreamEnded reports that an open stream reached EOF.
	ErrStreamEnded = errors.New("eventsource: stream ended")
	// ErrRetriesExhausted is wrapped by the terminal error once MaxRetries
	// reconnection attempts have failed.
	ErrRetriesExhausted = errors.New("eventsource: reconnection attempts exhausted")
)

// StatusError reports a non-200 response.
type StatusError struct{ Code int }

func (e *StatusError) Error() string {
	return fmt.Sprintf("eventsource: unexpected status %d", e.Code)
}

// ContentTypeError reports a 200 response that is not text/event-stream.
type ContentTypeError struct{ ContentType string }

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("eventsource: unexpected content type %q", e.ContentType)
}

// failure marks an error after which the connection must not be retried.
type failure struct{ err error }

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func fail(err error) error { return &failure{err: err} }

// IsFatal reports whether err ends the connection without a retry.
func IsFatal(err error) bool {
	var f *failure
	return errors.As(err, &f)
}
