// Package workflow is a small durable execution engine. Events create runs,
// workers lease runs from a Store, and every named step inside a handler is
// memoized so a replayed run skips work that already succeeded.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
)

// Event is a named message that triggers every function subscribed to Name.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Handler runs one attempt of a function. The returned value becomes the run
// output once it is JSON encoded.
type Handler func(ctx context.Context, run *Run) (any, error)

// Function binds a handler to an event.
type Function struct {
	ID    string
	Event string
	// Retries is the number of extra attempts after a failure. Negative uses
	// the engine default.
	Retries int
	Handler Handler
}

type nonRetriable struct {
	err error
}

func (e *nonRetriable) Error() string { return e.err.Error() }
func (e *nonRetriable) Unwrap() error { return e.err }

// NonRetriable marks err so the engine fails the run without another attempt.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriable{err: err}
}

// IsNonRetriable reports whether err, or anything it wraps, was marked with NonRetriable.
func IsNonRetriable(err error) bool {
	var target *nonRetriable
	return errors.As(err, &target)
}
