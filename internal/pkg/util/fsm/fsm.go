// Package fsm carries small helpers for working with looplab/fsm.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// Handler is a state machine callback that may fail.
type Handler func(ctx context.Context, e *fsm.Event) error

// WrapEvent turns a Handler into an fsm.Callback. looplab callbacks cannot
// return errors directly; storing the error on the event makes Event()
// return it to the caller that fired the transition.
func WrapEvent(fn Handler) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}
