// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"errors"
	"fmt"

	"v.io/v23/verror"
)

var (
	// ErrNotParticipant is raised when a scheduling point is requested
	// with a context that is not bound to a participant of a trial.
	ErrNotParticipant = verror.NewID("NotParticipant")
	// ErrForeignGoroutine is raised when a participant handle is used
	// from a goroutine other than the one it was bound to.
	ErrForeignGoroutine = verror.NewID("ForeignGoroutine")
	// ErrProtocol reports an unexpected message in the rendezvous
	// protocol. It always aborts the trial.
	ErrProtocol = verror.NewID("Protocol")
	// ErrStepCountMismatch reports a participant whose declared number
	// of scheduling points does not match the number it requested.
	ErrStepCountMismatch = verror.NewID("StepCountMismatch")
	// ErrInvalidTest reports an invalid test declaration.
	ErrInvalidTest = verror.NewID("InvalidTest")
	// ErrBadKey reports a reproduction key that cannot be parsed.
	ErrBadKey = verror.NewID("BadKey")
	// ErrTrialFailed is returned by Report.Err for a failing trial.
	ErrTrialFailed = verror.NewID("TrialFailed")
)

var errGoexit = errors.New("participant called runtime.Goexit")

// PanicError records a panic raised by a participant. The recovered
// value is kept as is.
type PanicError struct {
	// Participant is the declaration index of the participant.
	Participant int
	// Name is the participant's name.
	Name string
	// Value is the value passed to panic.
	Value interface{}
	// Stack is the stack of the panicking goroutine.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("participant %d (%s) panicked: %v", e.Participant, e.Name, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
