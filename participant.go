// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"context"
	"runtime/debug"
)

// UnknownSteps declares a participant whose number of scheduling
// points is not known. Such tests can only be explored by seed.
const UnknownSteps = -1

// Participant is one of the concurrent functions of a test.
type Participant[S any] struct {
	// Name identifies the participant in reports.
	Name string
	// Steps is the number of scheduling points the participant
	// passes: calls to Yield plus the points of the instrumented
	// locks it acquires. It must be exact for exhaustive
	// exploration.
	Steps int
	// Fn is the body of the participant. Scheduling points must be
	// requested with ctx or a context derived from it.
	Fn func(ctx context.Context, state S)
}

// Invariant is a predicate over the shared state that is checked
// after every granted step.
type Invariant[S any] struct {
	Name  string
	Check func(state S) bool
}

// Test declares a set of participants sharing one state value.
type Test[S any] struct {
	Name string
	// Init produces a fresh shared state for every trial.
	Init         func() S
	Participants []Participant[S]
	Invariants   []Invariant[S]
}

func (t *Test[S]) validate() error {
	if t.Init == nil {
		return ErrInvalidTest.Errorf(nil, "test %q has no initializer", t.Name)
	}
	if len(t.Participants) == 0 {
		return ErrInvalidTest.Errorf(nil, "test %q has no participants", t.Name)
	}
	for i, p := range t.Participants {
		if p.Fn == nil {
			return ErrInvalidTest.Errorf(nil, "test %q: participant %d (%s) has no function", t.Name, i, p.Name)
		}
		if p.Steps < UnknownSteps {
			return ErrInvalidTest.Errorf(nil, "test %q: participant %d (%s) declares %d steps", t.Name, i, p.Name, p.Steps)
		}
	}
	for i, inv := range t.Invariants {
		if inv.Check == nil {
			return ErrInvalidTest.Errorf(nil, "test %q: invariant %d (%s) has no predicate", t.Name, i, inv.Name)
		}
	}
	return nil
}

// steps returns the declared step counts, or false if any of them is
// unknown.
func (t *Test[S]) steps() ([]int, bool) {
	steps := make([]int, len(t.Participants))
	for i, p := range t.Participants {
		if p.Steps == UnknownSteps {
			return nil, false
		}
		steps[i] = p.Steps
	}
	return steps, true
}

// registerAndRun binds h to the calling goroutine, runs fn and always
// finishes with an Exit message, whether fn returned, panicked or
// called runtime.Goexit. A panic is recovered here and travels to the
// coordinator inside the Exit message, with its original value and
// the stack of the panicking goroutine. joined is closed last.
func registerAndRun(ctx context.Context, h *ParticipantHandle, fn func(context.Context), joined chan<- struct{}) {
	defer close(joined)
	if !h.bind() {
		return
	}
	var failure *PanicError
	defer func() {
		h.exit(failure)
	}()
	completed := false
	defer func() {
		r := recover()
		switch {
		case r != nil:
			failure = &PanicError{Participant: h.index, Name: h.name, Value: r, Stack: debug.Stack()}
			h.poisonHeld()
		case !completed && !h.aborted():
			failure = &PanicError{Participant: h.index, Name: h.name, Value: errGoexit, Stack: debug.Stack()}
		}
	}()
	fn(withHandle(ctx, h))
	completed = true
}
