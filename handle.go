// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"context"
	"runtime"

	"github.com/petermattis/goid"
)

// coordinatorHandle is the coordinator's side of a handle pair. It is
// only ever accessed by the goroutine running the trial.
type coordinatorHandle struct {
	index int
	name  string
	// declared is the declared number of scheduling points.
	declared int
	// toParticipant carries Rendezvous acknowledgements and Step
	// grants.
	toParticipant chan<- MessageKind
	// fromParticipant carries Rendezvous, Step and Exit reports.
	fromParticipant <-chan message
	// joined is closed once the participant's goroutine has returned.
	joined <-chan struct{}
	// parked is the scheduling point the participant waits at, nil
	// while it is running or after it exited.
	parked *request
	// points counts the scheduling points reported so far.
	points int
	exited bool
}

// ParticipantHandle is the participant's side of a handle pair. It is
// bound to the goroutine that runs the participant and is found by
// nested code through the context passed to the participant function.
type ParticipantHandle struct {
	index           int
	name            string
	toCoordinator   chan<- message
	fromCoordinator <-chan MessageKind
	abort           <-chan struct{}
	// gid is the identifier of the goroutine the handle is bound to.
	gid  int64
	held []heldLock
}

// heldLock records an instrumented lock held by a participant so that
// the lock can be poisoned if the participant panics.
type heldLock struct {
	lock   interface{}
	poison func()
}

// handlePair creates the two ends of the rendezvous channel of one
// participant. The channels are unbuffered: every send is a
// rendezvous.
func handlePair(index int, name string, declared int, abort <-chan struct{}) (*coordinatorHandle, *ParticipantHandle, chan<- struct{}) {
	down := make(chan MessageKind)
	up := make(chan message)
	joined := make(chan struct{})
	ch := &coordinatorHandle{
		index:           index,
		name:            name,
		declared:        declared,
		toParticipant:   down,
		fromParticipant: up,
		joined:          joined,
	}
	ph := &ParticipantHandle{
		index:           index,
		name:            name,
		toCoordinator:   up,
		fromCoordinator: down,
		abort:           abort,
	}
	return ch, ph, joined
}

// Index returns the declaration index of the participant.
func (h *ParticipantHandle) Index() int {
	return h.index
}

// Name returns the name of the participant.
func (h *ParticipantHandle) Name() string {
	return h.name
}

// Goroutine returns the identifier of the goroutine the handle is
// bound to.
func (h *ParticipantHandle) Goroutine() int64 {
	return h.gid
}

// bind performs the Rendezvous handshake. It returns false if the
// trial was abandoned before the coordinator acknowledged.
func (h *ParticipantHandle) bind() bool {
	h.gid = goid.Get()
	select {
	case h.toCoordinator <- message{kind: Rendezvous}:
	case <-h.abort:
		return false
	}
	select {
	case kind := <-h.fromCoordinator:
		if kind != Rendezvous {
			panic(ErrProtocol.Errorf(nil, "participant %d expected %v, got %v", h.index, Rendezvous, kind))
		}
	case <-h.abort:
		return false
	}
	return true
}

// Step reports that the participant reached a scheduling point of
// the given kind and parks it until the coordinator grants the step.
// The coordinator only grants the step while enabled returns true; a
// nil enabled is always enabled. If the trial is abandoned while the
// participant is parked, the participant's goroutine exits through
// runtime.Goexit.
func (h *ParticipantHandle) Step(kind PointKind, enabled func() bool) {
	if gid := goid.Get(); gid != h.gid {
		panic(ErrForeignGoroutine.Errorf(nil, "participant %d (%s) is bound to goroutine %d, used from goroutine %d", h.index, h.name, h.gid, gid))
	}
	select {
	case h.toCoordinator <- message{kind: Step, req: &request{kind: kind, enabled: enabled}}:
	case <-h.abort:
		runtime.Goexit()
	}
	select {
	case kind := <-h.fromCoordinator:
		if kind != Step {
			panic(ErrProtocol.Errorf(nil, "participant %d expected %v, got %v", h.index, Step, kind))
		}
	case <-h.abort:
		runtime.Goexit()
	}
}

// exit sends the terminal Exit message. It never blocks once the
// trial is abandoned.
func (h *ParticipantHandle) exit(failure *PanicError) {
	select {
	case h.toCoordinator <- message{kind: Exit, failure: failure}:
	case <-h.abort:
	}
}

func (h *ParticipantHandle) aborted() bool {
	select {
	case <-h.abort:
		return true
	default:
		return false
	}
}

// Acquired records that the participant holds lock. poison is called
// if the participant panics before calling Released.
func (h *ParticipantHandle) Acquired(lock interface{}, poison func()) {
	h.held = append(h.held, heldLock{lock: lock, poison: poison})
}

// Released records that the participant no longer holds lock.
func (h *ParticipantHandle) Released(lock interface{}) {
	for i := len(h.held) - 1; i >= 0; i-- {
		if h.held[i].lock == lock {
			h.held = append(h.held[:i], h.held[i+1:]...)
			return
		}
	}
}

// poisonHeld poisons the locks still held, most recent first.
func (h *ParticipantHandle) poisonHeld() {
	for i := len(h.held) - 1; i >= 0; i-- {
		h.held[i].poison()
	}
	h.held = nil
}

type handleKey struct{}

func withHandle(ctx context.Context, h *ParticipantHandle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// HandleFromContext returns the participant handle bound to ctx, or
// ErrNotParticipant if ctx was not derived from the context passed to
// a participant function.
func HandleFromContext(ctx context.Context) (*ParticipantHandle, error) {
	if ctx != nil {
		if h, ok := ctx.Value(handleKey{}).(*ParticipantHandle); ok {
			return h, nil
		}
	}
	return nil, ErrNotParticipant.Errorf(nil, "no participant is bound to the context")
}

// Yield is an explicit scheduling point: it parks the calling
// participant until the coordinator selects it again. Participants
// use it around plain reads and writes of shared state that no
// instrumented lock guards. Calling Yield with a context that is not
// bound to a participant is a usage error and panics with
// ErrNotParticipant.
func Yield(ctx context.Context) {
	h, err := HandleFromContext(ctx)
	if err != nil {
		panic(err)
	}
	h.Step(PointMarker, nil)
}
