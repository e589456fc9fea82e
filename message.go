// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"fmt"
)

// MessageKind identifies a message of the rendezvous protocol.
type MessageKind int

const (
	// Rendezvous is the initial handshake: the participant is alive
	// and parked, and the coordinator acknowledges it.
	Rendezvous MessageKind = iota
	// Step grants (coordinator to participant) or reports
	// (participant to coordinator) exactly one scheduling point.
	Step
	// Exit reports that the participant terminated.
	Exit
)

func (k MessageKind) String() string {
	switch k {
	case Rendezvous:
		return "Rendezvous"
	case Step:
		return "Step"
	case Exit:
		return "Exit"
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// PointKind identifies the kind of a scheduling point.
type PointKind int

const (
	// PointMarker is an explicit scheduling point (see Yield).
	PointMarker PointKind = iota
	// PointLock precedes an exclusive lock acquisition.
	PointLock
	// PointTryLock precedes a non-blocking lock attempt.
	PointTryLock
	// PointRLock precedes a shared lock acquisition.
	PointRLock
	// PointRLockAcquired follows a shared lock acquisition.
	PointRLockAcquired
)

func (k PointKind) String() string {
	switch k {
	case PointMarker:
		return "marker"
	case PointLock:
		return "lock"
	case PointTryLock:
		return "trylock"
	case PointRLock:
		return "rlock"
	case PointRLockAcquired:
		return "rlock-acquired"
	}
	return fmt.Sprintf("PointKind(%d)", int(k))
}

// Direction is the direction of a protocol message.
type Direction int

const (
	ToParticipant Direction = iota
	ToCoordinator
)

// Event records one protocol message as observed by the coordinator.
// The sequence of events of a trial is a total order that is
// reproduced exactly by re-running the trial with the same key.
type Event struct {
	Dir         Direction
	Kind        MessageKind
	Participant int
	// Point is the kind of scheduling point a participant reported
	// it is parked at. It is only meaningful for Step messages sent
	// to the coordinator.
	Point PointKind
}

func (e Event) String() string {
	if e.Dir == ToParticipant {
		return fmt.Sprintf("->%d %v", e.Participant, e.Kind)
	}
	if e.Kind == Step {
		return fmt.Sprintf("<-%d %v(%v)", e.Participant, e.Kind, e.Point)
	}
	return fmt.Sprintf("<-%d %v", e.Participant, e.Kind)
}

// request describes the scheduling point a participant is parked at.
type request struct {
	kind PointKind
	// enabled reports whether the point can be passed without
	// blocking. A nil enabled is always enabled.
	enabled func() bool
}

func (r *request) isEnabled() bool {
	return r.enabled == nil || r.enabled()
}

// message is sent from a participant to the coordinator.
type message struct {
	kind MessageKind
	// req is set for Step.
	req *request
	// failure is set for Exit when the participant panicked.
	failure *PanicError
}
