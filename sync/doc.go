// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sync provides mutexes whose operations are scheduling
// points of an interleave trial. Called with a context bound to a
// participant, an acquisition parks the participant until the
// coordinator selects it, and the coordinator only selects it once
// the lock can be taken. Called with any other context the types
// behave as their counterparts of the standard sync package.
//
// Go mutexes have no notion of poisoning. These do: a lock still
// write-held by a participant that panics is released and marked
// poisoned, and every later acquisition succeeds but returns
// ErrPoisoned. Only a lock still held when the panic reaches the
// participant boundary is poisoned: with the usual
//
//	defer m.Unlock()
//
// the deferred Unlock runs while the panic unwinds, so the lock is
// released normally and Poisoned stays false.
//
// The lock state of a mutex is shared by the participants of one
// trial only; a mutex must not be used by two trials at once.
package sync

import "v.io/v23/verror"

// ErrPoisoned is returned by an acquisition of a lock that was held
// by a participant that panicked.
var ErrPoisoned = verror.NewID("Poisoned")
