// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interleave implements deterministic testing of concurrent
// Go code. The goroutines of a test, its participants, are
// serialized by a coordinator: every participant parks at each of its
// scheduling points and only one of them is allowed to run between
// two points. Which one runs is decided by a policy, so the
// interleaving of a trial is a function of its policy alone.
//
// Participants communicate with the coordinator over a pair of
// unbuffered channels, the handle pair. A participant announces
// itself with a Rendezvous, reports each scheduling point with a Step
// and waits for the matching Step grant, and finishes with an Exit.
// Scheduling points are explicit calls to Yield, or the lock points
// of the primitives in the sync subpackage. Unlocking is not a
// scheduling point.
//
// A test is declared with Test: a shared state initializer, the
// participants with the number of scheduling points each one passes,
// and the invariants over the shared state that must hold after
// every step:
//
//	h, err := interleave.New(interleave.Test[*counter]{
//		Name: "counter",
//		Init: func() *counter { return &counter{} },
//		Participants: []interleave.Participant[*counter]{
//			{Name: "inc", Steps: 1, Fn: inc},
//			{Name: "inc", Steps: 1, Fn: inc},
//		},
//	})
//	report, err := h.Explore(ctx)
//
// Exhaustive runs one trial for every run over the declared step
// counts (see the runs subpackage); Seeded and SeededN run one trial
// per seed; Explore picks between the two. Every outcome carries a Key
// that reproduces it with Replay, or by setting INTERLEAVE_REPLAY to
// its string form before calling Explore.
//
// A panic in a participant is recovered, carried to the coordinator
// in the Exit message and reported as a Panicked outcome holding the
// original value. A handle used from a goroutine other than the one
// it was bound to panics with ErrForeignGoroutine in that goroutine;
// the harness does not own it, so unless the caller recovers the
// panic it terminates the test binary. An out of order message seen
// by a participant panics with ErrProtocol inside the participant and
// is reported as a Panicked outcome; one seen by the coordinator ends
// the trial and the batch with an ErrProtocol error.
//
// Model provides the same exploration for systems of pure step
// functions, without goroutines.
package interleave
