// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"golang.org/x/exp/rand"

	"v.io/x/interleave/runs"
)

// Decision describes one scheduling decision of a trial.
type Decision struct {
	// Index is the number of decisions made before this one.
	Index int
	// Runnable lists the participants that may be advanced, in
	// declaration order. It is never empty.
	Runnable []int
}

// Policy selects which participant is advanced at each decision. A
// policy is used by a single trial; for a fixed input it must make
// the same choices every time.
type Policy interface {
	// Choose returns the index of the participant to advance.
	Choose(d Decision) (int, error)
	// Finish is called once every participant exited.
	Finish() error
	// Key returns the reproduction key of the policy.
	Key() Key
}

// replayPolicy follows a precomputed run.
type replayPolicy struct {
	run runs.Run
	pos int
}

// ReplayPolicy returns a policy that makes the decisions of run, in
// order. Running out of decisions, or finishing with decisions left,
// is reported as ErrStepCountMismatch.
func ReplayPolicy(run runs.Run) Policy {
	return &replayPolicy{run: run}
}

func (p *replayPolicy) Choose(d Decision) (int, error) {
	if p.pos >= len(p.run) {
		return 0, ErrStepCountMismatch.Errorf(nil, "run %v has no decision %d, participants %v are still runnable", p.run, d.Index, d.Runnable)
	}
	next := p.run[p.pos]
	p.pos++
	return next, nil
}

func (p *replayPolicy) Finish() error {
	if p.pos < len(p.run) {
		return ErrStepCountMismatch.Errorf(nil, "all participants exited after %d of the %d decisions of run %v", p.pos, len(p.run), p.run)
	}
	return nil
}

func (p *replayPolicy) Key() Key {
	return RunKey(p.run)
}

// seededPolicy draws uniformly among the runnable participants.
type seededPolicy struct {
	seed uint64
	rng  *rand.Rand
}

// SeededPolicy returns a policy that picks uniformly at random among
// the runnable participants, using a generator seeded with seed.
func SeededPolicy(seed uint64) Policy {
	return &seededPolicy{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

func (p *seededPolicy) Choose(d Decision) (int, error) {
	return d.Runnable[p.rng.Intn(len(d.Runnable))], nil
}

func (p *seededPolicy) Finish() error {
	return nil
}

func (p *seededPolicy) Key() Key {
	return SeedKey(p.seed)
}

// roundRobinPolicy advances the runnable participant that follows the
// previously advanced one.
type roundRobinPolicy struct {
	last int
}

// RoundRobinPolicy returns a deterministic policy that cycles through
// the runnable participants in declaration order.
func RoundRobinPolicy() Policy {
	return &roundRobinPolicy{last: -1}
}

func (p *roundRobinPolicy) Choose(d Decision) (int, error) {
	next := d.Runnable[0]
	for _, i := range d.Runnable {
		if i > p.last {
			next = i
			break
		}
	}
	p.last = next
	return next, nil
}

func (p *roundRobinPolicy) Finish() error {
	return nil
}

func (p *roundRobinPolicy) Key() Key {
	return RoundRobinKey()
}
