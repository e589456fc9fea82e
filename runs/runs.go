// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runs enumerates the interleavings of a fixed set of
// participants, each of which makes a known number of scheduling
// decisions.
//
// A run is a sequence of participant indices: the i-th element names
// the participant that is advanced by the i-th scheduling decision.
// For participants with step counts (n0, n1, ...), the runs are the
// distinct permutations of the multiset {0 x n0, 1 x n1, ...}. The
// enumerator produces them lazily, in lexicographic order, starting
// from the sorted run, using the next-permutation step described in
// "The Art of Computer Programming", Vol. 4A, Algorithm L.
package runs

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"v.io/v23/verror"
)

var (
	// ErrInvalidSteps is returned for a negative step count.
	ErrInvalidSteps = verror.NewID("InvalidSteps")
	// ErrInvalidRun is returned when a run cannot be parsed or does
	// not match the step counts it is checked against.
	ErrInvalidRun = verror.NewID("InvalidRun")
)

// Run is one interleaving of the participants.
type Run []int

// String returns the run as a comma separated list of indices.
func (r Run) String() string {
	parts := make([]string, len(r))
	for i, p := range r {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Parse parses a run previously formatted with String. The empty
// string is the empty run.
func Parse(s string) (Run, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return Run{}, nil
	}
	fields := strings.Split(s, ",")
	run := make(Run, len(fields))
	for i, f := range fields {
		p, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || p < 0 {
			return nil, ErrInvalidRun.Errorf(nil, "invalid participant index %q in run %q", f, s)
		}
		run[i] = p
	}
	return run, nil
}

// Steps returns the per-participant step counts of the run for n
// participants.
func (r Run) Steps(n int) ([]int, error) {
	steps := make([]int, n)
	for _, p := range r {
		if p < 0 || p >= n {
			return nil, ErrInvalidRun.Errorf(nil, "run %v names participant %d, only %d declared", r, p, n)
		}
		steps[p]++
	}
	return steps, nil
}

// Enumerator produces every distinct run for a set of step counts
// exactly once. It is not safe for concurrent use and cannot be
// rewound; create a new Enumerator to start over.
type Enumerator struct {
	choices []int
	started bool
	done    bool
}

// New returns an enumerator over the runs of participants with the
// given step counts.
func New(steps []int) (*Enumerator, error) {
	if err := validate(steps); err != nil {
		return nil, err
	}
	total := 0
	for _, n := range steps {
		total += n
	}
	choices := make([]int, 0, total)
	for p, n := range steps {
		for i := 0; i < n; i++ {
			choices = append(choices, p)
		}
	}
	return &Enumerator{choices: choices}, nil
}

// Next returns the next run, or false once every run has been
// produced. The returned run is owned by the caller.
func (e *Enumerator) Next() (Run, bool) {
	if e.done {
		return nil, false
	}
	if !e.started {
		e.started = true
		return e.current(), true
	}
	c := e.choices
	j := len(c) - 2
	for j >= 0 && c[j] >= c[j+1] {
		j--
	}
	if j < 0 {
		e.done = true
		return nil, false
	}
	l := len(c) - 1
	for c[l] <= c[j] {
		l--
	}
	c[j], c[l] = c[l], c[j]
	for a, b := j+1, len(c)-1; a < b; a, b = a+1, b-1 {
		c[a], c[b] = c[b], c[a]
	}
	return e.current(), true
}

func (e *Enumerator) current() Run {
	run := make(Run, len(e.choices))
	copy(run, e.choices)
	return run
}

// All returns every run for the given step counts.
func All(steps []int) ([]Run, error) {
	e, err := New(steps)
	if err != nil {
		return nil, err
	}
	var all []Run
	for run, ok := e.Next(); ok; run, ok = e.Next() {
		all = append(all, run)
	}
	return all, nil
}

// Count returns the number of distinct runs, (sum n_i)! / prod(n_i!),
// for the given step counts.
func Count(steps []int) (*big.Int, error) {
	if err := validate(steps); err != nil {
		return nil, err
	}
	count := big.NewInt(1)
	total := int64(0)
	binomial := new(big.Int)
	for _, n := range steps {
		total += int64(n)
		count.Mul(count, binomial.Binomial(total, int64(n)))
	}
	return count, nil
}

// CountWithin reports whether the number of runs for the given step
// counts is at most limit.
func CountWithin(steps []int, limit uint64) (bool, error) {
	count, err := Count(steps)
	if err != nil {
		return false, err
	}
	return count.IsUint64() && count.Uint64() <= limit, nil
}

// Valid checks that run is a permutation of the multiset described by
// steps.
func Valid(run Run, steps []int) error {
	got, err := run.Steps(len(steps))
	if err != nil {
		return err
	}
	for p := range steps {
		if got[p] != steps[p] {
			return ErrInvalidRun.Errorf(nil, "run %v advances participant %d %d times, expected %d", run, p, got[p], steps[p])
		}
	}
	return nil
}

func validate(steps []int) error {
	for p, n := range steps {
		if n < 0 {
			return ErrInvalidSteps.Errorf(nil, "participant %d has negative step count %d", p, n)
		}
	}
	return nil
}

// Format renders a set of runs, one per line, for diagnostics.
func Format(all []Run) string {
	var b strings.Builder
	for i, run := range all {
		fmt.Fprintf(&b, "%d: %v\n", i, run)
	}
	return b.String()
}
