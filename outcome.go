// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"v.io/x/interleave/runs"
)

// Status is the result of a single trial.
type Status int

const (
	// Passed means every participant exited and every invariant held.
	Passed Status = iota
	// FailedInvariant means an invariant returned false.
	FailedInvariant
	// Panicked means a participant panicked.
	Panicked
	// TimedOut means the trial did not finish before its deadline.
	// Participants still running were abandoned.
	TimedOut
	// Deadlocked means participants were parked but none of them
	// could be advanced.
	Deadlocked
	// Infeasible means a replayed run prescribed a participant that
	// could not be advanced at that point. Such a run does not
	// correspond to an execution of the test and is not a failure.
	Infeasible
)

var statusNames = []string{"Passed", "FailedInvariant", "Panicked", "TimedOut", "Deadlocked", "Infeasible"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type keyKind int

const (
	keyNone keyKind = iota
	keySeed
	keyRun
	keyRoundRobin
)

// Key identifies a trial so that it can be re-executed in isolation.
// Its string form is "seed=<n>", "run=<i,j,...>" or "roundrobin".
type Key struct {
	kind keyKind
	seed uint64
	run  runs.Run
}

// SeedKey returns the key of the trial chosen by seed.
func SeedKey(seed uint64) Key {
	return Key{kind: keySeed, seed: seed}
}

// RunKey returns the key of the trial that replays run.
func RunKey(run runs.Run) Key {
	return Key{kind: keyRun, run: run}
}

// RoundRobinKey returns the key of the round-robin trial.
func RoundRobinKey() Key {
	return Key{kind: keyRoundRobin}
}

// Seed returns the seed of a seed key.
func (k Key) Seed() (uint64, bool) {
	return k.seed, k.kind == keySeed
}

// Run returns the run of a run key.
func (k Key) Run() (runs.Run, bool) {
	return k.run, k.kind == keyRun
}

// Policy returns a fresh policy that reproduces the trial.
func (k Key) Policy() (Policy, error) {
	switch k.kind {
	case keySeed:
		return SeededPolicy(k.seed), nil
	case keyRun:
		return ReplayPolicy(k.run), nil
	case keyRoundRobin:
		return RoundRobinPolicy(), nil
	}
	return nil, ErrBadKey.Errorf(nil, "empty key")
}

func (k Key) String() string {
	switch k.kind {
	case keySeed:
		return "seed=" + strconv.FormatUint(k.seed, 10)
	case keyRun:
		return "run=" + k.run.String()
	case keyRoundRobin:
		return "roundrobin"
	}
	return "none"
}

// ParseKey parses the string form of a key.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "roundrobin":
		return RoundRobinKey(), nil
	case strings.HasPrefix(s, "seed="):
		seed, err := strconv.ParseUint(strings.TrimPrefix(s, "seed="), 0, 64)
		if err != nil {
			return Key{}, ErrBadKey.Errorf(nil, "invalid seed in key %q: %v", s, err)
		}
		return SeedKey(seed), nil
	case strings.HasPrefix(s, "run="):
		run, err := runs.Parse(strings.TrimPrefix(s, "run="))
		if err != nil {
			return Key{}, ErrBadKey.Errorf(nil, "invalid run in key %q: %v", s, err)
		}
		return RunKey(run), nil
	}
	return Key{}, ErrBadKey.Errorf(nil, "unrecognised key %q", s)
}

// Outcome is the result of one trial.
type Outcome struct {
	// ID identifies the trial in log messages.
	ID     uuid.UUID
	Status Status
	Key    Key
	// Invariant names the invariant that failed.
	Invariant string
	// Panic is the panic of the participant that failed.
	Panic *PanicError
	// Detail describes deadlocks, infeasible runs and timeouts.
	Detail string
	// Decisions is the number of scheduling decisions made.
	Decisions int
	// Trace is the sequence of protocol messages of the trial.
	Trace []Event
	// Path lists the labels of the actions applied by a Model.
	Path []string
	// State is a dump of the shared state of a failing trial.
	State string
}

// OK reports whether the trial found no problem.
func (o *Outcome) OK() bool {
	return o.Status == Passed || o.Status == Infeasible
}

func (o *Outcome) String() string {
	switch o.Status {
	case FailedInvariant:
		return fmt.Sprintf("%v: invariant %q violated after %d decisions", o.Key, o.Invariant, o.Decisions)
	case Panicked:
		return fmt.Sprintf("%v: %v", o.Key, o.Panic)
	case TimedOut, Deadlocked, Infeasible:
		return fmt.Sprintf("%v: %v: %s", o.Key, o.Status, o.Detail)
	}
	return fmt.Sprintf("%v: %v", o.Key, o.Status)
}

// Coverage describes how much of the interleaving space a report
// covers.
type Coverage int

const (
	// Exhaustive means the trials were enumerated runs.
	Exhaustive Coverage = iota
	// Sampled means the trials were chosen by seed.
	Sampled
)

func (c Coverage) String() string {
	if c == Exhaustive {
		return "exhaustive"
	}
	return "sampled"
}

// Report aggregates the outcomes of a batch of trials.
type Report struct {
	Coverage Coverage
	// Complete is set when an exhaustive batch visited every run.
	Complete bool
	// Trials is the number of trials executed.
	Trials int
	// Counts is the number of trials per status.
	Counts map[Status]int
	// Failures lists the outcomes that are not OK, in the order their
	// keys were generated.
	Failures []Outcome

	seqs []int
}

func newReport(coverage Coverage) *Report {
	return &Report{Coverage: coverage, Counts: make(map[Status]int)}
}

func (r *Report) add(seq int, o Outcome) {
	r.Trials++
	r.Counts[o.Status]++
	if o.OK() {
		return
	}
	i := sort.SearchInts(r.seqs, seq)
	r.seqs = append(r.seqs, 0)
	copy(r.seqs[i+1:], r.seqs[i:])
	r.seqs[i] = seq
	r.Failures = append(r.Failures, Outcome{})
	copy(r.Failures[i+1:], r.Failures[i:])
	r.Failures[i] = o
}

// Failed reports whether any trial failed.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// Err returns an ErrTrialFailed error describing the first failure,
// or nil.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	first := r.Failures[0]
	if first.Panic != nil {
		return ErrTrialFailed.Errorf(nil, "%d of %d trials failed, first: %v: %v", len(r.Failures), r.Trials, first.Key, first.Panic)
	}
	return ErrTrialFailed.Errorf(nil, "%d of %d trials failed, first: %v", len(r.Failures), r.Trials, &first)
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d trials (%v", r.Trials, r.Coverage)
	if r.Coverage == Exhaustive && !r.Complete {
		b.WriteString(", incomplete")
	}
	b.WriteString(")")
	for s := Passed; s <= Infeasible; s++ {
		if n := r.Counts[s]; n > 0 {
			fmt.Fprintf(&b, " %v=%d", s, n)
		}
	}
	return b.String()
}
