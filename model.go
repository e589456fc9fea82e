// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"runtime/debug"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"v.io/x/interleave/runs"
)

// Action is one atomic step of a process of a Model.
type Action[S any] struct {
	Label string
	Apply func(state S) S
}

// Model is a system of sequential processes whose steps are pure
// functions over a state. Unlike a Test it involves no goroutines:
// every interleaving is computed by applying the actions of the
// processes in the order a run prescribes.
type Model[S any] struct {
	Name       string
	Init       func() S
	Processes  [][]Action[S]
	Invariants []Invariant[S]
}

func (m *Model[S]) validate() error {
	if m.Init == nil {
		return ErrInvalidTest.Errorf(nil, "model %q has no initializer", m.Name)
	}
	for i, p := range m.Processes {
		for j, a := range p {
			if a.Apply == nil {
				return ErrInvalidTest.Errorf(nil, "model %q: action %d (%s) of process %d has no function", m.Name, j, a.Label, i)
			}
		}
	}
	for i, inv := range m.Invariants {
		if inv.Check == nil {
			return ErrInvalidTest.Errorf(nil, "model %q: invariant %d (%s) has no predicate", m.Name, i, inv.Name)
		}
	}
	return nil
}

func (m *Model[S]) steps() []int {
	steps := make([]int, len(m.Processes))
	for i, p := range m.Processes {
		steps[i] = len(p)
	}
	return steps
}

// Check applies every run of the model to a fresh state and reports
// the runs that break an invariant or panic.
func (m *Model[S]) Check(opts ...Option) (*Report, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	e, err := runs.New(m.steps())
	if err != nil {
		return nil, ErrInvalidTest.Errorf(nil, "model %q: %v", m.Name, err)
	}
	report := newReport(Exhaustive)
	for seq := 0; ; seq++ {
		if o.maxTrials > 0 && seq >= o.maxTrials {
			break
		}
		run, ok := e.Next()
		if !ok {
			report.Complete = true
			break
		}
		out := m.replay(run, &o)
		report.add(seq, out)
		if !out.OK() {
			o.logger.Infof("%v: model %q failed: %v", out.ID, m.Name, &out)
			if o.stopOnFailure {
				break
			}
		}
	}
	o.logger.VI(1).Infof("model %q: %v", m.Name, report)
	return report, nil
}

// Replay applies a single run of the model.
func (m *Model[S]) Replay(run runs.Run, opts ...Option) (Outcome, error) {
	if err := m.validate(); err != nil {
		return Outcome{}, err
	}
	if err := runs.Valid(run, m.steps()); err != nil {
		return Outcome{}, ErrStepCountMismatch.Errorf(nil, "run %v does not match model %q: %v", run, m.Name, err)
	}
	o := newOptions(opts)
	return m.replay(run, &o), nil
}

func (m *Model[S]) replay(run runs.Run, o *options) Outcome {
	out := Outcome{ID: uuid.New(), Key: RunKey(run)}
	state := m.Init()
	fail := func(status Status) Outcome {
		out.Status = status
		if o.stateDump {
			out.State = spew.Sdump(state)
		}
		return out
	}
	if inv, failure := m.check(state); failure != nil {
		out.Panic = failure
		return fail(Panicked)
	} else if inv != "" {
		out.Invariant = inv
		return fail(FailedInvariant)
	}
	next := make([]int, len(m.Processes))
	for _, p := range run {
		a := m.Processes[p][next[p]]
		next[p]++
		out.Path = append(out.Path, a.Label)
		out.Decisions++
		var failure *PanicError
		state, failure = apply(p, a, state)
		if failure != nil {
			out.Panic = failure
			return fail(Panicked)
		}
		if inv, failure := m.check(state); failure != nil {
			out.Panic = failure
			return fail(Panicked)
		} else if inv != "" {
			out.Invariant = inv
			return fail(FailedInvariant)
		}
	}
	out.Status = Passed
	return out
}

// check returns the name of the first invariant that does not hold.
func (m *Model[S]) check(state S) (string, *PanicError) {
	for _, inv := range m.Invariants {
		ok, failure := evaluate(inv, state)
		if failure != nil {
			return "", failure
		}
		if !ok {
			return inv.Name, nil
		}
	}
	return "", nil
}

func apply[S any](process int, a Action[S], state S) (next S, failure *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			next = state
			failure = &PanicError{Participant: process, Name: a.Label, Value: r, Stack: debug.Stack()}
		}
	}()
	return a.Apply(state), nil
}
