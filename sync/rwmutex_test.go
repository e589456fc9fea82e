// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync_test

import (
	"context"
	gosync "sync"
	"testing"

	"v.io/x/interleave"
	"v.io/x/interleave/runs"
	"v.io/x/interleave/sync"
)

type table struct {
	rw         sync.RWMutex
	readers    int
	maxReaders int
	writing    bool
}

func reader(ctx context.Context, s *table) {
	if err := s.rw.RLock(ctx); err != nil {
		panic(err)
	}
	s.readers++
	if s.readers > s.maxReaders {
		s.maxReaders = s.readers
	}
	interleave.Yield(ctx)
	s.readers--
	s.rw.RUnlock()
}

func writer(ctx context.Context, s *table) {
	if err := s.rw.Lock(ctx); err != nil {
		panic(err)
	}
	s.writing = true
	interleave.Yield(ctx)
	s.writing = false
	s.rw.Unlock()
}

func TestRWMutex(t *testing.T) {
	var (
		mu     gosync.Mutex
		states []*table
	)
	h, err := interleave.New(interleave.Test[*table]{
		Name: "rwmutex",
		Init: func() *table {
			s := &table{}
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
			return s
		},
		Participants: []interleave.Participant[*table]{
			{Name: "r1", Steps: 3, Fn: reader},
			{Name: "r2", Steps: 3, Fn: reader},
			{Name: "w", Steps: 2, Fn: writer},
		},
		Invariants: []interleave.Invariant[*table]{
			{Name: "readers exclude the writer", Check: func(s *table) bool { return !s.writing || s.readers == 0 }},
		},
	}, interleave.WithStopOnFailure(false))
	if err != nil {
		t.Fatal(err)
	}
	report, err := h.Exhaustive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := report.Trials, 560; got != want {
		t.Errorf("expected %v trials, got %v", want, got)
	}
	if report.Failed() {
		t.Fatalf("unexpected failure: %v", report.Failures[0].String())
	}
	if report.Counts[interleave.Passed] == 0 {
		t.Fatalf("expected some runs to pass, got %v", report)
	}
	shared := false
	for _, s := range states {
		shared = shared || s.maxReaders == 2
	}
	if !shared {
		t.Errorf("expected a run with both readers inside")
	}
}

func TestRLockTakesTwoSteps(t *testing.T) {
	h, err := interleave.New(interleave.Test[*table]{
		Name: "rlock steps",
		Init: func() *table { return &table{} },
		Participants: []interleave.Participant[*table]{
			{Name: "r", Steps: 2, Fn: func(ctx context.Context, s *table) {
				l := s.rw.RLocker(ctx)
				l.Lock()
				l.Unlock()
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := h.Replay(context.Background(), interleave.RunKey(runs.Run{0, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.Status, interleave.Passed; got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
	var points []interleave.PointKind
	for _, ev := range out.Trace {
		if ev.Dir == interleave.ToCoordinator && ev.Kind == interleave.Step {
			points = append(points, ev.Point)
		}
	}
	if len(points) != 2 || points[0] != interleave.PointRLock || points[1] != interleave.PointRLockAcquired {
		t.Errorf("expected an RLock and an RLockAcquired point, got %v", points)
	}
}

func TestReadHoldIsNotPoisoned(t *testing.T) {
	var state *table
	h, err := interleave.New(interleave.Test[*table]{
		Name: "read panic",
		Init: func() *table {
			state = &table{}
			return state
		},
		Participants: []interleave.Participant[*table]{
			{Name: "r", Steps: 2, Fn: func(ctx context.Context, s *table) {
				if err := s.rw.RLock(ctx); err != nil {
					panic(err)
				}
				panic("holding a read lock")
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := h.Run(context.Background(), interleave.RoundRobinPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.Status, interleave.Panicked; got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if state.rw.Poisoned() {
		t.Errorf("a read hold must not poison the mutex")
	}
	// The read lock was released: a writer gets in.
	if ok, err := state.rw.TryLock(context.Background()); !ok || err != nil {
		t.Errorf("expected the write lock to be free, got %v, %v", ok, err)
	}
}
