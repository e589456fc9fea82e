// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync_test

import (
	"context"
	"errors"
	gosync "sync"
	"testing"

	"v.io/x/interleave"
	"v.io/x/interleave/runs"
	"v.io/x/interleave/sync"
)

type counter struct {
	m, n   sync.Mutex
	inside int
	tries  []bool
}

func newCounter() *counter {
	return &counter{}
}

func mustLock(ctx context.Context, m *sync.Mutex) {
	if err := m.Lock(ctx); err != nil {
		panic(err)
	}
}

func critical(ctx context.Context, s *counter) {
	mustLock(ctx, &s.m)
	s.inside++
	interleave.Yield(ctx)
	s.inside--
	s.m.Unlock()
}

var atMostOne = interleave.Invariant[*counter]{
	Name:  "at most one participant inside",
	Check: func(s *counter) bool { return s.inside <= 1 },
}

func TestMutexExclusion(t *testing.T) {
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "exclusion",
		Init: newCounter,
		Participants: []interleave.Participant[*counter]{
			{Name: "p", Steps: 2, Fn: critical},
			{Name: "q", Steps: 2, Fn: critical},
		},
		Invariants: []interleave.Invariant[*counter]{atMostOne},
	}, interleave.WithStopOnFailure(false))
	if err != nil {
		t.Fatal(err)
	}
	report, err := h.Exhaustive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() {
		t.Fatalf("unexpected failure: %v", report.Failures[0].String())
	}
	if got, want := report.Counts[interleave.Passed], 2; got != want {
		t.Errorf("expected %v passing runs, got %v", want, got)
	}
	if got, want := report.Counts[interleave.Infeasible], 4; got != want {
		t.Errorf("expected %v infeasible runs, got %v", want, got)
	}
}

func TestUnguardedRace(t *testing.T) {
	unguarded := func(ctx context.Context, s *counter) {
		interleave.Yield(ctx)
		s.inside++
		interleave.Yield(ctx)
		s.inside--
	}
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "unguarded",
		Init: newCounter,
		Participants: []interleave.Participant[*counter]{
			{Name: "p", Steps: 2, Fn: unguarded},
			{Name: "q", Steps: 2, Fn: unguarded},
		},
		Invariants: []interleave.Invariant[*counter]{atMostOne},
	})
	if err != nil {
		t.Fatal(err)
	}
	report, err := h.Exhaustive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := report.Failures[0].Key.String(), "run=0,1,0,1"; got != want {
		t.Errorf("expected first failure %v, got %v", want, got)
	}
}

func TestMutexDeadlock(t *testing.T) {
	ordered := func(first, second func(*counter) *sync.Mutex) func(context.Context, *counter) {
		return func(ctx context.Context, s *counter) {
			mustLock(ctx, first(s))
			interleave.Yield(ctx)
			mustLock(ctx, second(s))
			second(s).Unlock()
			first(s).Unlock()
		}
	}
	m := func(s *counter) *sync.Mutex { return &s.m }
	n := func(s *counter) *sync.Mutex { return &s.n }
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "inversion",
		Init: newCounter,
		Participants: []interleave.Participant[*counter]{
			{Name: "mn", Steps: 3, Fn: ordered(m, n)},
			{Name: "nm", Steps: 3, Fn: ordered(n, m)},
		},
	}, interleave.WithStopOnFailure(false))
	if err != nil {
		t.Fatal(err)
	}
	report, err := h.Exhaustive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts[interleave.Deadlocked] == 0 {
		t.Errorf("expected the lock inversion to deadlock, got %v", report)
	}
	if report.Counts[interleave.Passed] == 0 {
		t.Errorf("expected some runs to pass, got %v", report)
	}
	for _, o := range report.Failures {
		if o.Status != interleave.Deadlocked {
			t.Errorf("unexpected failure: %v", &o)
		}
	}
}

func TestTryLock(t *testing.T) {
	var (
		mu     gosync.Mutex
		states []*counter
	)
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "trylock",
		Init: func() *counter {
			s := newCounter()
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
			return s
		},
		Participants: []interleave.Participant[*counter]{
			{Name: "holder", Steps: 2, Fn: func(ctx context.Context, s *counter) {
				mustLock(ctx, &s.m)
				interleave.Yield(ctx)
				s.m.Unlock()
			}},
			{Name: "trier", Steps: 1, Fn: func(ctx context.Context, s *counter) {
				ok, err := s.m.TryLock(ctx)
				if err != nil {
					panic(err)
				}
				s.tries = append(s.tries, ok)
				if ok {
					s.m.Unlock()
				}
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		run  runs.Run
		want bool
	}{
		{runs.Run{0, 0, 1}, true},
		{runs.Run{0, 1, 0}, false},
		{runs.Run{1, 0, 0}, true},
	} {
		states = nil
		out, err := h.Replay(context.Background(), interleave.RunKey(tc.run))
		if err != nil {
			t.Fatal(err)
		}
		if !out.OK() {
			t.Errorf("%v: unexpected outcome %v", tc.run, &out)
			continue
		}
		if got := states[0].tries; len(got) != 1 || got[0] != tc.want {
			t.Errorf("%v: expected TryLock to return %v, got %v", tc.run, tc.want, got)
		}
	}
}

func TestPoison(t *testing.T) {
	var state *counter
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "poison",
		Init: func() *counter {
			state = newCounter()
			return state
		},
		Participants: []interleave.Participant[*counter]{
			{Name: "panicker", Steps: 1, Fn: func(ctx context.Context, s *counter) {
				mustLock(ctx, &s.m)
				panic("holding the lock")
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
	if !state.m.Poisoned() {
		t.Fatalf("expected the mutex to be poisoned")
	}
	if err := state.m.Lock(context.Background()); !errors.Is(err, sync.ErrPoisoned) {
		t.Errorf("expected ErrPoisoned, got %v", err)
	}
	state.m.Unlock()
}

func TestDeferredUnlockDoesNotPoison(t *testing.T) {
	var state *counter
	h, err := interleave.New(interleave.Test[*counter]{
		Name: "deferred unlock",
		Init: func() *counter {
			state = newCounter()
			return state
		},
		Participants: []interleave.Participant[*counter]{
			{Name: "panicker", Steps: 1, Fn: func(ctx context.Context, s *counter) {
				mustLock(ctx, &s.m)
				defer s.m.Unlock()
				panic("unlocked on the way out")
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
	if state.m.Poisoned() {
		t.Errorf("a mutex released by a deferred Unlock must not be poisoned")
	}
	if err := state.m.Lock(context.Background()); err != nil {
		t.Errorf("expected a clean acquisition, got %v", err)
	}
	state.m.Unlock()
}

func TestOutsideTrial(t *testing.T) {
	ctx := context.Background()
	var m sync.Mutex
	if err := m.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.TryLock(ctx); ok {
		t.Errorf("TryLock succeeded on a held mutex")
	}
	m.Unlock()
	if ok, err := m.TryLock(ctx); !ok || err != nil {
		t.Errorf("expected TryLock to succeed, got %v, %v", ok, err)
	}
	m.Unlock()

	var rw sync.RWMutex
	if err := rw.RLock(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rw.RLock(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := rw.TryLock(ctx); ok {
		t.Errorf("TryLock succeeded on a read-held mutex")
	}
	rw.RUnlock()
	rw.RUnlock()
	l := rw.RLocker(ctx)
	l.Lock()
	l.Unlock()
	if err := rw.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	rw.Unlock()
}
