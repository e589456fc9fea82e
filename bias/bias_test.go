// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bias_test

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"

	"v.io/x/interleave/bias"
)

func TestRun(t *testing.T) {
	var n int64
	fns := make([]func(), 4)
	for i := range fns {
		fns[i] = func() { atomic.AddInt64(&n, 1) }
	}
	if err := bias.Run(1, fns...); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := atomic.LoadInt64(&n), int64(len(fns)); got != want {
		t.Errorf("expected %v calls, got %v", want, got)
	}
}

func TestPanic(t *testing.T) {
	s, err := bias.New(7)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Go(func() { panic("boom") }).Wait()
	if !errors.Is(err, bias.ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}
	var perr *bias.PanicError
	if !errors.As(err, &perr) || perr.Value != "boom" || len(perr.Stack) == 0 {
		t.Errorf("expected the panic value and stack, got %#v", err)
	}
}

func TestPriorities(t *testing.T) {
	draw := func() []int {
		s, err := bias.New(42)
		if err != nil {
			t.Fatal(err)
		}
		var prios []int
		for i := 0; i < 8; i++ {
			th := s.Go(func() {})
			if err := th.Wait(); err != nil {
				t.Fatal(err)
			}
			prios = append(prios, th.Priority())
		}
		return prios
	}
	first, second := draw(), draw()
	seen := map[int]bool{}
	for _, p := range first {
		if seen[p] {
			t.Fatalf("priority %v drawn twice: %v", p, first)
		}
		seen[p] = true
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("priorities depend on more than the seed: %v vs %v", first, second)
		}
		if first[i] < 1 || first[i] > 98 {
			t.Errorf("priority %v out of range", first[i])
		}
	}
}

func TestPrioritiesRunOut(t *testing.T) {
	s, err := bias.New(5)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for i := 0; i < 98; i++ {
		th := s.Go(func() {})
		if err := th.Wait(); err != nil {
			t.Fatalf("thread %d: %v", i, err)
		}
		if seen[th.Priority()] {
			t.Fatalf("thread %d: priority %v drawn twice", i, th.Priority())
		}
		seen[th.Priority()] = true
	}
	ran := false
	if err := s.Go(func() { ran = true }).Wait(); !errors.Is(err, bias.ErrNoPriority) {
		t.Errorf("expected ErrNoPriority, got %v", err)
	}
	if ran {
		t.Errorf("a thread without a priority must not run")
	}
	if err := s.Prioritize(); !errors.Is(err, bias.ErrNoPriority) {
		t.Errorf("expected ErrNoPriority, got %v", err)
	}
}

func TestStrict(t *testing.T) {
	s, err := bias.New(3, bias.WithStrict(true))
	if runtime.GOOS != "linux" {
		if !errors.Is(err, bias.ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	err = s.Go(func() {}).Wait()
	if errors.Is(err, bias.ErrPermission) || errors.Is(err, bias.ErrUnsupported) {
		t.Skipf("cannot bias threads here: %v", err)
	}
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInvalidCPU(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cpu affinity is linux only")
	}
	if _, err := bias.New(0, bias.WithCPU(1<<20)); !errors.Is(err, bias.ErrInvalidCPU) {
		t.Errorf("expected ErrInvalidCPU, got %v", err)
	}
}
