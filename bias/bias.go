// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bias perturbs the interleaving of real OS threads instead of
// serializing them. Every thread it starts is locked to its own OS
// thread, pinned to a single CPU and given a distinct real-time
// SCHED_FIFO priority drawn from a seeded generator, so that the kernel, not a
// coordinator, picks a seed dependent interleaving. Unlike the
// interleave package it gives no guarantee that a seed reproduces an
// interleaving.
//
// Real-time priorities require CAP_SYS_NICE. Without it the priority
// step fails with ErrPermission; unless the Spawner is strict the
// failure is logged once and the threads run pinned but unprioritized.
package bias

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/exp/rand"

	"v.io/v23/verror"
	"v.io/x/lib/vlog"
)

var (
	// ErrPanicked is matched by the error of a thread that panicked.
	ErrPanicked = verror.NewID("Panicked")
	// ErrPermission is returned when the process may not change the
	// scheduling policy of its threads.
	ErrPermission = verror.NewID("Permission")
	// ErrUnsupported is returned on platforms without real-time
	// scheduling or CPU affinity.
	ErrUnsupported = verror.NewID("Unsupported")
	// ErrInvalidCPU is returned for a CPU index the machine does not
	// have.
	ErrInvalidCPU = verror.NewID("InvalidCPU")
	// ErrNoPriority is returned once every priority of the range has
	// been handed out.
	ErrNoPriority = verror.NewID("NoPriority")
)

// PanicError is the error of a thread whose function panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("thread panicked: %v", e.Value)
}

// Unwrap makes PanicError match ErrPanicked.
func (e *PanicError) Unwrap() error {
	return ErrPanicked
}

type options struct {
	cpu    int
	strict bool
	logger *vlog.Logger
}

// Option configures a Spawner.
type Option func(*options)

// WithCPU sets the CPU every thread is pinned to. It defaults to 0.
func WithCPU(n int) Option {
	return func(o *options) { o.cpu = n }
}

// WithStrict makes a failure to bias a thread an error instead of a
// logged warning.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *vlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Spawner starts biased threads. Priorities are distinct and drawn
// in the order threads are started.
type Spawner struct {
	opts options
	mu   sync.Mutex
	// prios is a seeded permutation of the priority range, consumed
	// in order.
	prios []int
	warn  sync.Once
}

// New returns a Spawner whose priorities are drawn from a generator
// seeded with seed.
func New(seed uint64, opts ...Option) (*Spawner, error) {
	o := options{logger: vlog.Log}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Spawner{opts: o, prios: rand.New(rand.NewSource(seed)).Perm(maxPriority - minPriority)}
	if !supported {
		if o.strict {
			return nil, ErrUnsupported.Errorf(nil, "thread priorities are not supported on %s", runtime.GOOS)
		}
		return s, nil
	}
	n, err := cpu.Counts(true)
	if err != nil {
		return nil, ErrUnsupported.Errorf(nil, "failed to count CPUs: %v", err)
	}
	if o.cpu < 0 || o.cpu >= n {
		return nil, ErrInvalidCPU.Errorf(nil, "cpu %d out of range, %d logical CPUs", o.cpu, n)
	}
	return s, nil
}

func (s *Spawner) priority() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prios) == 0 {
		return 0, ErrNoPriority.Errorf(nil, "all %d priorities are in use", maxPriority-minPriority)
	}
	prio := minPriority + s.prios[0]
	s.prios = s.prios[1:]
	return prio, nil
}

// Prioritize biases the calling goroutine. The goroutine is locked to
// its OS thread and stays locked.
func (s *Spawner) Prioritize() error {
	prio, err := s.priority()
	if err != nil {
		return err
	}
	runtime.LockOSThread()
	return s.bias(prio)
}

func (s *Spawner) bias(prio int) error {
	if err := setAffinity(s.opts.cpu); err != nil {
		return s.degrade(err)
	}
	if err := setPriority(prio); err != nil {
		return s.degrade(err)
	}
	runtime.Gosched()
	return nil
}

func (s *Spawner) degrade(err error) error {
	if s.opts.strict {
		return err
	}
	s.warn.Do(func() {
		s.opts.logger.Infof("running threads without scheduling bias: %v", err)
	})
	return nil
}

// Thread is a goroutine started by a Spawner.
type Thread struct {
	priority int
	done     chan struct{}
	err      error
}

// Go starts fn on a new biased thread. The OS thread is never
// unlocked, so it exits with the goroutine and its scheduling
// attributes are not inherited by other goroutines. Once the priority
// range is used up, fn is not run and Wait returns ErrNoPriority.
func (s *Spawner) Go(fn func()) *Thread {
	t := &Thread{done: make(chan struct{})}
	prio, err := s.priority()
	if err != nil {
		t.err = err
		close(t.done)
		return t
	}
	t.priority = prio
	go func() {
		defer close(t.done)
		runtime.LockOSThread()
		if err := s.bias(t.priority); err != nil {
			t.err = err
			return
		}
		defer func() {
			if r := recover(); r != nil {
				t.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		fn()
	}()
	return t
}

// Priority returns the SCHED_FIFO priority drawn for t.
func (t *Thread) Priority() int {
	return t.priority
}

// Wait waits for t to finish. It returns a *PanicError if the
// function of t panicked, or the error that prevented biasing t in
// strict mode.
func (t *Thread) Wait() error {
	<-t.done
	return t.err
}

// Run starts every function on a biased thread, waits for all of them
// and returns the first error in argument order.
func Run(seed uint64, fns ...func()) error {
	s, err := New(seed)
	if err != nil {
		return err
	}
	threads := make([]*Thread, len(fns))
	for i, fn := range fns {
		threads[i] = s.Go(fn)
	}
	var first error
	for _, t := range threads {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
