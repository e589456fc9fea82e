// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"context"
	"sync"

	"github.com/petermattis/goid"

	"v.io/x/interleave"
)

// RWMutex is a wrapper around the Go implementation of RWMutex. Lock
// is one scheduling point. RLock is two: one before the read lock is
// taken, only advanced while no participant holds the write lock, and
// one after it was taken.
type RWMutex struct {
	m sync.RWMutex
	// writer is the participant holding the write lock.
	writer *interleave.ParticipantHandle
	// readers are the participants holding a read lock.
	readers  []*interleave.ParticipantHandle
	poisoned bool
}

// Lock acquires the write lock of rw.
func (rw *RWMutex) Lock(ctx context.Context) error {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		rw.m.Lock()
		return rw.err()
	}
	h.Step(interleave.PointLock, rw.free)
	rw.lock(h)
	return rw.err()
}

// TryLock acquires the write lock of rw if it is free.
func (rw *RWMutex) TryLock(ctx context.Context) (bool, error) {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		if !rw.m.TryLock() {
			return false, nil
		}
		return true, rw.err()
	}
	h.Step(interleave.PointTryLock, nil)
	if !rw.free() {
		return false, nil
	}
	rw.lock(h)
	return true, rw.err()
}

// Unlock releases the write lock of rw.
func (rw *RWMutex) Unlock() {
	if h := rw.writer; h != nil {
		rw.writer = nil
		h.Released(rw)
	}
	rw.m.Unlock()
}

// RLock acquires a read lock of rw.
func (rw *RWMutex) RLock(ctx context.Context) error {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		rw.m.RLock()
		return rw.err()
	}
	h.Step(interleave.PointRLock, rw.readable)
	rw.rlock(h)
	h.Step(interleave.PointRLockAcquired, nil)
	return rw.err()
}

// TryRLock acquires a read lock of rw if no write lock is held. A
// failed attempt is one scheduling point, a successful one two.
func (rw *RWMutex) TryRLock(ctx context.Context) (bool, error) {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		if !rw.m.TryRLock() {
			return false, nil
		}
		return true, rw.err()
	}
	h.Step(interleave.PointTryLock, nil)
	if !rw.readable() {
		return false, nil
	}
	rw.rlock(h)
	h.Step(interleave.PointRLockAcquired, nil)
	return true, rw.err()
}

// RUnlock releases a read lock of rw.
func (rw *RWMutex) RUnlock() {
	gid := goid.Get()
	for i, h := range rw.readers {
		if h.Goroutine() == gid {
			rw.readers = append(rw.readers[:i], rw.readers[i+1:]...)
			h.Released((*rlocker)(rw))
			break
		}
	}
	rw.m.RUnlock()
}

// RLocker returns a Locker that takes read locks of rw with ctx.
// Errors of the acquisition are dropped.
func (rw *RWMutex) RLocker(ctx context.Context) sync.Locker {
	if _, err := interleave.HandleFromContext(ctx); err != nil {
		return rw.m.RLocker()
	}
	return &rlockerCtx{rw: rw, ctx: ctx}
}

// Poisoned reports whether rw was still write-held by a participant
// when its panic was recovered.
func (rw *RWMutex) Poisoned() bool {
	return rw.poisoned
}

func (rw *RWMutex) free() bool {
	return rw.writer == nil && len(rw.readers) == 0
}

func (rw *RWMutex) readable() bool {
	return rw.writer == nil
}

func (rw *RWMutex) lock(h *interleave.ParticipantHandle) {
	rw.m.Lock()
	rw.writer = h
	h.Acquired(rw, rw.poison)
}

func (rw *RWMutex) rlock(h *interleave.ParticipantHandle) {
	rw.m.RLock()
	rw.readers = append(rw.readers, h)
	h.Acquired((*rlocker)(rw), func() { rw.release(h) })
}

func (rw *RWMutex) poison() {
	rw.poisoned = true
	rw.writer = nil
	rw.m.Unlock()
}

// release drops the read lock of a participant that panicked without
// poisoning rw.
func (rw *RWMutex) release(h *interleave.ParticipantHandle) {
	for i, r := range rw.readers {
		if r == h {
			rw.readers = append(rw.readers[:i], rw.readers[i+1:]...)
			rw.m.RUnlock()
			return
		}
	}
}

func (rw *RWMutex) err() error {
	if rw.poisoned {
		return ErrPoisoned.Errorf(nil, "read-write mutex was held by a participant that panicked")
	}
	return nil
}

// rlocker is the key under which read locks are recorded.
type rlocker RWMutex

type rlockerCtx struct {
	rw  *RWMutex
	ctx context.Context
}

func (r *rlockerCtx) Lock() {
	r.rw.RLock(r.ctx) //nolint:errcheck
}

func (r *rlockerCtx) Unlock() {
	r.rw.RUnlock()
}
