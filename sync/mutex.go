// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"context"
	"sync"

	"v.io/x/interleave"
)

// Mutex is a wrapper around the Go implementation of Mutex. Lock and
// TryLock are one scheduling point each; Unlock is none.
type Mutex struct {
	m sync.Mutex
	// holder is the participant holding the lock, nil if it is free
	// or held outside a trial.
	holder   *interleave.ParticipantHandle
	poisoned bool
}

// Lock acquires m. Inside a trial the participant is only advanced
// while m is free.
func (m *Mutex) Lock(ctx context.Context) error {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		m.m.Lock()
		return m.err()
	}
	h.Step(interleave.PointLock, m.free)
	m.acquire(h)
	return m.err()
}

// TryLock acquires m if it is free and reports whether it did. Inside
// a trial the attempt is made once the participant is advanced.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	h, err := interleave.HandleFromContext(ctx)
	if err != nil {
		if !m.m.TryLock() {
			return false, nil
		}
		return true, m.err()
	}
	h.Step(interleave.PointTryLock, nil)
	if !m.free() {
		return false, nil
	}
	m.acquire(h)
	return true, m.err()
}

// Unlock releases m.
func (m *Mutex) Unlock() {
	if h := m.holder; h != nil {
		m.holder = nil
		h.Released(m)
	}
	m.m.Unlock()
}

// Poisoned reports whether m was still held by a participant when
// its panic was recovered.
func (m *Mutex) Poisoned() bool {
	return m.poisoned
}

func (m *Mutex) free() bool {
	return m.holder == nil
}

func (m *Mutex) acquire(h *interleave.ParticipantHandle) {
	m.m.Lock()
	m.holder = h
	h.Acquired(m, m.poison)
}

func (m *Mutex) poison() {
	m.poisoned = true
	m.holder = nil
	m.m.Unlock()
}

func (m *Mutex) err() error {
	if m.poisoned {
		return ErrPoisoned.Errorf(nil, "mutex was held by a participant that panicked")
	}
	return nil
}
