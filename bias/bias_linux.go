// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package bias

import (
	"errors"

	"golang.org/x/sys/unix"
)

const supported = true

// Range of SCHED_FIFO priorities; the maximum is never drawn.
const (
	minPriority = 1
	maxPriority = 99
)

func setAffinity(n int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(n)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return classify(err, "failed to pin thread to cpu %d", n)
	}
	return nil
}

func setPriority(prio int) error {
	attr := unix.SchedAttr{Policy: unix.SCHED_FIFO, Priority: uint32(prio)}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return classify(err, "failed to set SCHED_FIFO priority %d", prio)
	}
	return nil
}

func classify(err error, format string, args ...interface{}) error {
	args = append(args, err)
	if errors.Is(err, unix.EPERM) {
		return ErrPermission.Errorf(nil, format+": %v", args...)
	}
	return ErrUnsupported.Errorf(nil, format+": %v", args...)
}
