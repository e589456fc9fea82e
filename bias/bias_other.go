// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package bias

import "runtime"

const supported = false

const (
	minPriority = 1
	maxPriority = 99
)

func setAffinity(n int) error {
	return ErrUnsupported.Errorf(nil, "cpu affinity is not supported on %s", runtime.GOOS)
}

func setPriority(prio int) error {
	return ErrUnsupported.Errorf(nil, "thread priorities are not supported on %s", runtime.GOOS)
}
