// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"os"
	"strconv"
	"time"

	"v.io/x/lib/vlog"
)

const (
	// ReplayEnv names the environment variable that makes Explore
	// re-execute the single trial identified by its value, a Key in
	// string form.
	ReplayEnv = "INTERLEAVE_REPLAY"
	// SamplesEnv names the environment variable that overrides the
	// number of seeded trials Explore runs when sampling.
	SamplesEnv = "INTERLEAVE_SAMPLES"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultExhaustiveLimit = 100000
	defaultSamples         = 1000
)

type options struct {
	timeout         time.Duration
	logger          *vlog.Logger
	stopOnFailure   bool
	workers         int
	exhaustiveLimit uint64
	samples         int
	maxTrials       int
	budget          time.Duration
	stateDump       bool
}

// Option configures a Harness or a Model.
type Option func(*options)

// WithTimeout sets the deadline of every trial. A trial that does not
// finish in time is reported as TimedOut. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used for progress and failure messages.
func WithLogger(l *vlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStopOnFailure controls whether a batch stops at its first
// failing trial. It does by default.
func WithStopOnFailure(stop bool) Option {
	return func(o *options) { o.stopOnFailure = stop }
}

// WithWorkers sets the number of trials of a batch that run in
// parallel.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithExhaustiveLimit sets the largest number of runs Explore is
// willing to enumerate before it falls back to sampling.
func WithExhaustiveLimit(n uint64) Option {
	return func(o *options) { o.exhaustiveLimit = n }
}

// WithSamples sets the number of seeded trials Explore runs when it
// samples. Values below one are ignored.
func WithSamples(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.samples = n
		}
	}
}

// WithMaxTrials stops a batch after n trials. Zero means no limit.
func WithMaxTrials(n int) Option {
	return func(o *options) { o.maxTrials = n }
}

// WithBudget stops a batch from starting new trials once d has
// elapsed. Zero means no limit.
func WithBudget(d time.Duration) Option {
	return func(o *options) { o.budget = d }
}

// WithStateDump controls whether failing outcomes carry a dump of the
// shared state.
func WithStateDump(dump bool) Option {
	return func(o *options) { o.stateDump = dump }
}

func newOptions(opts []Option) options {
	o := options{
		timeout:         defaultTimeout,
		logger:          vlog.Log,
		stopOnFailure:   true,
		workers:         1,
		exhaustiveLimit: defaultExhaustiveLimit,
		samples:         defaultSamples,
		stateDump:       true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if s := os.Getenv(SamplesEnv); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			o.samples = n
		} else {
			o.logger.Errorf("ignoring %s=%q: not a positive integer", SamplesEnv, s)
		}
	}
	return o
}
