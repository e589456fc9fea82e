// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"v.io/x/interleave/runs"
)

// Harness runs the trials of one test.
type Harness[S any] struct {
	test Test[S]
	// steps are the declared step counts; known is false if any
	// participant declared UnknownSteps.
	steps []int
	known bool
	opts  options
}

// New validates test and returns a harness for it.
func New[S any](test Test[S], opts ...Option) (*Harness[S], error) {
	if err := test.validate(); err != nil {
		return nil, err
	}
	h := &Harness[S]{test: test, opts: newOptions(opts)}
	h.steps, h.known = test.steps()
	return h, nil
}

// Run executes a single trial under policy.
func (h *Harness[S]) Run(ctx context.Context, policy Policy) (Outcome, error) {
	return newTrial(&h.test, policy, &h.opts).run(ctx)
}

// Replay re-executes the trial identified by key. A run key must be a
// valid run over the declared step counts.
func (h *Harness[S]) Replay(ctx context.Context, key Key) (Outcome, error) {
	if run, ok := key.Run(); ok {
		if !h.known {
			return Outcome{}, ErrStepCountMismatch.Errorf(nil, "test %q declares unknown step counts, run %v cannot be replayed", h.test.Name, run)
		}
		if err := runs.Valid(run, h.steps); err != nil {
			return Outcome{}, ErrStepCountMismatch.Errorf(nil, "run %v does not match the step counts %v of test %q: %v", run, h.steps, h.test.Name, err)
		}
	}
	policy, err := key.Policy()
	if err != nil {
		return Outcome{}, err
	}
	return h.Run(ctx, policy)
}

// Exhaustive runs one trial per run of the declared step counts, in
// lexicographic order.
func (h *Harness[S]) Exhaustive(ctx context.Context) (*Report, error) {
	if !h.known {
		return nil, ErrInvalidTest.Errorf(nil, "test %q declares unknown step counts, it can only be explored by seed", h.test.Name)
	}
	e, err := runs.New(h.steps)
	if err != nil {
		return nil, ErrInvalidTest.Errorf(nil, "test %q: %v", h.test.Name, err)
	}
	if log := h.opts.logger; log.V(1) {
		n, _ := runs.Count(h.steps)
		log.Infof("exploring %v runs of %q with step counts %v", n, h.test.Name, h.steps)
	}
	return h.batch(ctx, Exhaustive, func() (Key, bool) {
		run, ok := e.Next()
		return RunKey(run), ok
	})
}

// Seeded runs one trial per seed.
func (h *Harness[S]) Seeded(ctx context.Context, seeds ...uint64) (*Report, error) {
	i := 0
	return h.batch(ctx, Sampled, func() (Key, bool) {
		if i >= len(seeds) {
			return Key{}, false
		}
		i++
		return SeedKey(seeds[i-1]), true
	})
}

// SeededN runs the trials of the seeds 0 to n-1.
func (h *Harness[S]) SeededN(ctx context.Context, n int) (*Report, error) {
	if n < 0 {
		return nil, ErrInvalidTest.Errorf(nil, "test %q: negative number of seeds %d", h.test.Name, n)
	}
	var seed uint64
	return h.batch(ctx, Sampled, func() (Key, bool) {
		if seed >= uint64(n) {
			return Key{}, false
		}
		seed++
		return SeedKey(seed - 1), true
	})
}

// Explore runs the test exhaustively when the number of runs is
// within the exhaustive limit, and samples it by seed otherwise. If
// the INTERLEAVE_REPLAY environment variable is set, Explore only
// replays the trial it names.
func (h *Harness[S]) Explore(ctx context.Context) (*Report, error) {
	if s := os.Getenv(ReplayEnv); s != "" {
		key, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		h.opts.logger.Infof("replaying %v of %q from %s", key, h.test.Name, ReplayEnv)
		out, err := h.Replay(ctx, key)
		if err != nil {
			return nil, err
		}
		coverage := Sampled
		if _, ok := key.Run(); ok {
			coverage = Exhaustive
		}
		report := newReport(coverage)
		report.add(0, out)
		return report, nil
	}
	if h.known {
		within, err := runs.CountWithin(h.steps, h.opts.exhaustiveLimit)
		if err != nil {
			return nil, ErrInvalidTest.Errorf(nil, "test %q: %v", h.test.Name, err)
		}
		if within {
			return h.Exhaustive(ctx)
		}
		h.opts.logger.VI(1).Infof("%q has more than %d runs, sampling %d seeds", h.test.Name, h.opts.exhaustiveLimit, h.opts.samples)
	}
	return h.SeededN(ctx, h.opts.samples)
}

type keyed struct {
	seq int
	key Key
}

// batch runs the trials of the keys produced by next on the
// configured number of workers. A protocol violation or step count
// mismatch in any trial aborts the batch.
func (h *Harness[S]) batch(ctx context.Context, coverage Coverage, next func() (Key, bool)) (*Report, error) {
	start := time.Now()
	report := newReport(coverage)
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	keys := make(chan keyed)
	var (
		mu        sync.Mutex
		produced  int
		exhausted bool
	)
	g.Go(func() error {
		defer close(keys)
		for seq := 0; ; seq++ {
			if h.opts.maxTrials > 0 && seq >= h.opts.maxTrials {
				return nil
			}
			if h.opts.budget > 0 && time.Since(start) > h.opts.budget {
				return nil
			}
			key, ok := next()
			if !ok {
				exhausted = true
				return nil
			}
			select {
			case keys <- keyed{seq, key}:
				produced++
			case <-stopCtx.Done():
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})
	for w := 0; w < h.opts.workers; w++ {
		g.Go(func() error {
			for k := range keys {
				if stopCtx.Err() != nil {
					continue
				}
				policy, err := k.key.Policy()
				if err != nil {
					return err
				}
				out, err := newTrial(&h.test, policy, &h.opts).run(gctx)
				if err != nil {
					return err
				}
				mu.Lock()
				report.add(k.seq, out)
				mu.Unlock()
				if !out.OK() && h.opts.stopOnFailure {
					stop()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Complete = coverage == Exhaustive && exhausted && report.Trials == produced
	h.opts.logger.VI(1).Infof("%q: %v in %v", h.test.Name, report, time.Since(start))
	return report, nil
}
