// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interleave

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

// trial is a single execution of a test under a policy. All of its
// fields are owned by the goroutine that calls run; participants only
// touch their own handle and the shared state.
type trial[S any] struct {
	id     uuid.UUID
	test   *Test[S]
	policy Policy
	// replay enables the checks of declared step counts.
	replay bool
	opts   *options
	state  S
	// handles are the coordinator ends of the handle pairs, in
	// declaration order.
	handles []*coordinatorHandle
	// abort is closed when the trial ends, releasing any participant
	// still parked.
	abort chan struct{}
	trace []Event
	// granted counts the outstanding Step grants; it is never more
	// than one.
	granted   int
	decisions int
}

func newTrial[S any](test *Test[S], policy Policy, opts *options) *trial[S] {
	_, replay := policy.(*replayPolicy)
	return &trial[S]{
		id:     uuid.New(),
		test:   test,
		policy: policy,
		replay: replay,
		opts:   opts,
		abort:  make(chan struct{}),
	}
}

// run executes the trial and returns its outcome. An error is
// returned only for protocol violations and step count mismatches.
func (t *trial[S]) run(ctx context.Context) (Outcome, error) {
	if t.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.timeout)
		defer cancel()
	}
	log := t.opts.logger
	log.VI(2).Infof("%v: trial %v of %q started", t.id, t.policy.Key(), t.test.Name)
	t.state = t.test.Init()
	out, err := t.execute(ctx)
	if err != nil {
		close(t.abort)
		log.Errorf("%v: trial %v of %q aborted: %v", t.id, t.policy.Key(), t.test.Name, err)
		return Outcome{}, err
	}
	out.ID = t.id
	out.Key = t.policy.Key()
	out.Decisions = t.decisions
	out.Trace = t.trace
	// No participant is running unless the trial timed out, so the
	// state can be read before the parked ones are released.
	if !out.OK() && out.Status != TimedOut && t.opts.stateDump {
		out.State = spew.Sdump(t.state)
	}
	close(t.abort)
	if out.OK() {
		log.VI(2).Infof("%v: %v", t.id, &out)
	} else {
		log.Infof("%v: trial of %q failed: %v (replay with %s=%q)", t.id, t.test.Name, &out, ReplayEnv, out.Key.String())
	}
	return out, nil
}

func (t *trial[S]) execute(ctx context.Context) (Outcome, error) {
	// Participants are started one at a time: each one performs the
	// handshake and runs until its first scheduling point before the
	// next one is started.
	for i := range t.test.Participants {
		p := &t.test.Participants[i]
		ch, ph, joined := handlePair(i, p.Name, p.Steps, t.abort)
		t.handles = append(t.handles, ch)
		fn, state := p.Fn, t.state
		go registerAndRun(ctx, ph, func(ctx context.Context) { fn(ctx, state) }, joined)
		msg, out := t.receive(ctx, ch)
		if out != nil {
			return *out, nil
		}
		if msg.kind != Rendezvous {
			return Outcome{}, ErrProtocol.Errorf(nil, "participant %d (%s) sent %v before %v", i, p.Name, msg.kind, Rendezvous)
		}
		if out, err := t.send(ctx, ch, Rendezvous); out != nil || err != nil {
			return orOutcome(out), err
		}
		if out, err := t.await(ctx, ch); out != nil || err != nil {
			return orOutcome(out), err
		}
		if out := t.checkInvariants(); out != nil {
			return *out, nil
		}
	}
	for {
		runnable, parked := t.runnable()
		if parked == 0 {
			if err := t.policy.Finish(); err != nil {
				return Outcome{}, err
			}
			return Outcome{Status: Passed}, nil
		}
		if len(runnable) == 0 {
			return Outcome{Status: Deadlocked, Detail: t.describeParked()}, nil
		}
		next, err := t.policy.Choose(Decision{Index: t.decisions, Runnable: runnable})
		if err != nil {
			return Outcome{}, err
		}
		if next < 0 || next >= len(t.handles) {
			return Outcome{}, ErrStepCountMismatch.Errorf(nil, "decision %d names participant %d, only %d declared", t.decisions, next, len(t.handles))
		}
		ch := t.handles[next]
		if ch.exited {
			return Outcome{}, ErrStepCountMismatch.Errorf(nil, "decision %d advances participant %d (%s), which exited after %d scheduling points", t.decisions, next, ch.name, ch.points)
		}
		if !contains(runnable, next) {
			return Outcome{
				Status: Infeasible,
				Detail: fmt.Sprintf("decision %d advances participant %d (%s), which is parked at a disabled %v point", t.decisions, next, ch.name, ch.parked.kind),
			}, nil
		}
		t.opts.logger.VI(3).Infof("%v: decision %d: advancing participant %d (%s)", t.id, t.decisions, next, ch.name)
		t.decisions++
		if out, err := t.send(ctx, ch, Step); out != nil || err != nil {
			return orOutcome(out), err
		}
		if out, err := t.await(ctx, ch); out != nil || err != nil {
			return orOutcome(out), err
		}
		if out := t.checkInvariants(); out != nil {
			return *out, nil
		}
	}
}

func orOutcome(out *Outcome) Outcome {
	if out == nil {
		return Outcome{}
	}
	return *out
}

// send delivers a Rendezvous acknowledgement or a Step grant.
func (t *trial[S]) send(ctx context.Context, ch *coordinatorHandle, kind MessageKind) (*Outcome, error) {
	if kind == Step {
		if t.granted != 0 {
			return nil, ErrProtocol.Errorf(nil, "granting participant %d (%s) while %d grants are outstanding", ch.index, ch.name, t.granted)
		}
		t.granted++
		ch.parked = nil
	}
	select {
	case ch.toParticipant <- kind:
		t.trace = append(t.trace, Event{Dir: ToParticipant, Kind: kind, Participant: ch.index})
		return nil, nil
	case <-ctx.Done():
		return t.timedOut(ch, ctx.Err()), nil
	}
}

// receive waits for the next message of a participant.
func (t *trial[S]) receive(ctx context.Context, ch *coordinatorHandle) (message, *Outcome) {
	select {
	case msg := <-ch.fromParticipant:
		ev := Event{Dir: ToCoordinator, Kind: msg.kind, Participant: ch.index}
		if msg.req != nil {
			ev.Point = msg.req.kind
		}
		t.trace = append(t.trace, ev)
		return msg, nil
	case <-ctx.Done():
		return message{}, t.timedOut(ch, ctx.Err())
	}
}

// await waits for the reply of a participant that was just allowed to
// run: either a Step, the participant is parked at its next
// scheduling point, or an Exit.
func (t *trial[S]) await(ctx context.Context, ch *coordinatorHandle) (*Outcome, error) {
	msg, out := t.receive(ctx, ch)
	if out != nil {
		return out, nil
	}
	t.granted = 0
	switch msg.kind {
	case Step:
		ch.points++
		ch.parked = msg.req
		if t.replay && ch.points > ch.declared {
			return nil, ErrStepCountMismatch.Errorf(nil, "participant %d (%s) reached scheduling point %d, %d declared", ch.index, ch.name, ch.points, ch.declared)
		}
	case Exit:
		ch.exited = true
		ch.parked = nil
		select {
		case <-ch.joined:
		case <-ctx.Done():
			return t.timedOut(ch, ctx.Err()), nil
		}
		if msg.failure != nil {
			return &Outcome{Status: Panicked, Panic: msg.failure}, nil
		}
		if t.replay && ch.points != ch.declared {
			return nil, ErrStepCountMismatch.Errorf(nil, "participant %d (%s) exited after %d scheduling points, %d declared", ch.index, ch.name, ch.points, ch.declared)
		}
	default:
		return nil, ErrProtocol.Errorf(nil, "participant %d (%s) sent %v while being stepped", ch.index, ch.name, msg.kind)
	}
	return nil, nil
}

func (t *trial[S]) timedOut(ch *coordinatorHandle, err error) *Outcome {
	return &Outcome{
		Status: TimedOut,
		Detail: fmt.Sprintf("waiting for participant %d (%s) after %d decisions: %v", ch.index, ch.name, t.decisions, err),
	}
}

// runnable returns the parked participants whose scheduling point is
// enabled, and the number of parked participants.
func (t *trial[S]) runnable() ([]int, int) {
	var runnable []int
	parked := 0
	for i, ch := range t.handles {
		if ch.exited {
			continue
		}
		parked++
		if ch.parked.isEnabled() {
			runnable = append(runnable, i)
		}
	}
	return runnable, parked
}

func (t *trial[S]) describeParked() string {
	detail := ""
	for _, ch := range t.handles {
		if ch.exited {
			continue
		}
		if detail != "" {
			detail += ", "
		}
		detail += fmt.Sprintf("participant %d (%s) waits at %v point %d", ch.index, ch.name, ch.parked.kind, ch.points)
	}
	return detail
}

func (t *trial[S]) checkInvariants() *Outcome {
	for _, inv := range t.test.Invariants {
		ok, failure := evaluate(inv, t.state)
		if failure != nil {
			return &Outcome{Status: Panicked, Panic: failure}
		}
		if !ok {
			return &Outcome{Status: FailedInvariant, Invariant: inv.Name}
		}
	}
	return nil
}

func evaluate[S any](inv Invariant[S], state S) (ok bool, failure *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			failure = &PanicError{Participant: -1, Name: "invariant " + inv.Name, Value: r, Stack: debug.Stack()}
		}
	}()
	return inv.Check(state), nil
}

func contains(list []int, x int) bool {
	for _, v := range list {
		if v == x {
			return true
		}
	}
	return false
}
