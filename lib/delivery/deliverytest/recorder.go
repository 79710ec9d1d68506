// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deliverytest provides a recording delivery.Transport for
// tests.
package deliverytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/testutil"
)

// Call is one recorded transport invocation. Exactly one of Events
// and Identify is set.
type Call struct {
	Events   []event.Event
	Identify *event.Identify
	Options  delivery.SendOptions
}

// Names returns the event names of an events call.
func (c Call) Names() []string {
	names := make([]string, len(c.Events))
	for index, e := range c.Events {
		names[index] = e.Name
	}
	return names
}

// Recorder records calls and returns scripted errors. Errors are
// consumed in order, one per call, across both surfaces. Once the
// script runs out every call succeeds, unless Fail is set.
//
// The Called channel receives after every call (after the call is
// recorded), so tests synchronize without polling.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	script []error
	// Fail, when non-nil, is returned once the script is exhausted.
	Fail error

	called chan struct{}
}

// NewRecorder returns a Recorder that replays script.
func NewRecorder(script ...error) *Recorder {
	return &Recorder{script: script, called: make(chan struct{}, 1024)}
}

func (r *Recorder) SendEvents(_ context.Context, events []event.Event, options delivery.SendOptions) error {
	return r.record(Call{Events: append([]event.Event(nil), events...), Options: options})
}

func (r *Recorder) SendIdentify(_ context.Context, payload event.Identify, options delivery.SendOptions) error {
	return r.record(Call{Identify: &payload, Options: options})
}

func (r *Recorder) record(call Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	var err error
	if len(r.script) > 0 {
		err = r.script[0]
		r.script = r.script[1:]
	} else {
		err = r.Fail
	}
	r.mu.Unlock()

	r.called <- struct{}{}
	return err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallCount returns the number of recorded calls.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// WaitForCalls blocks until count more calls have happened, failing
// the test after a generous real-time bound.
func (r *Recorder) WaitForCalls(t testing.TB, count int) {
	t.Helper()
	for range count {
		testutil.RequireReceive(t, r.called, 5*time.Second, "waiting for transport call")
	}
}

// AssertNoPendingCall fails if a call happened that no WaitForCalls
// has consumed.
func (r *Recorder) AssertNoPendingCall(t testing.TB) {
	t.Helper()
	testutil.RequireNoReceive(t, r.called, "unexpected transport call (total %d)", r.CallCount())
}
