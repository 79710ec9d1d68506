// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue holds events that have not been confirmed delivered.
//
// The queue has two parts. Pending events wait for the next flush, in
// insertion order. In-flight batches have been drained by a flush
// whose delivery has not settled. A batch settles exactly once: by
// Complete (delivered, or deliberately dropped) or by RequeueFront
// (failed; its events go back ahead of everything pending).
//
// After every mutation except Restore, and on Sync, the queue hands its
// full snapshot (in-flight batches oldest first, then pending) to the
// Persister before the call returns. The persisted mirror therefore matches
// memory. A crash mid-delivery loses nothing, and events enqueued
// during a delivery never overwrite the in-flight batch in the mirror.
//
// Thread-safe: all methods may be called concurrently. Mutations are
// serialized, persistence included.
package queue

import (
	"sync"

	"github.com/bureau-foundation/beacon/lib/event"
)

// Persister receives the queue snapshot after each mutation.
// *persist.Bridge implements it.
type Persister interface {
	Persist(events []event.Event)
}

// Batch is a group of events drained for one delivery attempt.
type Batch struct {
	id     uint64
	Events []event.Event
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// Queue is the ordered event buffer.
type Queue struct {
	mu        sync.Mutex
	pending   []event.Event
	inFlight  []*Batch
	nextBatch uint64
	persister Persister
}

// New returns an empty Queue. A nil persister keeps the queue purely
// in memory.
func New(persister Persister) *Queue {
	return &Queue{persister: persister}
}

// Enqueue appends e to the tail and returns the number of pending
// events.
func (q *Queue) Enqueue(e event.Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, e)
	q.persistLocked()
	return len(q.pending)
}

// DrainAll moves every pending event into a new in-flight batch and
// returns it. Returns nil when nothing is pending. The snapshot is
// unchanged by a drain (the same events, in the same order), so
// nothing is persisted.
func (q *Queue) DrainAll() *Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	q.nextBatch++
	batch := &Batch{id: q.nextBatch, Events: q.pending}
	q.pending = nil
	q.inFlight = append(q.inFlight, batch)
	return batch
}

// Complete settles batch as finished: its events leave the queue and
// the mirror. Completing an unknown or already-settled batch is a
// no-op.
func (q *Queue) Complete(batch *Batch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removeInFlightLocked(batch) {
		q.persistLocked()
	}
}

// RequeueFront settles batch as failed and puts its events back at
// the head of the pending list, ahead of anything enqueued since the
// drain. Requeueing an unknown or already-settled batch (for example
// one discarded by Clear) is a no-op and returns false.
func (q *Queue) RequeueFront(batch *Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removeInFlightLocked(batch) {
		return false
	}
	restored := make([]event.Event, 0, len(batch.Events)+len(q.pending))
	restored = append(restored, batch.Events...)
	restored = append(restored, q.pending...)
	q.pending = restored
	q.persistLocked()
	return true
}

// Clear discards pending events and forgets in-flight batches. Their
// eventual Complete or RequeueFront calls become no-ops.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.inFlight = nil
	q.persistLocked()
}

// Restore inserts previously persisted events ahead of anything
// pending. At construction the queue is empty, so this simply
// replaces its contents.
//
// Restore is the one mutation that does not persist. The events came
// out of the mirror, which the caller clears as it restores, so a
// crash before the next mutation cannot restore them twice. The next
// mutation writes them back along with everything else.
func (q *Queue) Restore(events []event.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	restored := make([]event.Event, 0, len(events)+len(q.pending))
	restored = append(restored, events...)
	restored = append(restored, q.pending...)
	q.pending = restored
}

// Sync hands the current snapshot to the Persister. A queue that was
// restored and never mutated has an empty mirror until Sync is called.
func (q *Queue) Sync() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked()
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of unsettled batches.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Pending returns a copy of the pending events.
func (q *Queue) Pending() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]event.Event(nil), q.pending...)
}

// Snapshot returns what the mirror holds: in-flight events oldest
// batch first, then pending events.
func (q *Queue) Snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []event.Event {
	size := len(q.pending)
	for _, batch := range q.inFlight {
		size += len(batch.Events)
	}
	snapshot := make([]event.Event, 0, size)
	for _, batch := range q.inFlight {
		snapshot = append(snapshot, batch.Events...)
	}
	return append(snapshot, q.pending...)
}

func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}
	q.persister.Persist(q.snapshotLocked())
}

func (q *Queue) removeInFlightLocked(batch *Batch) bool {
	if batch == nil {
		return false
	}
	for index, candidate := range q.inFlight {
		if candidate.id == batch.id {
			q.inFlight = append(q.inFlight[:index:index], q.inFlight[index+1:]...)
			return true
		}
	}
	return false
}
