// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/storage"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleEvents(names ...string) []event.Event {
	events := make([]event.Event, 0, len(names))
	for _, name := range names {
		events = append(events, event.New(event.KindCustom, name, event.Properties{"n": event.String(name)}, epoch))
	}
	return events
}

func newBridge(t *testing.T, store storage.Store, format Format) *Bridge {
	t.Helper()
	bridge, err := NewBridge(Config{Store: store, Format: format})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return bridge
}

func TestPersistRestoreClears(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			store := storage.NewMemory()
			bridge := newBridge(t, store, format)

			bridge.Persist(sampleEvents("A", "B", "C"))
			restored := bridge.Restore()
			if len(restored) != 3 {
				t.Fatalf("restored %d events, want 3", len(restored))
			}
			for index, name := range []string{"A", "B", "C"} {
				if restored[index].Name != name {
					t.Fatalf("restored[%d] = %q, want %q", index, restored[index].Name, name)
				}
			}
			if _, err := store.Get(DefaultKey); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("snapshot still present after Restore (err = %v)", err)
			}
			if again := bridge.Restore(); again != nil {
				t.Fatalf("second Restore returned %d events", len(again))
			}
		})
	}
}

func TestPersistEmptyRemovesKey(t *testing.T) {
	store := storage.NewMemory()
	bridge := newBridge(t, store, FormatJSON)

	bridge.Persist(sampleEvents("A"))
	bridge.Persist(nil)
	if store.Len() != 0 {
		t.Fatalf("store has %d keys after persisting empty queue", store.Len())
	}
}

// rejectNamed fails to encode any snapshot containing the named event.
func rejectNamed(name string) func(any) ([]byte, error) {
	return func(v any) ([]byte, error) {
		var events []event.Event
		switch typed := v.(type) {
		case event.Event:
			events = []event.Event{typed}
		case []event.Event:
			events = typed
		}
		for _, e := range events {
			if e.Name == name {
				return nil, errors.New("unsupported value")
			}
		}
		return json.Marshal(v)
	}
}

func TestPersistSkipsUnencodableEvents(t *testing.T) {
	store := storage.NewMemory()
	bridge := newBridge(t, store, FormatJSON)
	bridge.Persist(sampleEvents("A"))

	bridge.marshal = rejectNamed("bad")
	bridge.Persist(sampleEvents("A", "bad", "B"))

	peeked, err := bridge.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(peeked) != 2 || peeked[0].Name != "A" || peeked[1].Name != "B" {
		t.Fatalf("snapshot = %v, want [A B]", peeked)
	}
}

func TestPersistClearsWhenNothingEncodes(t *testing.T) {
	store := storage.NewMemory()
	bridge := newBridge(t, store, FormatJSON)
	bridge.Persist(sampleEvents("A"))

	bridge.marshal = rejectNamed("bad")
	bridge.Persist(sampleEvents("bad"))
	if store.Len() != 0 {
		t.Fatal("stale snapshot left behind after encoding failure")
	}
}

func TestRestoreCorruptClearsKey(t *testing.T) {
	cases := map[string][]byte{
		"truncated": []byte(`[{"kind":"custom","eventName":"A"`),
		"not array": []byte(`{"kind":"custom"}`),
		"no kind":   []byte(`[{"eventName":"A","properties":{}}]`),
	}
	for name, snapshot := range cases {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			if err := store.Set(DefaultKey, snapshot); err != nil {
				t.Fatalf("Set: %v", err)
			}
			bridge := newBridge(t, store, FormatJSON)
			if restored := bridge.Restore(); restored != nil {
				t.Fatalf("restored %d events from corrupt snapshot", len(restored))
			}
			if store.Len() != 0 {
				t.Fatal("corrupt snapshot was not cleared")
			}
		})
	}
}

func TestUnavailableStoreIsSilent(t *testing.T) {
	bridge := newBridge(t, storage.Unavailable{}, FormatJSON)
	bridge.Persist(sampleEvents("A"))
	bridge.Clear()
	if restored := bridge.Restore(); restored != nil {
		t.Fatalf("restored %d events from unavailable store", len(restored))
	}
}

func TestPeekLeavesSnapshot(t *testing.T) {
	store := storage.NewMemory()
	bridge := newBridge(t, store, FormatJSON)
	bridge.Persist(sampleEvents("A", "B"))

	peeked, err := bridge.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(peeked) != 2 || store.Len() != 1 {
		t.Fatalf("Peek returned %d events, store has %d keys", len(peeked), store.Len())
	}
}

func TestNewBridgeValidation(t *testing.T) {
	if _, err := NewBridge(Config{}); err == nil {
		t.Fatal("NewBridge accepted nil store")
	}
	if _, err := NewBridge(Config{Store: storage.NewMemory(), Format: "xml"}); err == nil {
		t.Fatal("NewBridge accepted unknown format")
	}
	if _, err := NewBridge(Config{Store: storage.NewMemory(), Key: "bad key"}); err == nil {
		t.Fatal("NewBridge accepted invalid key")
	}
}
