// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist mirrors the event queue into a storage.Store so a
// restart does not silently lose queued events.
//
// Persistence is best effort. Every failure is logged and swallowed:
// a full disk or a store that refuses access degrades the client to
// in-memory operation and never reaches a producer.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/storage"
)

// DefaultKey is the storage key holding the queue snapshot.
const DefaultKey = "beacon_event_queue"

// Format selects the snapshot encoding.
type Format string

const (
	// FormatJSON stores the queue as a JSON array of events, the
	// same layout the ingestion endpoint accepts.
	FormatJSON Format = "json"

	// FormatCBOR stores the queue as a deterministic CBOR array.
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts "json", "cbor", or "" (JSON).
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("persist: unknown format %q (want json or cbor)", name)
	}
}

// Bridge reads and writes the queue snapshot.
type Bridge struct {
	store  storage.Store
	key    string
	format Format
	logger *slog.Logger

	// marshal encodes one snapshot in format. Replaced in tests.
	marshal func(any) ([]byte, error)
}

// Config holds the parameters for NewBridge. Store is required.
type Config struct {
	Store  storage.Store
	Key    string // defaults to DefaultKey
	Format Format // defaults to FormatJSON
	Logger *slog.Logger
}

// NewBridge validates cfg and returns a Bridge.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("persist: Store is required")
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	marshal := json.Marshal
	if format == FormatCBOR {
		marshal = codec.Marshal
	}
	return &Bridge{store: cfg.Store, key: key, format: format, logger: logger, marshal: marshal}, nil
}

// Key returns the storage key.
func (b *Bridge) Key() string { return b.key }

// Persist overwrites the snapshot with events. An empty slice removes
// the key, so a drained queue leaves nothing behind.
func (b *Bridge) Persist(events []event.Event) {
	if len(events) == 0 {
		b.Clear()
		return
	}
	data, err := b.encode(events)
	if err != nil {
		// Never leave the previous snapshot in place: keep what still
		// encodes, or nothing.
		b.logger.Warn("encoding queue snapshot failed, skipping unencodable events",
			"error", err,
			"events", len(events),
		)
		data, err = b.encode(b.encodable(events))
		if err != nil {
			b.logger.Warn("encoding queue snapshot failed", "error", err, "events", len(events))
			b.Clear()
			return
		}
	}
	if data == nil {
		b.Clear()
		return
	}
	if err := b.store.Set(b.key, data); err != nil {
		b.logger.Warn("persisting queue failed", "error", err, "events", len(events), "key", b.key)
	}
}

// Clear removes the snapshot.
func (b *Bridge) Clear() {
	if err := b.store.Remove(b.key); err != nil {
		b.logger.Warn("clearing queue snapshot failed", "error", err, "key", b.key)
	}
}

// Restore reads the snapshot, removes it from the store, and returns
// its events. A missing, unreadable, or corrupt snapshot yields nil.
// Corrupt snapshots are removed so they are not retried on every
// start.
func (b *Bridge) Restore() []event.Event {
	data, err := b.store.Get(b.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case errors.Is(err, storage.ErrCorrupt):
		b.logger.Warn("discarding corrupt queue snapshot", "error", err, "key", b.key)
		b.Clear()
		return nil
	case err != nil:
		b.logger.Warn("reading queue snapshot failed", "error", err, "key", b.key)
		return nil
	}

	events, err := b.decode(data)
	if err != nil {
		b.logger.Warn("discarding unparseable queue snapshot", "error", err, "key", b.key, "bytes", len(data))
		b.Clear()
		return nil
	}
	b.Clear()
	b.logger.Debug("restored queue snapshot", "events", len(events))
	return events
}

// Peek decodes the snapshot without removing it. Used by inspection
// tooling; the client itself only ever calls Restore.
func (b *Bridge) Peek() ([]event.Event, error) {
	data, err := b.store.Get(b.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.decode(data)
}

// encode returns nil for an empty slice.
func (b *Bridge) encode(events []event.Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return b.marshal(events)
}

// encodable returns the events that encode on their own.
func (b *Bridge) encodable(events []event.Event) []event.Event {
	kept := make([]event.Event, 0, len(events))
	for _, candidate := range events {
		if _, err := b.marshal(candidate); err != nil {
			b.logger.Warn("dropping unencodable event from queue snapshot",
				"error", err,
				"event", candidate.Name,
			)
			continue
		}
		kept = append(kept, candidate)
	}
	return kept
}

func (b *Bridge) decode(data []byte) ([]event.Event, error) {
	var events []event.Event
	var err error
	if b.format == FormatCBOR {
		if !codec.Valid(data) {
			return nil, errors.New("persist: snapshot is not well-formed CBOR")
		}
		err = codec.Unmarshal(data, &events)
	} else {
		err = json.Unmarshal(data, &events)
	}
	if err != nil {
		return nil, err
	}
	for index, decoded := range events {
		if decoded.Kind == "" {
			return nil, fmt.Errorf("persist: event %d has no kind", index)
		}
	}
	return events, nil
}
