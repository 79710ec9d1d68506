// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves the two visitor identifiers beacon stamps
// on every event.
//
// The anonymous id identifies a device and lives in the persistent
// store indefinitely. The session id identifies one client lifetime
// and lives in the session store. Both are created lazily on first
// read and then held in memory. Repeated reads from one Resolver
// never change, even if the backing store starts failing halfway
// through.
//
// Ids are UUIDv7: a millisecond timestamp followed by random bits.
// They correlate visits for analytics; nothing relies on them being
// unguessable.
package identity

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/beacon/lib/storage"
)

// Storage keys.
const (
	AnonymousIDKey = "beacon_anonymous_id"
	SessionIDKey   = "beacon_session_id"
)

// Resolver resolves and caches the anonymous and session ids.
type Resolver struct {
	persistent storage.Store
	session    storage.Store
	logger     *slog.Logger

	mu          sync.Mutex
	anonymousID string
	sessionID   string
}

// NewResolver returns a Resolver over the given stores. A nil store
// behaves like one that denies access. A nil logger discards.
func NewResolver(persistent, session storage.Store, logger *slog.Logger) *Resolver {
	if persistent == nil {
		persistent = storage.Unavailable{}
	}
	if session == nil {
		session = storage.Unavailable{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{persistent: persistent, session: session, logger: logger}
}

// AnonymousID returns the device's anonymous id, creating and
// persisting one if none exists. Never fails: on storage errors it
// logs a warning and returns an id held only in memory.
func (r *Resolver) AnonymousID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.anonymousID == "" {
		r.anonymousID = r.resolve(r.persistent, AnonymousIDKey)
	}
	return r.anonymousID
}

// SessionID returns the session id, with the same creation and
// failure behavior as AnonymousID but against the session store.
func (r *Resolver) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		r.sessionID = r.resolve(r.session, SessionIDKey)
	}
	return r.sessionID
}

func (r *Resolver) resolve(store storage.Store, key string) string {
	stored, err := store.Get(key)
	if err == nil && len(stored) > 0 {
		return string(stored)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("reading identifier failed, using in-memory id", "key", key, "error", err)
		return Generate()
	}

	generated := Generate()
	if err := store.Set(key, []byte(generated)); err != nil {
		r.logger.Warn("persisting identifier failed, using in-memory id", "key", key, "error", err)
	}
	return generated
}

// Generate returns a new UUIDv7 string, falling back to a random
// UUIDv4 if the v7 generator fails.
func Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
