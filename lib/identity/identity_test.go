// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/bureau-foundation/beacon/lib/storage"
)

func TestAnonymousIDStableAcrossCalls(t *testing.T) {
	resolver := NewResolver(storage.NewMemory(), storage.NewMemory(), nil)
	first := resolver.AnonymousID()
	second := resolver.AnonymousID()
	if first == "" || first != second {
		t.Fatalf("AnonymousID returned %q then %q", first, second)
	}
}

func TestAnonymousIDSurvivesReload(t *testing.T) {
	persistent := storage.NewMemory()
	first := NewResolver(persistent, storage.NewMemory(), nil).AnonymousID()

	// A new resolver over the same persistent store and a fresh
	// session store models a page reload.
	reloaded := NewResolver(persistent, storage.NewMemory(), nil)
	if got := reloaded.AnonymousID(); got != first {
		t.Fatalf("anonymous id after reload = %q, want %q", got, first)
	}

	stored, err := persistent.Get(AnonymousIDKey)
	if err != nil || string(stored) != first {
		t.Fatalf("persisted id = %q, %v", stored, err)
	}
}

func TestSessionIDScopedToSessionStore(t *testing.T) {
	persistent := storage.NewMemory()
	firstSession := NewResolver(persistent, storage.NewMemory(), nil)
	secondSession := NewResolver(persistent, storage.NewMemory(), nil)

	if firstSession.SessionID() == secondSession.SessionID() {
		t.Fatal("independent session stores produced the same session id")
	}
	if firstSession.AnonymousID() != secondSession.AnonymousID() {
		t.Fatal("sessions on one device disagree on the anonymous id")
	}
	if _, err := persistent.Get(SessionIDKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("session id leaked into the persistent store")
	}
}

func TestUnavailableStorageDegrades(t *testing.T) {
	resolver := NewResolver(storage.Unavailable{}, nil, nil)
	anonymous := resolver.AnonymousID()
	session := resolver.SessionID()
	if anonymous == "" || session == "" {
		t.Fatal("resolver returned empty ids with unavailable storage")
	}
	if resolver.AnonymousID() != anonymous || resolver.SessionID() != session {
		t.Fatal("ids changed between calls with unavailable storage")
	}
}

func TestGenerateIsVersion7(t *testing.T) {
	parsed, err := uuid.Parse(Generate())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("version = %d, want 7", parsed.Version())
	}
	if Generate() == Generate() {
		t.Fatal("two generated ids collided")
	}
}
