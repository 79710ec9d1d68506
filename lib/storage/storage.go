// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrNotFound is returned by Get for a key that has no value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable is returned when the backing store refuses
	// access entirely.
	ErrUnavailable = errors.New("storage: unavailable")

	// ErrCorrupt is returned when a stored value fails its
	// integrity check.
	ErrCorrupt = errors.New("storage: value corrupt")

	// ErrLocked is returned by OpenFile when another process holds
	// the directory.
	ErrLocked = errors.New("storage: directory locked by another process")
)

// Store is a string-keyed byte store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateKey rejects keys that cannot be used as file names or that
// are unreasonably long. All backends apply it so a key that works
// in one works in all.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("storage: invalid key %q (want 1-128 of [A-Za-z0-9._-])", key)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *Memory) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Unavailable is a Store that refuses every operation with
// ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Get(string) ([]byte, error) { return nil, ErrUnavailable }

func (Unavailable) Set(string, []byte) error { return ErrUnavailable }

func (Unavailable) Remove(string) error { return ErrUnavailable }
