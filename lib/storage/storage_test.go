// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// backends returns a fresh instance of every persistent backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	file, err := OpenFile(filepath.Join(t.TempDir(), "file"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { file.Close() })

	database, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": database,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}

			value := []byte(`[{"kind":"custom","eventName":"A"}]`)
			if err := store.Set("beacon_event_queue", value); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := store.Get("beacon_event_queue")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, value) {
				t.Fatalf("Get = %q, want %q", got, value)
			}

			if err := store.Set("beacon_event_queue", []byte("[]")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _ = store.Get("beacon_event_queue")
			if string(got) != "[]" {
				t.Fatalf("after overwrite Get = %q", got)
			}

			if err := store.Remove("beacon_event_queue"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := store.Remove("beacon_event_queue"); err != nil {
				t.Fatalf("second Remove: %v", err)
			}
			if _, err := store.Get("beacon_event_queue"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after Remove error = %v, want ErrNotFound", err)
			}

			if err := store.Set("../escape", value); err == nil {
				t.Fatal("Set accepted a path-like key")
			}
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	store := NewMemory()
	value := []byte("abc")
	if err := store.Set("key", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'z'
	got, _ := store.Get("key")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}

func TestUnavailableRefusesEverything(t *testing.T) {
	var store Store = Unavailable{}
	if _, err := store.Get("key"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get error = %v", err)
	}
	if err := store.Set("key", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set error = %v", err)
	}
	if err := store.Remove("key"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Remove error = %v", err)
	}
}

func TestFileCompressesAndDetectsCorruption(t *testing.T) {
	directory := t.TempDir()
	store, err := OpenFile(directory)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer store.Close()

	value := []byte(strings.Repeat(`{"kind":"custom","eventName":"scroll"},`, 200))
	if err := store.Set("queue", value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	path := filepath.Join(directory, "queue.value")
	record, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(record) >= len(value) {
		t.Fatalf("record is %d bytes for a %d byte repetitive value; expected compression", len(record), len(value))
	}

	record[len(record)-1] ^= 0xff
	if err := os.WriteFile(path, record, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.Get("queue"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Get on tampered record error = %v, want ErrCorrupt", err)
	}

	if err := os.WriteFile(path, []byte("not a record"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.Get("queue"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Get on garbage error = %v, want ErrCorrupt", err)
	}
}

func TestDecodeRecordRejectsOversizedHeader(t *testing.T) {
	record, err := encodeRecord([]byte(strings.Repeat("a", 4096)))
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	if record[4] != encodingLZ4 {
		t.Fatalf("encoding = %d, want lz4", record[4])
	}
	binary.BigEndian.PutUint32(record[5:9], 0xffffffff)
	if _, err := decodeRecord(record); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("decodeRecord with forged size = %v, want ErrCorrupt", err)
	}
}

func TestFileEmptyValue(t *testing.T) {
	store, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer store.Close()

	if err := store.Set("empty", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get("empty")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Get = %q, want empty", got)
	}
}

func TestFileLockIsExclusive(t *testing.T) {
	directory := t.TempDir()
	first, err := OpenFile(directory)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if _, err := OpenFile(directory); !errors.Is(err, ErrLocked) {
		t.Fatalf("second OpenFile error = %v, want ErrLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := OpenFile(directory)
	if err != nil {
		t.Fatalf("OpenFile after Close: %v", err)
	}
	second.Close()
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	store, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.Set("beacon_anonymous_id", []byte("anon-1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get("beacon_anonymous_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "anon-1" {
		t.Fatalf("Get = %q, want anon-1", got)
	}
}
