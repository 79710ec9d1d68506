// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// File record layout:
//
//	magic[4] | encoding[1] | size[4, big endian] | digest[32] | payload
//
// digest is BLAKE3 of the uncompressed value. encoding is 0 for raw
// payloads and 1 for LZ4 blocks.
var fileMagic = [4]byte{'b', 'c', 'n', '1'}

const (
	encodingRaw  byte = 0
	encodingLZ4  byte = 1
	headerLength      = 4 + 1 + 4 + 32
	lockFileName      = ".lock"
	valueSuffix       = ".value"
	maxLZ4Expansion   = 255
)

// File is a Store keeping one file per key under a directory.
type File struct {
	mu        sync.Mutex
	directory string
	lock      *os.File
}

// OpenFile opens (creating if needed) a File store rooted at
// directory and takes an exclusive advisory lock on it. Returns
// ErrLocked if another process holds the lock. Call Close to release
// it.
func OpenFile(directory string) (*File, error) {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", directory, err)
	}
	lock, err := os.OpenFile(filepath.Join(directory, lockFileName), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: opening lock file: %w", err)
	}
	if err := lockExclusive(lock); err != nil {
		lock.Close()
		return nil, err
	}
	return &File{directory: directory, lock: lock}, nil
}

// Directory returns the root directory.
func (f *File) Directory() string { return f.directory }

// Close releases the directory lock.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lock == nil {
		return nil
	}
	unlock(f.lock)
	err := f.lock.Close()
	f.lock = nil
	return err
}

func (f *File) path(key string) string {
	return filepath.Join(f.directory, key+valueSuffix)
}

func (f *File) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", key, err)
	}
	return decodeRecord(data)
}

func (f *File) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	record, err := encodeRecord(value)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	temporary, err := os.CreateTemp(f.directory, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	temporaryPath := temporary.Name()
	if _, err := temporary.Write(record); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("storage: syncing %s: %w", key, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := os.Rename(temporaryPath, f.path(key)); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("storage: replacing %s: %w", key, err)
	}
	return nil
}

func (f *File) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: removing %s: %w", key, err)
	}
	return nil
}

func encodeRecord(value []byte) ([]byte, error) {
	encoding := encodingRaw
	payload := value

	if len(value) > 0 {
		destination := make([]byte, lz4.CompressBlockBound(len(value)))
		written, err := lz4.CompressBlock(value, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("storage: lz4 compress: %w", err)
		}
		// Zero means incompressible; keep raw when compression
		// does not pay.
		if written > 0 && written < len(value) {
			encoding = encodingLZ4
			payload = destination[:written]
		}
	}

	digest := blake3.Sum256(value)

	var buffer bytes.Buffer
	buffer.Grow(headerLength + len(payload))
	buffer.Write(fileMagic[:])
	buffer.WriteByte(encoding)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(value)))
	buffer.Write(size[:])
	buffer.Write(digest[:])
	buffer.Write(payload)
	return buffer.Bytes(), nil
}

func decodeRecord(record []byte) ([]byte, error) {
	if len(record) < headerLength || !bytes.Equal(record[:4], fileMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	encoding := record[4]
	size := int(binary.BigEndian.Uint32(record[5:9]))
	var digest [32]byte
	copy(digest[:], record[9:headerLength])
	payload := record[headerLength:]

	var value []byte
	switch encoding {
	case encodingRaw:
		value = payload
	case encodingLZ4:
		// An lz4 block expands at most 255x; a larger claimed size is
		// a damaged header, not a real value.
		if size < 0 || size > maxLZ4Expansion*len(payload)+16 {
			return nil, fmt.Errorf("%w: header size %d exceeds what %d compressed bytes can hold", ErrCorrupt, size, len(payload))
		}
		value = make([]byte, size)
		read, err := lz4.UncompressBlock(payload, value)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		value = value[:read]
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupt, encoding)
	}

	if len(value) != size {
		return nil, fmt.Errorf("%w: size %d, header says %d", ErrCorrupt, len(value), size)
	}
	if blake3.Sum256(value) != digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	return append([]byte(nil), value...), nil
}
