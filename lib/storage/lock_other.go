// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package storage

import "os"

// Without flock the single-writer guarantee rests on the caller.
func lockExclusive(*os.File) error { return nil }

func unlock(*os.File) {}
