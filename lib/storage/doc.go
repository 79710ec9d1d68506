// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the key-value stores beacon persists
// state into: the queue snapshot, the anonymous id, and the session
// id. A [Store] plays the role browser storage plays for the
// JavaScript SDK. A client takes two stores, one persistent (the
// localStorage analogue) and one session-scoped (the sessionStorage
// analogue).
//
// Backends:
//
//   - [Memory]: process-lifetime map. The default session store, and
//     the usual store in tests.
//   - [File]: one file per key under a directory, written atomically,
//     LZ4-compressed, and guarded by a BLAKE3 digest so a torn or
//     tampered file reads as [ErrCorrupt] instead of garbage. The
//     directory is flock'd for the life of the store, which keeps two
//     processes from racing on the same queue key.
//   - [SQLite]: a single kv table in a SQLite database opened through
//     lib/sqlitepool.
//   - [Unavailable]: refuses every operation, like a sandboxed iframe
//     denying storage access. Callers degrade to in-memory operation.
//
// Every backend returns [ErrNotFound] for missing keys.
package storage
