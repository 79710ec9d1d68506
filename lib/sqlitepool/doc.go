// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases the way beacon uses them:
// a small zombiezen sqlitex pool with WAL journaling and a busy
// timeout, so a queue snapshot write never fails outright because a
// reader (the CLI inspecting the queue, say) holds the database.
//
// Callers Take a connection, use it, and Put it back:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Logger: logger})
//	conn, err := pool.Take(ctx)
//	defer pool.Put(conn)
//
// Connections are not safe for concurrent use; the pool is.
package sqlitepool
