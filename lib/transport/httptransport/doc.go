// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httptransport delivers events to the beacon ingestion API
// over HTTP.
//
// Two endpoints are used, both relative to the configured base URL:
//
//   - POST /events carries a JSON array of events (one batch).
//   - POST /users/identify carries a single identify payload.
//
// Every request sends Content-Type: application/json, an
// Authorization: Bearer header with the API key, and a User-Agent.
// Bodies can be gzip- or zstd-compressed (see [Compression]).
//
// Any non-2xx response is returned as a [*StatusError], which the
// delivery engine treats as retryable. A missing API key is returned
// wrapped in [delivery.ErrConfiguration] without touching the network.
//
// When [delivery.SendOptions.KeepAlive] is set the request runs on a
// context detached from the caller's cancellation, bounded by
// [Config.KeepAliveTimeout]. A flush issued during shutdown therefore
// still completes (or times out) even after the caller's context has
// been cancelled.
package httptransport
