// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon is a command-line telemetry client. It tracks events through
// the same client library an embedding application uses, so a shell
// script or cron job gets batching, retry with exponential backoff,
// and a persisted queue that survives failed runs.
//
// Commands:
//
//	beacon send       track events from flags or NDJSON on stdin, then flush
//	beacon identify   associate the anonymous id with a user id
//	beacon queue      print the persisted queue as JSON
//	beacon version    print build information
//
// Configuration comes from a single file named by --config or
// BEACON_CONFIG (see lib/config); flags override file values. Without
// either, the defaults apply and --api-key must be given.
//
// Persistent state (the queue snapshot and the anonymous id) lives in a
// lock-protected directory (--state-dir, default
// ~/.local/state/beacon) or a SQLite database (--sqlite). Events that
// could not be delivered stay there and are retried by the next run;
// "beacon send" exits with status 2 in that case. With --unload, the
// final flush drops them instead.
//
// Delivery goes over HTTP by default, or to Kafka or an MQTT broker
// with --transport.
package main
