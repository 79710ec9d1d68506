// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry is the beacon client: the component an embedding
// application constructs once and feeds events into.
//
// A [Client] composes the lower layers:
//
//   - identity resolves the anonymous and session ids stamped on every
//     event.
//   - queue holds undelivered events, mirrored after every change
//     through a persist.Bridge into the persistent store.
//   - delivery drains the queue in batches and retries with
//     exponential backoff.
//
// Flushes are triggered by the queue reaching BatchSize, by a timer
// re-armed on every enqueue (so no event waits longer than
// FlushInterval), by the lifecycle hooks [Client.OnVisibilityHidden]
// and [Client.OnUnload], by explicit [Client.Flush] calls, and by
// consent revocation. Size and timer flushes run on background
// goroutines; [Client.Wait] blocks until they finish.
//
// Tracking calls are fire-and-forget: they never return errors and
// never block on the network. [Client.Identify] is the exception. It
// sends immediately, bypassing the queue, and returns the delivery
// outcome.
//
// # Process-wide client
//
// [Init] installs one active client for the process, and the
// package-level [Track], [TrackEvent], [Identify], [SetConsent], and
// [FlushEvents] functions route to it. Calls made before Init are
// buffered and replayed in order once Init succeeds, so
// instrumentation code can fire events without depending on startup
// order. [Shutdown] closes the active client and clears the slot.
package telemetry
