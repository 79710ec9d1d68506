// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrument holds auto-instrumentation adapters: producers
// that observe a host UI and feed the telemetry client through its
// ordinary tracking surface.
//
// The host is abstracted behind small interfaces so any UI toolkit (a
// WebAssembly DOM bridge, a terminal UI, a test fake) can drive them:
//
//   - [InitClickTracking] attaches one delegated click listener to a
//     [ClickSource] and tracks clicks on elements marked with the
//     data-beacon-event attribute. Matching happens at click time, so
//     elements added after attachment are covered.
//   - [InitPageTracking] wraps a [History] so push and replace
//     navigations, back/forward (popstate), and the initial location
//     produce page_view events. Repeated paths are deduplicated by the
//     client.
//   - [TrackWallet] subscribes to a hub of [WalletEvent] values
//     published by a wallet integration.
package instrument

import (
	"github.com/bureau-foundation/beacon/lib/event"
)

// EventTracker is the tracking surface adapters feed.
// *telemetry.Client implements it.
type EventTracker interface {
	Track(kind event.Kind, name string, properties event.Properties)
}
