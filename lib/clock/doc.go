// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations beacon depends on: the
// periodic flush deadline, the retry backoff between delivery
// attempts, and event timestamps.
//
// Production code receives [Real]. Tests receive [Fake], which only
// moves when Advance is called, so "1000ms elapse" and "the second
// attempt waits retryDelay" are asserted exactly rather than by
// sleeping:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client, _ := telemetry.New(cfg) // cfg.Clock = fakeClock
//	client.TrackEvent("X", nil)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
