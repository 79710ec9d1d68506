// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for beacon packages.
//
// [RequireReceive] and [RequireClosed] wrap the timeout safety valve
// (a select with a real timer fallback) so that a broken test fails
// instead of hanging. They are the only place in the test suite where
// wall-clock timeouts appear; timers and backoff everywhere else run on
// clock.Fake. [RequireNoReceive] is the non-blocking counterpart, used
// after a fake-clock step to assert that nothing more happened.
//
// Helpers call Fatalf on failure rather than returning errors.
package testutil
