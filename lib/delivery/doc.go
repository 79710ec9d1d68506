// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery drains the event queue and delivers batches over a
// [Transport], retrying with exponential backoff.
//
// One flush drains everything pending into a batch and sends it as a
// single request. On failure it waits RetryDelay * 2^n and retries the
// same batch, up to MaxRetries times. The retry counter belongs to the
// flush and starts at zero for each new one. When retries run out:
//
//   - a normal flush requeues the batch at the head of the queue, so
//     the next flush tries it again ahead of newer events;
//   - an unload flush drops the batch with a warning. The host is
//     going away and cannot afford another round of persistence.
//
// Errors wrapping [ErrConfiguration] are terminal: the attempt stops
// at once without retrying, since retrying cannot supply a missing
// API key. Every other error is retryable.
//
// Flushes may overlap. Each one owns only the events that were pending
// when it drained, and requeued batches go back in drain order.
//
// Identify calls skip the queue: [Engine.Identify] sends one payload
// through the same retry loop and returns the final error to the
// caller instead of requeueing.
package delivery
