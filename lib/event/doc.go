// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the records beacon queues and delivers.
//
// An [Event] is one user or system action: a [Kind] discriminator, a
// name, and a [Properties] bag. Property values are the [Value]
// tagged union (null, string, number, bool, nested map) rather than
// arbitrary Go values, so that producer-supplied extension fields
// always serialize the same way in JSON and CBOR.
//
// Events are immutable once built by [New]: New copies the caller's
// properties and stamps the creation timestamp, and nothing in this
// module modifies an Event afterwards.
package event
