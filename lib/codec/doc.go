// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds beacon's CBOR configuration.
//
// JSON is the format of every external surface: the ingestion
// endpoint, the identify endpoint, and the default persisted queue
// snapshot (which must stay readable by any other SDK variant sharing
// the store). CBOR is the optional compact snapshot format for local
// stores that only beacon reads.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same queue contents always produce the same snapshot bytes.
//
// Types serialized in both formats carry only `json` struct tags;
// fxamacker/cbor falls back to them when no `cbor` tag is present.
package codec
