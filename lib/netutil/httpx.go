// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reads for beacon's
// transports.
//
// The ingestion API answers 2xx with an optional small JSON body and
// non-2xx with a short diagnostic. Neither is ever large, so every read
// is capped at MaxResponseSize to keep a misbehaving endpoint from
// exhausting memory in the host application.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds response body reads: 1 MiB.
const MaxResponseSize int64 = 1 << 20

// MaxErrorBody bounds the body text embedded in error messages.
const MaxErrorBody = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v. An empty body leaves v untouched.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body and returns at most
// MaxErrorBody bytes of it for diagnostics. Read errors are ignored:
// a partial or empty body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	if len(data) > MaxErrorBody {
		return string(data[:MaxErrorBody]) + "..."
	}
	return string(data)
}

// Drain discards the rest of a response body and closes it so the
// underlying connection can be reused.
func Drain(response *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, MaxResponseSize))
	response.Body.Close()
}
