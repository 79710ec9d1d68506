// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/persist"
	"github.com/bureau-foundation/beacon/lib/storage"
)

// DefaultAPIBaseURL is the ingestion API used when Config.APIBaseURL
// is empty.
const DefaultAPIBaseURL = "https://api.beacon.dev/v1"

var (
	// ErrMissingAPIKey is returned by New when Config.APIKey is empty.
	ErrMissingAPIKey = errors.New("telemetry: API key is required")

	// ErrConsentDenied is returned by Identify while data collection
	// is off.
	ErrConsentDenied = errors.New("telemetry: data collection is disabled")
)

// Config holds the parameters for New. Start from DefaultConfig and
// override fields; the zero Config does not validate.
type Config struct {
	// APIKey authenticates every request. Required.
	APIKey string

	// APIBaseURL is the ingestion API root. Ignored when Transport is
	// set.
	APIBaseURL string

	// Debug enables verbose logging. With a nil Logger it installs a
	// Debug-level text logger on stderr.
	Debug bool

	// BatchSize is the queue length that triggers an immediate flush.
	// Must be at least 1.
	BatchSize int

	// FlushInterval bounds how long an event waits for a flush after
	// it was queued. Zero flushes on every enqueue.
	FlushInterval time.Duration

	// MaxRetries is the number of retries after a failed delivery
	// attempt.
	MaxRetries int

	// RetryDelay is the first backoff; retry n waits RetryDelay << n.
	RetryDelay time.Duration

	// CollectData is the initial consent state.
	CollectData bool

	// Logger defaults to a discard logger (see Debug).
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Transport defaults to an HTTP transport for APIBaseURL.
	Transport delivery.Transport

	// PersistentStore holds the queue mirror and the anonymous id.
	// Defaults to an in-memory store.
	PersistentStore storage.Store

	// SessionStore holds the session id. Defaults to an in-memory
	// store, so each client gets a fresh session.
	SessionStore storage.Store

	// PersistFormat selects the queue mirror encoding.
	PersistFormat persist.Format

	// UserAgent is stamped on events as user_agent and sent by the
	// default transport. Empty omits the property.
	UserAgent string

	// QueueKey overrides the storage key of the queue mirror.
	QueueKey string
}

// DefaultConfig returns the documented defaults with no API key.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:    DefaultAPIBaseURL,
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		CollectData:   true,
		PersistFormat: persist.FormatJSON,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("telemetry: BatchSize must be >= 1, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("telemetry: FlushInterval must be >= 0, got %v", c.FlushInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("telemetry: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("telemetry: RetryDelay must be >= 0, got %v", c.RetryDelay)
	}
	if c.Transport == nil && c.APIBaseURL == "" {
		return fmt.Errorf("telemetry: APIBaseURL is required without a custom Transport")
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	switch {
	case c.Logger != nil:
		return c.Logger
	case c.Debug:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.DiscardHandler)
	}
}
