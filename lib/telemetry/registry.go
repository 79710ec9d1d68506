// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
)

// MaxDeferredCalls bounds how many package-level calls are buffered
// before Init. Further calls are dropped and counted.
const MaxDeferredCalls = 1000

// deferredTimeout bounds each replayed call that needs a context.
const deferredTimeout = time.Minute

// ErrNotInitialized is returned by Shutdown when no client is active.
var ErrNotInitialized = errors.New("telemetry: no active client")

// deferredCall is a package-level call made before Init.
type deferredCall struct {
	method string
	apply  func(*Client)
}

// registry is the process-wide client slot. While Init replays
// deferred calls the new client sits in initializing and later calls
// keep queueing behind the replay.
var registry struct {
	mu           sync.Mutex
	active       *Client
	initializing *Client
	deferred     []deferredCall
	dropped      int
}

// Init constructs the process-wide client from cfg and replays calls
// buffered before it existed, in the order they were made.
//
// Replay runs without holding the registry lock, so a replayed flush
// waiting out its backoff does not block package-level calls made from
// other goroutines. Those calls are buffered behind the replay and
// applied before Init returns. Active reports nil until then.
//
// If a client is already active or initializing, Init logs a warning
// and returns that client; cfg is ignored.
func Init(cfg Config) (*Client, error) {
	registry.mu.Lock()
	if existing := registry.active; existing != nil || registry.initializing != nil {
		if existing == nil {
			existing = registry.initializing
		}
		registry.mu.Unlock()
		existing.logger.Warn("telemetry client already initialized, ignoring new configuration")
		return existing, nil
	}

	client, err := New(cfg)
	if err != nil {
		registry.mu.Unlock()
		return nil, err
	}
	registry.initializing = client
	dropped := registry.dropped
	registry.dropped = 0
	registry.mu.Unlock()

	if dropped > 0 {
		client.logger.Warn("deferred calls dropped before initialization",
			"dropped", dropped,
			"limit", MaxDeferredCalls,
		)
	}
	for {
		registry.mu.Lock()
		calls := registry.deferred
		registry.deferred = nil
		if len(calls) == 0 {
			registry.active = client
			registry.initializing = nil
			registry.mu.Unlock()
			return client, nil
		}
		registry.mu.Unlock()

		for _, call := range calls {
			client.logger.Debug("replaying deferred call", "method", call.method)
			call.apply(client)
		}
	}
}

// Active returns the process-wide client, or nil before Init.
func Active() *Client {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.active
}

// Shutdown closes the process-wide client and clears the slot, so a
// later Init constructs a fresh client. Buffered calls that were never
// replayed are discarded.
func Shutdown(ctx context.Context) (delivery.Result, error) {
	registry.mu.Lock()
	client := registry.active
	registry.active = nil
	registry.deferred = nil
	registry.dropped = 0
	registry.mu.Unlock()

	if client == nil {
		return delivery.Result{}, ErrNotInitialized
	}
	return client.Close(ctx), nil
}

// withActive runs apply on the active client, or buffers it for
// replay after Init.
func withActive(method string, apply func(*Client)) {
	registry.mu.Lock()
	client := registry.active
	if client == nil {
		if len(registry.deferred) < MaxDeferredCalls {
			registry.deferred = append(registry.deferred, deferredCall{method: method, apply: apply})
		} else {
			registry.dropped++
		}
		registry.mu.Unlock()
		return
	}
	registry.mu.Unlock()
	apply(client)
}

// Track records an event on the process-wide client.
func Track(kind event.Kind, name string, properties event.Properties) {
	properties = properties.Clone()
	withActive("track", func(client *Client) { client.Track(kind, name, properties) })
}

// TrackEvent records a custom event on the process-wide client.
func TrackEvent(name string, properties event.Properties) {
	Track(event.KindCustom, name, properties)
}

// Identify identifies the visitor through the process-wide client.
// With an active client it behaves like Client.Identify. Before Init
// the call is buffered and nil is returned; the replayed call logs its
// outcome instead.
func Identify(ctx context.Context, userID string, properties event.Properties) error {
	registry.mu.Lock()
	client := registry.active
	registry.mu.Unlock()
	if client != nil {
		return client.Identify(ctx, userID, properties)
	}

	properties = properties.Clone()
	withActive("identify", func(client *Client) {
		ctx, cancel := context.WithTimeout(context.Background(), deferredTimeout)
		defer cancel()
		if err := client.Identify(ctx, userID, properties); err != nil {
			client.logger.Warn("deferred identify failed", "user_id", userID, "error", err)
			return
		}
		client.logger.Debug("deferred identify delivered", "user_id", userID)
	})
	return nil
}

// SetConsent sets data collection on the process-wide client.
func SetConsent(ctx context.Context, granted bool) {
	registry.mu.Lock()
	client := registry.active
	registry.mu.Unlock()
	if client != nil {
		client.SetConsent(ctx, granted)
		return
	}
	withActive("set_consent", func(client *Client) {
		ctx, cancel := context.WithTimeout(context.Background(), deferredTimeout)
		defer cancel()
		client.SetConsent(ctx, granted)
	})
}

// FlushEvents flushes the process-wide client. Before Init the flush
// is buffered and an empty result returned.
func FlushEvents(ctx context.Context, unload bool) delivery.Result {
	registry.mu.Lock()
	client := registry.active
	registry.mu.Unlock()
	if client != nil {
		return client.Flush(ctx, unload)
	}
	withActive("flush", func(client *Client) {
		ctx, cancel := context.WithTimeout(context.Background(), deferredTimeout)
		defer cancel()
		result := client.Flush(ctx, unload)
		client.logger.Debug("deferred flush finished", "outcome", result.Outcome, "events", result.Events)
	})
	return delivery.Result{Outcome: delivery.OutcomeEmpty}
}
