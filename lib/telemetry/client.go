// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/identity"
	"github.com/bureau-foundation/beacon/lib/persist"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/transport/httptransport"
)

// Client tracks events and delivers them in batches. Safe for
// concurrent use.
type Client struct {
	config   Config
	logger   *slog.Logger
	clock    clock.Clock
	identity *identity.Resolver
	bridge   *persist.Bridge
	queue    *queue.Queue
	engine   *delivery.Engine

	collect atomic.Bool

	// background carries size- and timer-triggered flushes. Close
	// cancels it so their backoff waits end early.
	background       context.Context
	cancelBackground context.CancelFunc
	flushes          sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	timer      *clock.Timer
	timerEpoch uint64
	url        string
	referrer   string
	lastPath   string
}

// New validates cfg, restores any persisted queue, and returns a
// running Client.
//
// The persisted queue is restored only when cfg.CollectData is true.
// Otherwise it stays in the store until consent is granted.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.PersistentStore == nil {
		cfg.PersistentStore = storage.NewMemory()
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = storage.NewMemory()
	}

	if cfg.Transport == nil {
		transport, err := httptransport.New(httptransport.Config{
			BaseURL:   cfg.APIBaseURL,
			APIKey:    cfg.APIKey,
			UserAgent: cfg.UserAgent,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		cfg.Transport = transport
	}

	bridge, err := persist.NewBridge(persist.Config{
		Store:  cfg.PersistentStore,
		Key:    cfg.QueueKey,
		Format: cfg.PersistFormat,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	events := queue.New(bridge)
	engine, err := delivery.New(delivery.Config{
		Queue:      events,
		Transport:  cfg.Transport,
		Clock:      clk,
		Logger:     logger,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	background, cancel := context.WithCancel(context.Background())
	client := &Client{
		config:           cfg,
		logger:           logger,
		clock:            clk,
		identity:         identity.NewResolver(cfg.PersistentStore, cfg.SessionStore, logger),
		bridge:           bridge,
		queue:            events,
		engine:           engine,
		background:       background,
		cancelBackground: cancel,
	}
	client.collect.Store(cfg.CollectData)

	if cfg.CollectData {
		client.restore()
	}
	logger.Debug("telemetry client started",
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval,
		"max_retries", cfg.MaxRetries,
		"collect_data", cfg.CollectData,
		"restored", events.Len(),
	)
	return client, nil
}

// restore moves the persisted mirror into the queue and schedules
// whatever it brought back.
func (c *Client) restore() {
	restored := c.bridge.Restore()
	if len(restored) == 0 {
		return
	}
	c.queue.Restore(restored)
	c.logger.Info("restored undelivered events", "events", len(restored))
	c.schedule(c.queue.Len())
}

// TrackEvent records a custom event. Fire-and-forget.
func (c *Client) TrackEvent(name string, properties event.Properties) {
	c.Track(event.KindCustom, name, properties)
}

// Track records an event of the given kind. Properties are copied and
// enriched with timestamp, session_id, anonymous_id, and, when known,
// url, referrer, and user_agent. Producer-supplied values win for
// every key except timestamp.
//
// Nothing is recorded while data collection is off. Events tracked
// after Close are queued and persisted for the next client but not
// delivered by this one.
func (c *Client) Track(kind event.Kind, name string, properties event.Properties) {
	if !c.collect.Load() {
		c.logger.Debug("data collection disabled, dropping event", "kind", kind, "event", name)
		return
	}
	if name == "" {
		c.logger.Warn("ignoring event with empty name", "kind", kind)
		return
	}

	tracked := event.New(kind, name, c.enrich(properties), c.clock.Now())
	pending := c.queue.Enqueue(tracked)
	c.logger.Debug("event queued", "kind", kind, "event", name, "pending", pending)
	c.schedule(pending)
}

func (c *Client) enrich(properties event.Properties) event.Properties {
	enriched := properties.Clone()
	if enriched == nil {
		enriched = make(event.Properties, 6)
	}
	setDefault := func(key, value string) {
		if value == "" {
			return
		}
		if _, exists := enriched[key]; !exists {
			enriched[key] = event.String(value)
		}
	}

	c.mu.Lock()
	url, referrer := c.url, c.referrer
	c.mu.Unlock()

	setDefault(event.PropertySessionID, c.identity.SessionID())
	setDefault(event.PropertyAnonymousID, c.identity.AnonymousID())
	setDefault(event.PropertyURL, url)
	setDefault(event.PropertyReferrer, referrer)
	setDefault(event.PropertyUserAgent, c.config.UserAgent)
	return enriched
}

// schedule reacts to the queue holding pending events: a full batch
// (or a zero interval) flushes now, anything less re-arms the timer.
func (c *Client) schedule(pending int) {
	if pending >= c.config.BatchSize || c.config.FlushInterval == 0 {
		c.stopTimer()
		c.flushInBackground("batch_size")
		return
	}
	c.restartTimer()
}

// Identify associates the visitor's anonymous id with userID and
// sends the association immediately. It returns the delivery outcome:
// nil once the backend accepted it, otherwise the last error after
// retries. Returns ErrConsentDenied, without any network call, while
// data collection is off.
func (c *Client) Identify(ctx context.Context, userID string, properties event.Properties) error {
	if !c.collect.Load() {
		c.logger.Debug("data collection disabled, not identifying", "user_id", userID)
		return ErrConsentDenied
	}
	if userID == "" {
		return fmt.Errorf("telemetry: identify requires a user id")
	}
	payload := event.NewIdentify(c.identity.AnonymousID(), userID, properties, c.clock.Now())
	return c.engine.Identify(ctx, payload)
}

// SetConsent turns data collection on or off.
//
// Revoking stops new events at once, attempts one synchronous flush of
// what is already queued, then clears the queue and its persisted
// mirror and stops the timer. Granting resumes collection and
// restores any persisted events left by an earlier client.
func (c *Client) SetConsent(ctx context.Context, granted bool) {
	if !granted {
		if !c.collect.Swap(false) {
			return
		}
		c.logger.Info("data collection revoked")
		result := c.Flush(ctx, false)
		c.queue.Clear()
		c.bridge.Clear()
		c.stopTimer()
		if result.Outcome != delivery.OutcomeEmpty && result.Outcome != delivery.OutcomeDelivered {
			c.logger.Info("discarded undelivered events after consent revocation", "events", result.Events)
		}
		return
	}

	if c.collect.Swap(true) {
		return
	}
	c.logger.Info("data collection granted")
	c.restore()
}

// CollectingData reports the current consent state.
func (c *Client) CollectingData() bool {
	return c.collect.Load()
}

// Flush delivers everything queued as one batch and returns once the
// batch has settled. With unload set, a batch that exhausts its
// retries is dropped instead of requeued, and the timer is not
// re-armed.
func (c *Client) Flush(ctx context.Context, unload bool) delivery.Result {
	if c.queue.Len() == 0 {
		return delivery.Result{Outcome: delivery.OutcomeEmpty}
	}
	c.stopTimer()
	result := c.engine.Flush(ctx, unload)
	if !unload && c.queue.Len() > 0 {
		c.restartTimer()
	}
	return result
}

// OnVisibilityHidden is the hook for the host becoming hidden or
// backgrounded. It flushes immediately.
func (c *Client) OnVisibilityHidden(ctx context.Context) delivery.Result {
	return c.Flush(ctx, false)
}

// OnUnload is the hook for imminent host shutdown. It flushes with
// unload semantics.
func (c *Client) OnUnload(ctx context.Context) delivery.Result {
	return c.Flush(ctx, true)
}

// SetPage records the current location, stamped on later events as
// url and referrer.
func (c *Client) SetPage(url, referrer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url, c.referrer = url, referrer
}

// TrackPageView records a page_view for path unless path equals the
// last one recorded. Reports whether an event was tracked.
func (c *Client) TrackPageView(path string) bool {
	c.mu.Lock()
	if path == c.lastPath {
		c.mu.Unlock()
		return false
	}
	c.lastPath = path
	c.mu.Unlock()

	c.Track(event.KindPageView, string(event.KindPageView), event.Properties{"path": event.String(path)})
	return true
}

// AnonymousID returns the device's anonymous id.
func (c *Client) AnonymousID() string { return c.identity.AnonymousID() }

// SessionID returns this client's session id.
func (c *Client) SessionID() string { return c.identity.SessionID() }

// Pending returns the number of queued events not yet drained by a
// flush.
func (c *Client) Pending() int { return c.queue.Len() }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Wait blocks until all background flushes have finished.
func (c *Client) Wait() {
	c.flushes.Wait()
}

// Close stops the timer, cuts any background backoff short, waits for
// background flushes to settle, and then performs a final unload
// flush. Subsequent calls return an empty result.
func (c *Client) Close(ctx context.Context) delivery.Result {
	if !c.shutdown() {
		return delivery.Result{Outcome: delivery.OutcomeEmpty}
	}
	result := c.engine.Flush(ctx, true)
	c.logger.Debug("telemetry client closed", "outcome", result.Outcome, "events", result.Events)
	return result
}

// Stop is Close without the final flush. Whatever is still queued
// stays in the persistent store for the next client to restore.
func (c *Client) Stop() {
	if !c.shutdown() {
		return
	}
	if c.collect.Load() {
		c.queue.Sync()
	}
	c.logger.Debug("telemetry client stopped", "pending", c.queue.Len())
}

// shutdown marks the client closed and waits out background flushes.
// It reports false if the client was already closed.
func (c *Client) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancelBackground()
	c.flushes.Wait()
	return true
}

func (c *Client) flushInBackground(trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.flushes.Add(1)
	go func() {
		defer c.flushes.Done()
		result := c.Flush(c.background, false)
		c.logger.Debug("background flush finished",
			"trigger", trigger,
			"outcome", result.Outcome,
			"events", result.Events,
			"attempts", result.Attempts,
		)
	}()
}

func (c *Client) restartTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.collect.Load() || c.config.FlushInterval <= 0 {
		return
	}
	c.stopTimerLocked()
	epoch := c.timerEpoch
	c.timer = c.clock.AfterFunc(c.config.FlushInterval, func() { c.timerFired(epoch) })
}

func (c *Client) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

// stopTimerLocked cancels the pending timer. The epoch bump makes a
// callback that already started see itself as stale.
func (c *Client) stopTimerLocked() {
	c.timerEpoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) timerFired(epoch uint64) {
	c.mu.Lock()
	if epoch != c.timerEpoch {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	if c.queue.Len() == 0 {
		return
	}
	c.flushInBackground("timer")
}
