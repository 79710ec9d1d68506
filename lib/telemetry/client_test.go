// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/delivery/deliverytest"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/persist"
	"github.com/bureau-foundation/beacon/lib/storage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errTransient = errors.New("connection refused")

type harness struct {
	client    *Client
	transport *deliverytest.Recorder
	clock     *clock.FakeClock
	store     *storage.Memory
}

// testConfig returns a configuration driven by a fake clock and a
// recording transport. The flush interval is long enough that the
// timer never interferes unless a test advances past it.
func testConfig(transport delivery.Transport, clk clock.Clock, store storage.Store) Config {
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.FlushInterval = time.Minute
	cfg.Transport = transport
	cfg.Clock = clk
	cfg.PersistentStore = store
	return cfg
}

// newHarness builds a client whose transport replays script (see
// deliverytest.Recorder).
func newHarness(t *testing.T, mutate func(*Config), script ...error) *harness {
	t.Helper()
	h := &harness{
		transport: deliverytest.NewRecorder(script...),
		clock:     clock.Fake(epoch),
		store:     storage.NewMemory(),
	}
	cfg := testConfig(h.transport, h.clock, h.store)
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.client = client
	t.Cleanup(func() {
		closed, cancel := context.WithCancel(context.Background())
		cancel()
		client.Close(closed)
	})
	return h
}

func (h *harness) lastCall(t *testing.T) deliverytest.Call {
	t.Helper()
	calls := h.transport.Calls()
	if len(calls) == 0 {
		t.Fatal("no transport calls")
	}
	return calls[len(calls)-1]
}

// persisted decodes the queue mirror currently in the store.
func (h *harness) persisted(t *testing.T) []string {
	t.Helper()
	bridge, err := persist.NewBridge(persist.Config{Store: h.store})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	events, err := bridge.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	names := make([]string, len(events))
	for index, e := range events {
		names[index] = e.Name
	}
	return names
}

func seedQueue(t *testing.T, store storage.Store, names ...string) {
	t.Helper()
	bridge, err := persist.NewBridge(persist.Config{Store: store})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	events := make([]event.Event, len(names))
	for index, name := range names {
		events[index] = event.New(event.KindCustom, name, nil, epoch)
	}
	bridge.Persist(events)
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := New(cfg); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("New without key: %v, want ErrMissingAPIKey", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"batch size":     func(c *Config) { c.BatchSize = 0 },
		"flush interval": func(c *Config) { c.FlushInterval = -time.Second },
		"max retries":    func(c *Config) { c.MaxRetries = -1 },
		"retry delay":    func(c *Config) { c.RetryDelay = -time.Second },
		"base url":       func(c *Config) { c.Transport = nil; c.APIBaseURL = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(deliverytest.NewRecorder(), clock.Fake(epoch), nil)
			mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("New accepted invalid config")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.APIBaseURL != DefaultAPIBaseURL || cfg.BatchSize != 10 || cfg.FlushInterval != 5*time.Second ||
		cfg.MaxRetries != 3 || cfg.RetryDelay != time.Second || !cfg.CollectData || cfg.Debug {
		t.Fatalf("DefaultConfig = %+v", cfg)
	}
}

func TestDebugInstallsVerboseLogger(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger is not a discard logger")
	}
	cfg.Debug = true
	if !cfg.logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Debug logger does not log at debug level")
	}
}

func TestBatchSizeTriggersOneFlush(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BatchSize = 2 })

	h.client.TrackEvent("A", nil)
	h.transport.AssertNoPendingCall(t)
	h.client.TrackEvent("B", nil)

	h.transport.WaitForCalls(t, 1)
	h.client.Wait()

	if h.transport.CallCount() != 1 {
		t.Fatalf("transport calls = %d, want 1", h.transport.CallCount())
	}
	if got := fmt.Sprint(h.lastCall(t).Names()); got != "[A B]" {
		t.Fatalf("batch = %s, want [A B]", got)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("Pending = %d after batch flush", h.client.Pending())
	}
	if h.clock.PendingCount() != 0 {
		t.Fatal("flush timer left armed with an empty queue")
	}
}

func TestTimerFlushesAfterInterval(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FlushInterval = time.Second })

	h.client.TrackEvent("X", nil)
	if h.clock.PendingCount() != 1 {
		t.Fatalf("timers armed = %d, want 1", h.clock.PendingCount())
	}

	h.clock.Advance(999 * time.Millisecond)
	h.transport.AssertNoPendingCall(t)

	h.clock.Advance(time.Millisecond)
	h.transport.WaitForCalls(t, 1)
	h.client.Wait()

	if got := fmt.Sprint(h.lastCall(t).Names()); got != "[X]" {
		t.Fatalf("batch = %s, want [X]", got)
	}
}

func TestTimerRestartsOnEachEnqueue(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FlushInterval = time.Second })

	h.client.TrackEvent("X", nil)
	h.clock.Advance(600 * time.Millisecond)
	h.client.TrackEvent("Y", nil)
	if h.clock.PendingCount() != 1 {
		t.Fatalf("timers armed = %d, want 1 after restart", h.clock.PendingCount())
	}

	// The first timer would have fired here.
	h.clock.Advance(500 * time.Millisecond)
	h.transport.AssertNoPendingCall(t)

	h.clock.Advance(500 * time.Millisecond)
	h.transport.WaitForCalls(t, 1)
	h.client.Wait()
	if got := fmt.Sprint(h.lastCall(t).Names()); got != "[X Y]" {
		t.Fatalf("batch = %s, want [X Y]", got)
	}
}

func TestZeroIntervalFlushesEveryEnqueue(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FlushInterval = 0 })
	h.client.TrackEvent("A", nil)
	h.transport.WaitForCalls(t, 1)
	h.client.Wait()
	if h.clock.PendingCount() != 0 {
		t.Fatal("zero interval armed a timer")
	}
}

func TestFlushRetriesWithBackoff(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RetryDelay = time.Second }, errTransient, nil)

	h.client.TrackEvent("A", nil)
	results := make(chan delivery.Result, 1)
	go func() { results <- h.client.Flush(context.Background(), false) }()

	h.transport.WaitForCalls(t, 1)
	h.clock.WaitForTimers(1)
	h.clock.Advance(999 * time.Millisecond)
	h.transport.AssertNoPendingCall(t)
	h.clock.Advance(time.Millisecond)
	h.transport.WaitForCalls(t, 1)

	result := <-results
	if result.Outcome != delivery.OutcomeDelivered || result.Attempts != 2 {
		t.Fatalf("Result = %+v", result)
	}
	if h.client.Pending() != 0 || len(h.persisted(t)) != 0 {
		t.Fatal("events left after successful retry")
	}
}

func exhaustFlush(t *testing.T, h *harness, flush func(context.Context) delivery.Result) delivery.Result {
	t.Helper()
	results := make(chan delivery.Result, 1)
	go func() { results <- flush(context.Background()) }()
	h.transport.WaitForCalls(t, 1)
	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
	h.transport.WaitForCalls(t, 1)
	return <-results
}

func TestUnloadFlushDropsAfterRetries(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetries = 1 })
	h.transport.Fail = errTransient
	h.client.TrackEvent("A", nil)
	h.client.TrackEvent("B", nil)

	result := exhaustFlush(t, h, h.client.OnUnload)
	if result.Outcome != delivery.OutcomeDropped {
		t.Fatalf("Outcome = %v, want dropped", result.Outcome)
	}
	if h.client.Pending() != 0 || len(h.persisted(t)) != 0 {
		t.Fatal("dropped events remain queued or persisted")
	}
	if h.clock.PendingCount() != 0 {
		t.Fatal("unload flush re-armed the timer")
	}
	if !h.lastCall(t).Options.Unload {
		t.Fatal("unload hint not passed to transport")
	}
}

func TestNormalFlushRequeuesAfterRetries(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetries = 1 })
	h.transport.Fail = errTransient
	h.client.TrackEvent("A", nil)
	h.client.TrackEvent("B", nil)

	result := exhaustFlush(t, h, h.client.OnVisibilityHidden)
	if result.Outcome != delivery.OutcomeRequeued {
		t.Fatalf("Outcome = %v, want requeued", result.Outcome)
	}
	if h.client.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", h.client.Pending())
	}
	if got := fmt.Sprint(h.persisted(t)); got != "[A B]" {
		t.Fatalf("persisted = %s, want [A B]", got)
	}
	if h.clock.PendingCount() != 1 {
		t.Fatal("timer not re-armed after requeue")
	}
}

func TestRequeuedBatchStaysAheadOfNewEvents(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetries = 0 })
	for _, name := range []string{"A", "B", "C"} {
		h.client.TrackEvent(name, nil)
	}

	h.transport.Fail = errTransient
	if result := h.client.Flush(context.Background(), false); result.Outcome != delivery.OutcomeRequeued {
		t.Fatalf("first flush = %+v", result)
	}
	h.client.TrackEvent("D", nil)

	h.transport.Fail = nil
	if result := h.client.Flush(context.Background(), false); result.Outcome != delivery.OutcomeDelivered {
		t.Fatalf("second flush = %+v", result)
	}
	calls := h.transport.Calls()
	if got := fmt.Sprint(calls[0].Names()); got != "[A B C]" {
		t.Fatalf("first batch = %s", got)
	}
	if got := fmt.Sprint(calls[1].Names()); got != "[A B C D]" {
		t.Fatalf("second batch = %s, want [A B C D]", got)
	}
}

func TestConsentOffSuppressesEverything(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CollectData = false })

	h.client.TrackEvent("A", nil)
	if err := h.client.Identify(context.Background(), "user-1", nil); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("Identify = %v, want ErrConsentDenied", err)
	}
	if h.transport.CallCount() != 0 {
		t.Fatal("network call with consent off")
	}
	if h.client.Pending() != 0 {
		t.Fatal("event queued with consent off")
	}
}

func TestRestoreOnConstruction(t *testing.T) {
	store := storage.NewMemory()
	seedQueue(t, store, "A", "B", "C")

	h := newHarness(t, func(c *Config) { c.PersistentStore = store })
	h.store = store

	if h.client.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", h.client.Pending())
	}
	if _, err := store.Get(persist.DefaultKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("persisted key after restore: %v, want ErrNotFound", err)
	}
	if h.clock.PendingCount() != 1 {
		t.Fatal("restored events did not arm the timer")
	}

	h.client.TrackEvent("D", nil)
	if got := fmt.Sprint(h.persisted(t)); got != "[A B C D]" {
		t.Fatalf("persisted after next enqueue = %s", got)
	}
}

func TestRestoreFullBatchFlushesImmediately(t *testing.T) {
	store := storage.NewMemory()
	seedQueue(t, store, "A", "B")
	h := newHarness(t, func(c *Config) {
		c.PersistentStore = store
		c.BatchSize = 2
	})
	h.transport.WaitForCalls(t, 1)
	h.client.Wait()
	if got := fmt.Sprint(h.lastCall(t).Names()); got != "[A B]" {
		t.Fatalf("batch = %s", got)
	}
}

func TestIdentityStableAcrossClients(t *testing.T) {
	h := newHarness(t, nil)
	first := h.client.AnonymousID()
	if first == "" || h.client.AnonymousID() != first {
		t.Fatal("anonymous id not stable within a client")
	}

	reloaded := newHarness(t, func(c *Config) { c.PersistentStore = h.store })
	if reloaded.client.AnonymousID() != first {
		t.Fatalf("anonymous id after reload = %q, want %q", reloaded.client.AnonymousID(), first)
	}
	if reloaded.client.SessionID() == h.client.SessionID() {
		t.Fatal("new client reused the previous session id")
	}
}

func TestTrackEnrichesProperties(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UserAgent = "beacon-test/1.0" })
	h.client.SetPage("https://shop.example/cart", "https://search.example/")
	h.client.TrackEvent("checkout", event.Properties{
		"plan":                  event.String("pro"),
		event.PropertyReferrer:  event.String("campaign"),
		event.PropertyTimestamp: event.String("forged"),
	})
	h.client.Flush(context.Background(), false)

	tracked := h.lastCall(t).Events[0]
	want := map[string]string{
		"plan":                    "pro",
		event.PropertyURL:         "https://shop.example/cart",
		event.PropertyReferrer:    "campaign",
		event.PropertyUserAgent:   "beacon-test/1.0",
		event.PropertySessionID:   h.client.SessionID(),
		event.PropertyAnonymousID: h.client.AnonymousID(),
		event.PropertyTimestamp:   event.FormatTimestamp(epoch),
	}
	for key, value := range want {
		if got, _ := tracked.Property(key).Str(); got != value {
			t.Errorf("property %s = %q, want %q", key, got, value)
		}
	}
	if tracked.Kind != event.KindCustom || tracked.Name != "checkout" {
		t.Fatalf("event = %s/%s", tracked.Kind, tracked.Name)
	}
}

func TestNonFinitePropertyDoesNotBlockDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		posts    int
		received []event.Event
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []event.Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		posts++
		received = append(received, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	h := newHarness(t, func(c *Config) {
		c.Transport = nil
		c.APIBaseURL = server.URL
	})
	h.client.TrackEvent("good-1", nil)
	h.client.TrackEvent("poison", event.Properties{
		"v":      event.Number(math.NaN()),
		"nested": event.Map(event.Properties{"limit": event.Number(math.Inf(1))}),
	})
	h.client.TrackEvent("good-2", nil)

	if got := fmt.Sprint(h.persisted(t)); got != "[good-1 poison good-2]" {
		t.Fatalf("mirror = %s, want all three events", got)
	}

	result := h.client.Flush(context.Background(), false)
	if result.Outcome != delivery.OutcomeDelivered || result.Events != 3 {
		t.Fatalf("Flush = %+v, want 3 delivered", result)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("Pending = %d after delivery", h.client.Pending())
	}

	mu.Lock()
	defer mu.Unlock()
	if posts != 1 || len(received) != 3 {
		t.Fatalf("server saw %d posts with %d events, want 1 with 3", posts, len(received))
	}
	if value := received[1].Property("v"); !value.IsNull() {
		t.Fatalf("poison v = %#v, want null", value)
	}
}

func TestTrackPageViewDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	if !h.client.TrackPageView("/a") {
		t.Fatal("first page view not tracked")
	}
	if h.client.TrackPageView("/a") {
		t.Fatal("repeated path tracked")
	}
	if !h.client.TrackPageView("/b") || !h.client.TrackPageView("/a") {
		t.Fatal("changed path not tracked")
	}
	h.client.Flush(context.Background(), false)

	events := h.lastCall(t).Events
	if len(events) != 3 {
		t.Fatalf("page views = %d, want 3", len(events))
	}
	for _, e := range events {
		if e.Kind != event.KindPageView {
			t.Fatalf("kind = %q, want page_view", e.Kind)
		}
	}
	if path, _ := events[1].Property("path").Str(); path != "/b" {
		t.Fatalf("second path = %q", path)
	}
}

func TestIdentifySendsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	err := h.client.Identify(context.Background(), "user-1", event.Properties{"email": event.String("a@b.c")})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	call := h.lastCall(t)
	if call.Identify == nil {
		t.Fatal("identify not sent through the identify surface")
	}
	if call.Identify.UserID != "user-1" || call.Identify.AnonymousID != h.client.AnonymousID() {
		t.Fatalf("identify payload = %+v", call.Identify)
	}
	if h.client.Pending() != 0 {
		t.Fatal("identify went through the queue")
	}

	if err := h.client.Identify(context.Background(), "", nil); err == nil {
		t.Fatal("Identify accepted empty user id")
	}
}

func TestIdentifyPropagatesFailure(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetries = 0 })
	h.transport.Fail = errTransient
	if err := h.client.Identify(context.Background(), "user-1", nil); !errors.Is(err, errTransient) {
		t.Fatalf("Identify = %v, want %v", err, errTransient)
	}
}

func TestRevokeConsentFlushesThenClears(t *testing.T) {
	h := newHarness(t, nil)
	h.client.TrackEvent("A", nil)

	h.client.SetConsent(context.Background(), false)

	if got := fmt.Sprint(h.lastCall(t).Names()); got != "[A]" {
		t.Fatalf("revocation flush = %s, want [A]", got)
	}
	if h.client.CollectingData() {
		t.Fatal("still collecting after revocation")
	}
	h.client.TrackEvent("B", nil)
	if h.client.Pending() != 0 || h.clock.PendingCount() != 0 {
		t.Fatal("events or timers active after revocation")
	}
}

func TestRevokeConsentDiscardsUndeliverable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetries = 0 })
	h.transport.Fail = errTransient
	h.client.TrackEvent("A", nil)

	h.client.SetConsent(context.Background(), false)

	if h.client.Pending() != 0 {
		t.Fatalf("Pending = %d after revocation", h.client.Pending())
	}
	if _, err := h.store.Get(persist.DefaultKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("mirror after revocation: %v, want ErrNotFound", err)
	}
}

func TestGrantConsentRestoresPersisted(t *testing.T) {
	store := storage.NewMemory()
	seedQueue(t, store, "A", "B")
	h := newHarness(t, func(c *Config) {
		c.PersistentStore = store
		c.CollectData = false
	})
	if h.client.Pending() != 0 {
		t.Fatal("restored while consent was off")
	}

	h.client.SetConsent(context.Background(), true)
	if h.client.Pending() != 2 {
		t.Fatalf("Pending = %d after grant, want 2", h.client.Pending())
	}
	if h.clock.PendingCount() != 1 {
		t.Fatal("grant did not arm the timer")
	}
	h.client.TrackEvent("C", nil)
	if h.client.Pending() != 3 {
		t.Fatal("tracking not resumed after grant")
	}
}

func TestCloseFlushesWithUnload(t *testing.T) {
	h := newHarness(t, nil)
	h.client.TrackEvent("A", nil)

	result := h.client.Close(context.Background())
	if result.Outcome != delivery.OutcomeDelivered {
		t.Fatalf("Close result = %+v", result)
	}
	if !h.lastCall(t).Options.Unload {
		t.Fatal("final flush not marked as unload")
	}
	if again := h.client.Close(context.Background()); again.Outcome != delivery.OutcomeEmpty {
		t.Fatalf("second Close = %+v", again)
	}

	h.client.TrackEvent("late", nil)
	if h.client.Pending() != 1 || h.clock.PendingCount() != 0 {
		t.Fatal("event after Close should be queued without a timer")
	}
	if got := fmt.Sprint(h.persisted(t)); got != "[late]" {
		t.Fatalf("persisted after Close = %s", got)
	}
}

func TestCloseCutsBackgroundBackoffShort(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.BatchSize = 1
		c.MaxRetries = 3
	})
	h.transport.Fail = errTransient
	h.client.TrackEvent("A", nil)
	h.transport.WaitForCalls(t, 1)
	h.clock.WaitForTimers(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := h.client.Close(ctx)

	if result.Outcome != delivery.OutcomeDropped || result.Attempts != 1 {
		t.Fatalf("Close result = %+v, want one dropped attempt", result)
	}
	if h.transport.CallCount() != 2 {
		t.Fatalf("transport calls = %d, want 2", h.transport.CallCount())
	}
}

func TestStopLeavesQueuePersisted(t *testing.T) {
	h := newHarness(t, nil)
	h.client.TrackEvent("A", nil)
	h.client.TrackEvent("B", nil)

	h.client.Stop()

	if h.transport.CallCount() != 0 {
		t.Fatalf("Stop sent %d batches, want none", h.transport.CallCount())
	}
	if h.clock.PendingCount() != 0 {
		t.Fatal("timer still armed after Stop")
	}
	if got := fmt.Sprint(h.persisted(t)); got != "[A B]" {
		t.Fatalf("persisted after Stop = %s, want [A B]", got)
	}
	if result := h.client.Close(context.Background()); result.Outcome != delivery.OutcomeEmpty {
		t.Fatalf("Close after Stop = %+v, want empty", result)
	}

	next, err := New(testConfig(deliverytest.NewRecorder(), h.clock, h.store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer next.Stop()
	if next.Pending() != 2 {
		t.Fatalf("restored %d events, want 2", next.Pending())
	}
}

func TestStopWritesBackRestoredQueue(t *testing.T) {
	store := storage.NewMemory()
	seedQueue(t, store, "old-1", "old-2")

	h := newHarness(t, func(c *Config) { c.PersistentStore = store })
	h.store = store
	if got := fmt.Sprint(h.persisted(t)); got != "[]" {
		t.Fatalf("persisted after restore = %s, want []", got)
	}

	h.client.Stop()
	if got := fmt.Sprint(h.persisted(t)); got != "[old-1 old-2]" {
		t.Fatalf("persisted after Stop = %s, want [old-1 old-2]", got)
	}
}
