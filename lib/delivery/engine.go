// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/queue"
)

var (
	// ErrConfiguration marks delivery failures that retrying cannot fix.
	ErrConfiguration = errors.New("delivery: configuration error")

	// ErrEncoding marks a batch the transport could not serialize.
	// Retrying cannot fix it and requeueing would wedge the queue
	// head, so the batch is dropped on every path.
	ErrEncoding = errors.New("delivery: batch cannot be encoded")
)

// SendOptions are per-request transport hints.
type SendOptions struct {
	// KeepAlive asks the transport to finish the request even if the
	// caller goes away: the analogue of fetch's keepalive flag.
	KeepAlive bool

	// Unload is set when the flush was triggered by host shutdown.
	Unload bool
}

// Transport sends events and identify payloads to the backend.
type Transport interface {
	SendEvents(ctx context.Context, events []event.Event, options SendOptions) error
	SendIdentify(ctx context.Context, payload event.Identify, options SendOptions) error
}

// Outcome describes how a flush settled.
type Outcome int

const (
	// OutcomeEmpty: nothing was pending.
	OutcomeEmpty Outcome = iota
	// OutcomeDelivered: the batch was accepted.
	OutcomeDelivered
	// OutcomeRequeued: attempts failed and the batch is back at the
	// head of the queue.
	OutcomeRequeued
	// OutcomeDropped: attempts failed on an unload flush, or the
	// batch could not be encoded, and the batch was discarded.
	OutcomeDropped
	// OutcomeDiscarded: attempts failed but the batch had already
	// been cleared from the queue (consent was revoked mid-flight).
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports one flush.
type Result struct {
	Outcome  Outcome
	Events   int
	Attempts int
	// Err is the last attempt's error. Nil unless the batch failed.
	Err error
}

// Config holds the parameters for New. Queue and Transport are
// required.
type Config struct {
	Queue      *queue.Queue
	Transport  Transport
	Clock      clock.Clock // defaults to clock.Real()
	Logger     *slog.Logger
	MaxRetries int
	RetryDelay time.Duration
}

// Engine performs flushes against one queue.
type Engine struct {
	queue      *queue.Queue
	transport  Transport
	clock      clock.Clock
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("delivery: Queue is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("delivery: Transport is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("delivery: MaxRetries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("delivery: RetryDelay must be >= 0, got %v", cfg.RetryDelay)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		queue:      cfg.Queue,
		transport:  cfg.Transport,
		clock:      clk,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Flush drains the queue and delivers it as one batch. The returned
// Result always describes a settled batch: by the time Flush returns,
// the batch has been completed, requeued, or dropped.
//
// Cancelling ctx cuts a backoff wait short and settles the batch as if
// retries were exhausted. Requests already on the wire run to
// completion under the transport's keep-alive handling.
func (e *Engine) Flush(ctx context.Context, unload bool) Result {
	batch := e.queue.DrainAll()
	if batch == nil {
		return Result{Outcome: OutcomeEmpty}
	}

	options := SendOptions{KeepAlive: true, Unload: unload}
	attempts, err := e.attempt(ctx, "events", batch.Len(), func(ctx context.Context) error {
		return e.transport.SendEvents(ctx, batch.Events, options)
	})
	result := Result{Events: batch.Len(), Attempts: attempts, Err: err}

	switch {
	case err == nil:
		e.queue.Complete(batch)
		result.Outcome = OutcomeDelivered
		e.logger.Debug("batch delivered", "events", batch.Len(), "attempts", attempts)
	case errors.Is(err, ErrEncoding):
		e.queue.Complete(batch)
		result.Outcome = OutcomeDropped
		e.logger.Error("dropping batch that cannot be encoded",
			"events", batch.Len(),
			"error", err,
		)
	case unload:
		e.queue.Complete(batch)
		result.Outcome = OutcomeDropped
		e.logger.Warn("dropping batch after failed unload flush",
			"events", batch.Len(),
			"attempts", attempts,
			"error", err,
		)
	case e.queue.RequeueFront(batch):
		result.Outcome = OutcomeRequeued
		e.logger.Warn("batch delivery failed, requeued for next flush",
			"events", batch.Len(),
			"attempts", attempts,
			"error", err,
		)
	default:
		result.Outcome = OutcomeDiscarded
		e.logger.Debug("failed batch was cleared during delivery", "events", batch.Len(), "error", err)
	}
	return result
}

// Identify sends payload immediately, retrying like a flush, and
// returns the final error. Nothing is queued or persisted.
func (e *Engine) Identify(ctx context.Context, payload event.Identify) error {
	options := SendOptions{KeepAlive: true}
	_, err := e.attempt(ctx, "identify", 1, func(ctx context.Context) error {
		return e.transport.SendIdentify(ctx, payload, options)
	})
	if err != nil {
		return fmt.Errorf("delivery: identify %q: %w", payload.UserID, err)
	}
	return nil
}

// attempt calls send until it succeeds, fails terminally, or has
// failed 1+maxRetries times. Returns the attempt count and the last
// error.
func (e *Engine) attempt(ctx context.Context, surface string, size int, send func(context.Context) error) (int, error) {
	for retry := 0; ; retry++ {
		err := send(ctx)
		if err == nil {
			return retry + 1, nil
		}
		if errors.Is(err, ErrConfiguration) {
			e.logger.Error("delivery rejected by configuration", "surface", surface, "error", err)
			return retry + 1, err
		}
		if errors.Is(err, ErrEncoding) {
			return retry + 1, err
		}
		if retry >= e.maxRetries {
			return retry + 1, err
		}

		wait := Backoff(e.retryDelay, retry)
		e.logger.Warn("delivery failed, will retry",
			"surface", surface,
			"events", size,
			"retry", retry+1,
			"max_retries", e.maxRetries,
			"backoff", wait,
			"error", err,
		)
		select {
		case <-e.clock.After(wait):
		case <-ctx.Done():
			return retry + 1, errors.Join(err, ctx.Err())
		}
	}
}

// Backoff returns base * 2^retry, saturating instead of overflowing.
func Backoff(base time.Duration, retry int) time.Duration {
	if base <= 0 || retry < 0 {
		return base
	}
	if retry >= 62 || base > time.Duration(math.MaxInt64>>uint(retry)) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(retry)
}
