// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kafkatransport delivers events by producing them to Kafka
// topics, for deployments where an ingestion pipeline consumes the
// topic directly instead of exposing the HTTP API.
//
// Each event in a batch becomes one message on the events topic, keyed
// by the event's anonymous_id so a visitor's events stay ordered within
// a partition. Identify payloads go to the identify topic keyed by
// anonymous id. Every message carries authorization, content-type, and
// beacon-kind headers. The writer is synchronous: SendEvents returns
// only after the broker acknowledged the whole batch.
package kafkatransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
)

const (
	DefaultEventsTopic      = "beacon.events"
	DefaultIdentifyTopic    = "beacon.identify"
	DefaultKeepAliveTimeout = 10 * time.Second
)

// Config holds the parameters for New.
type Config struct {
	// Brokers lists bootstrap addresses ("host:port"). Required.
	Brokers []string

	EventsTopic   string // defaults to DefaultEventsTopic
	IdentifyTopic string // defaults to DefaultIdentifyTopic

	// APIKey is attached to every message. An empty key makes every
	// send fail with delivery.ErrConfiguration.
	APIKey string

	// Compression is one of none, gzip, snappy, lz4, zstd.
	Compression string

	// RequiredAcks is one of none, one, all. Defaults to one.
	RequiredAcks string

	// KeepAliveTimeout defaults to DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration

	Logger *slog.Logger
}

// messageWriter is the subset of *kafka.Writer the transport uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// Transport implements delivery.Transport over Kafka.
type Transport struct {
	events           messageWriter
	identify         messageWriter
	apiKey           string
	keepAliveTimeout time.Duration
	logger           *slog.Logger
}

var _ delivery.Transport = (*Transport)(nil)

// New validates cfg and builds one writer per topic. No connection is
// made until the first send.
func New(cfg Config) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkatransport: at least one broker is required")
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := parseAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}

	eventsTopic := cfg.EventsTopic
	if eventsTopic == "" {
		eventsTopic = DefaultEventsTopic
	}
	identifyTopic := cfg.IdentifyTopic
	if identifyTopic == "" {
		identifyTopic = DefaultIdentifyTopic
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 5 * time.Millisecond,
			RequiredAcks: acks,
			Compression:  compression,
			// The delivery engine owns retries and backoff.
			MaxAttempts: 1,
		}
	}
	return newTransport(newWriter(eventsTopic), newWriter(identifyTopic), cfg), nil
}

func newTransport(events, identify messageWriter, cfg Config) *Transport {
	transport := &Transport{
		events:           events,
		identify:         identify,
		apiKey:           cfg.APIKey,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		logger:           cfg.Logger,
	}
	if transport.keepAliveTimeout <= 0 {
		transport.keepAliveTimeout = DefaultKeepAliveTimeout
	}
	if transport.logger == nil {
		transport.logger = slog.New(slog.DiscardHandler)
	}
	return transport
}

// SendEvents produces one message per event.
func (t *Transport) SendEvents(ctx context.Context, events []event.Event, options delivery.SendOptions) error {
	if t.apiKey == "" {
		return fmt.Errorf("kafkatransport: API key is not configured: %w", delivery.ErrConfiguration)
	}
	if len(events) == 0 {
		return nil
	}
	messages, err := eventMessages(events, t.apiKey)
	if err != nil {
		return err
	}

	ctx, cancel := t.sendContext(ctx, options)
	defer cancel()
	if err := t.events.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("kafkatransport: producing %d events: %w", len(messages), err)
	}
	t.logger.Debug("events produced", "events", len(messages), "unload", options.Unload)
	return nil
}

// SendIdentify produces the payload to the identify topic.
func (t *Transport) SendIdentify(ctx context.Context, payload event.Identify, options delivery.SendOptions) error {
	if t.apiKey == "" {
		return fmt.Errorf("kafkatransport: API key is not configured: %w", delivery.ErrConfiguration)
	}
	message, err := identifyMessage(payload, t.apiKey)
	if err != nil {
		return err
	}

	ctx, cancel := t.sendContext(ctx, options)
	defer cancel()
	if err := t.identify.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("kafkatransport: producing identify for %q: %w", payload.UserID, err)
	}
	return nil
}

// Close flushes and closes both writers.
func (t *Transport) Close() error {
	eventsErr := t.events.Close()
	identifyErr := t.identify.Close()
	if eventsErr != nil {
		return fmt.Errorf("kafkatransport: closing events writer: %w", eventsErr)
	}
	if identifyErr != nil {
		return fmt.Errorf("kafkatransport: closing identify writer: %w", identifyErr)
	}
	return nil
}

func (t *Transport) sendContext(ctx context.Context, options delivery.SendOptions) (context.Context, context.CancelFunc) {
	if !options.KeepAlive {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), t.keepAliveTimeout)
}

func headers(apiKey string, kind event.Kind) []kafka.Header {
	return []kafka.Header{
		{Key: "authorization", Value: []byte("Bearer " + apiKey)},
		{Key: "content-type", Value: []byte("application/json")},
		{Key: "beacon-kind", Value: []byte(kind)},
	}
}

func eventMessages(events []event.Event, apiKey string) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("kafkatransport: encoding event %q: %w: %w", e.Name, delivery.ErrEncoding, err)
		}
		var key []byte
		if anonymousID, ok := e.Property(event.PropertyAnonymousID).Str(); ok {
			key = []byte(anonymousID)
		}
		messages = append(messages, kafka.Message{
			Key:     key,
			Value:   value,
			Headers: headers(apiKey, e.Kind),
		})
	}
	return messages, nil
}

func identifyMessage(payload event.Identify, apiKey string) (kafka.Message, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafkatransport: encoding identify: %w: %w", delivery.ErrEncoding, err)
	}
	return kafka.Message{
		Key:     []byte(payload.AnonymousID),
		Value:   value,
		Headers: headers(apiKey, event.KindIdentify),
	}, nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return kafka.Compression(0), nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafkatransport: unknown compression %q", name)
	}
}

func parseAcks(name string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(name) {
	case "", "one":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	case "all":
		return kafka.RequireAll, nil
	default:
		return 0, fmt.Errorf("kafkatransport: unknown required acks %q (want none, one, or all)", name)
	}
}
