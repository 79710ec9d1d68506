// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mqtttransport delivers events by publishing them to an MQTT
// broker.
//
// A batch is published as one JSON array to "<prefix>/events"; an
// identify payload to "<prefix>/identify". MQTT 3.1.1 has no message
// headers, so the API key travels as the connection password. Each
// publish waits for the broker's acknowledgement (at QoS 1 or 2), bounded
// by the caller's context or, for keep-alive sends, by the keep-alive
// timeout.
package mqtttransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
)

const (
	DefaultTopicPrefix      = "beacon"
	DefaultQoS              = 1
	DefaultKeepAliveTimeout = 10 * time.Second

	// Username is sent with the API key as password when Config.Username
	// is empty.
	Username = "beacon"
)

// Config holds the parameters for New.
type Config struct {
	// BrokerURL is e.g. "tcp://localhost:1883". Required.
	BrokerURL string

	// ClientID may be empty; the session is clean, so the broker
	// assigns one.
	ClientID string

	// TopicPrefix defaults to DefaultTopicPrefix.
	TopicPrefix string

	// QoS is 0, 1, or 2. Defaults to DefaultQoS.
	QoS *byte

	// APIKey is the connection password. An empty key makes every send
	// fail with delivery.ErrConfiguration.
	APIKey string

	// Username defaults to the Username constant.
	Username string

	KeepAliveTimeout time.Duration
	Logger           *slog.Logger
}

// publisher is the subset of mqtt.Client the transport uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Transport implements delivery.Transport over MQTT.
type Transport struct {
	client           mqtt.Client
	publisher        publisher
	eventsTopic      string
	identifyTopic    string
	qos              byte
	apiKey           string
	keepAliveTimeout time.Duration
	logger           *slog.Logger
}

var _ delivery.Transport = (*Transport)(nil)

// New validates cfg and builds a client. Call Connect before sending.
func New(cfg Config) (*Transport, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtttransport: BrokerURL is required")
	}
	transport, err := newTransport(nil, cfg)
	if err != nil {
		return nil, err
	}

	username := cfg.Username
	if username == "" {
		username = Username
	}
	options := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(username).
		SetPassword(cfg.APIKey).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	logger := transport.logger
	options.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.BrokerURL)
	}
	options.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.BrokerURL, "error", err)
	}

	transport.client = mqtt.NewClient(options)
	transport.publisher = transport.client
	return transport, nil
}

func newTransport(publisher publisher, cfg Config) (*Transport, error) {
	qos := byte(DefaultQoS)
	if cfg.QoS != nil {
		qos = *cfg.QoS
	}
	if qos > 2 {
		return nil, fmt.Errorf("mqtttransport: QoS must be 0, 1, or 2, got %d", qos)
	}
	prefix := strings.TrimRight(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if strings.ContainsAny(prefix, "+#") {
		return nil, fmt.Errorf("mqtttransport: topic prefix %q contains a wildcard", prefix)
	}

	transport := &Transport{
		publisher:        publisher,
		eventsTopic:      prefix + "/events",
		identifyTopic:    prefix + "/identify",
		qos:              qos,
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
	return transport, nil
}

// Connect dials the broker, waiting at most until ctx is done.
func (t *Transport) Connect(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	if err := wait(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("mqtttransport: connecting: %w", err)
	}
	return nil
}

// Close disconnects, giving in-flight publishes a short grace period.
func (t *Transport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

// SendEvents publishes the batch as one JSON array.
func (t *Transport) SendEvents(ctx context.Context, events []event.Event, options delivery.SendOptions) error {
	if events == nil {
		events = []event.Event{}
	}
	return t.publish(ctx, t.eventsTopic, events, options)
}

// SendIdentify publishes one identify payload.
func (t *Transport) SendIdentify(ctx context.Context, payload event.Identify, options delivery.SendOptions) error {
	return t.publish(ctx, t.identifyTopic, payload, options)
}

func (t *Transport) publish(ctx context.Context, topic string, body any, options delivery.SendOptions) error {
	if t.apiKey == "" {
		return fmt.Errorf("mqtttransport: publish %s: API key is not configured: %w", topic, delivery.ErrConfiguration)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mqtttransport: encoding %s payload: %w: %w", topic, delivery.ErrEncoding, err)
	}

	if options.KeepAlive {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), t.keepAliveTimeout)
		defer cancel()
	}

	if err := wait(ctx, t.publisher.Publish(topic, t.qos, false, payload)); err != nil {
		return fmt.Errorf("mqtttransport: publish %s: %w", topic, err)
	}
	t.logger.Debug("published", "topic", topic, "bytes", len(payload), "unload", options.Unload)
	return nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
