// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/persist"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/telemetry"
	"github.com/bureau-foundation/beacon/lib/transport/httptransport"
	"github.com/bureau-foundation/beacon/lib/transport/kafkatransport"
	"github.com/bureau-foundation/beacon/lib/transport/mqtttransport"
	"github.com/bureau-foundation/beacon/lib/version"
)

// sessionFlags are the flags shared by every command that opens the
// persistent state. Non-empty values override the config file.
type sessionFlags struct {
	configPath  string
	stateDir    string
	sqlitePath  string
	transport   string
	compression string
	apiKey      string
	apiBaseURL  string
	debug       bool
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "config file (default $"+config.EnvVar+")")
	flagSet.StringVar(&f.stateDir, "state-dir", "", "directory holding the persisted queue and anonymous id")
	flagSet.StringVar(&f.sqlitePath, "sqlite", "", "keep persistent state in this SQLite database instead of --state-dir")
	flagSet.StringVar(&f.transport, "transport", "", "delivery transport: http, kafka, or mqtt")
	flagSet.StringVar(&f.compression, "compression", "", "request compression for the selected transport")
	flagSet.StringVar(&f.apiKey, "api-key", "", "API key")
	flagSet.StringVar(&f.apiBaseURL, "api-base-url", "", "ingestion API root for the http transport")
	flagSet.BoolVar(&f.debug, "debug", false, "verbose logging")
}

// load resolves the configuration: the --config file, else the
// BEACON_CONFIG file, else the defaults. Flags are applied last.
func (f *sessionFlags) load() (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = os.Getenv(config.EnvVar)
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.ExpandVariables()
	}

	if f.stateDir != "" {
		cfg.State.Dir = f.stateDir
		cfg.State.SQLite = ""
	}
	if f.sqlitePath != "" {
		cfg.State.SQLite = f.sqlitePath
	}
	if f.transport != "" {
		cfg.Transport.Kind = f.transport
	}
	if f.compression != "" {
		cfg.Transport.Compression = f.compression
	}
	if f.apiKey != "" {
		cfg.APIKey = f.apiKey
	}
	if f.apiBaseURL != "" {
		cfg.APIBaseURL = f.apiBaseURL
	}
	if f.debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the persistent store named by cfg.State.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	if err := cfg.EnsureStateDir(); err != nil {
		return nil, nil, err
	}
	if cfg.State.SQLite != "" {
		store, err := storage.OpenSQLite(cfg.State.SQLite, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", cfg.State.SQLite, err)
		}
		return store, store.Close, nil
	}
	store, err := storage.OpenFile(cfg.State.Dir)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return nil, nil, fmt.Errorf("state directory %s is in use by another beacon process", cfg.State.Dir)
		}
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openTransport builds the transport selected by cfg.Transport.Kind.
// The returned closer may be nil.
func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (delivery.Transport, func() error, error) {
	switch cfg.Transport.Kind {
	case config.TransportHTTP:
		compression, err := httptransport.ParseCompression(cfg.Transport.Compression)
		if err != nil {
			return nil, nil, err
		}
		transport, err := httptransport.New(httptransport.Config{
			BaseURL:     cfg.APIBaseURL,
			APIKey:      cfg.APIKey,
			Compression: compression,
			UserAgent:   userAgent(cfg),
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return transport, nil, nil

	case config.TransportKafka:
		transport, err := kafkatransport.New(kafkatransport.Config{
			Brokers:       cfg.Transport.Kafka.Brokers,
			EventsTopic:   cfg.Transport.Kafka.EventsTopic,
			IdentifyTopic: cfg.Transport.Kafka.IdentifyTopic,
			APIKey:        cfg.APIKey,
			Compression:   cfg.Transport.Compression,
			RequiredAcks:  cfg.Transport.Kafka.RequiredAcks,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return transport, transport.Close, nil

	case config.TransportMQTT:
		transport, err := mqtttransport.New(mqtttransport.Config{
			BrokerURL:   cfg.Transport.MQTT.BrokerURL,
			ClientID:    cfg.Transport.MQTT.ClientID,
			TopicPrefix: cfg.Transport.MQTT.TopicPrefix,
			QoS:         cfg.MQTTQoS(),
			APIKey:      cfg.APIKey,
			Username:    cfg.Transport.MQTT.Username,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := transport.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return transport, transport.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func userAgent(cfg *config.Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return version.UserAgent()
}

// session is an open telemetry client plus the resources behind it.
type session struct {
	client  *telemetry.Client
	closers []func() error
	logger  *slog.Logger
}

func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	s := &session{logger: logger}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStore)

	transport, closeTransport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		s.release()
		return nil, err
	}
	if closeTransport != nil {
		s.closers = append(s.closers, closeTransport)
	}

	telemetryConfig, err := cfg.Telemetry()
	if err != nil {
		s.release()
		return nil, err
	}
	telemetryConfig.Logger = logger
	telemetryConfig.Transport = transport
	telemetryConfig.PersistentStore = store
	telemetryConfig.SessionStore = storage.NewMemory()
	telemetryConfig.UserAgent = userAgent(cfg)

	client, err := telemetry.New(telemetryConfig)
	if err != nil {
		s.release()
		return nil, err
	}
	s.client = client
	return s, nil
}

// stop shuts the client down without a final flush and releases the
// transport and store.
func (s *session) stop() {
	if s.client != nil {
		s.client.Stop()
	}
	s.release()
}

// close shuts the client down with a final unload flush.
func (s *session) close(ctx context.Context) delivery.Result {
	result := s.client.Close(ctx)
	s.release()
	return result
}

func (s *session) release() {
	for index := len(s.closers) - 1; index >= 0; index-- {
		if err := s.closers[index](); err != nil {
			s.logger.Warn("releasing session resource", "error", err)
		}
	}
	s.closers = nil
}

// openBridge opens the persistent store read-only for queue inspection.
func openBridge(cfg *config.Config, logger *slog.Logger) (*persist.Bridge, func() error, error) {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	format, err := persist.ParseFormat(cfg.State.Format)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	bridge, err := persist.NewBridge(persist.Config{Store: store, Format: format, Logger: logger})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return bridge, closeStore, nil
}
