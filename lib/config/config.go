// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/beacon/lib/persist"
	"github.com/bureau-foundation/beacon/lib/telemetry"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "BEACON_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Transport kinds accepted by TransportConfig.Kind.
const (
	TransportHTTP  = "http"
	TransportKafka = "kafka"
	TransportMQTT  = "mqtt"
)

// Config is the on-disk configuration of the beacon CLI.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment" json:"environment"`

	APIKey     string `yaml:"api_key" json:"api_key"`
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`
	Debug      bool   `yaml:"debug" json:"debug"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// FlushInterval and RetryDelay are Go duration strings ("5s").
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
	MaxRetries    int    `yaml:"max_retries" json:"max_retries"`
	RetryDelay    string `yaml:"retry_delay" json:"retry_delay"`

	CollectData bool   `yaml:"collect_data" json:"collect_data"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`

	State     StateConfig     `yaml:"state" json:"state"`
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Environment-specific overrides.
	Development *ConfigOverrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// StateConfig locates persistent client state.
type StateConfig struct {
	// Dir is the file store directory. Ignored when SQLite is set.
	Dir string `yaml:"dir" json:"dir"`

	// SQLite is the path of a SQLite database used instead of Dir.
	SQLite string `yaml:"sqlite" json:"sqlite"`

	// Format is the queue snapshot encoding: json or cbor.
	Format string `yaml:"format" json:"format"`
}

// TransportConfig selects and configures the delivery transport.
type TransportConfig struct {
	Kind string `yaml:"kind" json:"kind"`

	// Compression is the request body encoding. For http: none, gzip,
	// zstd. For kafka: none, gzip, snappy, lz4, zstd.
	Compression string `yaml:"compression" json:"compression"`

	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
	MQTT  MQTTConfig  `yaml:"mqtt" json:"mqtt"`
}

// KafkaConfig configures the kafka transport.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" json:"brokers"`
	EventsTopic   string   `yaml:"events_topic" json:"events_topic"`
	IdentifyTopic string   `yaml:"identify_topic" json:"identify_topic"`
	RequiredAcks  string   `yaml:"required_acks" json:"required_acks"`
}

// MQTTConfig configures the mqtt transport.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url" json:"broker_url"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	Username    string `yaml:"username" json:"username"`

	// QoS is 0, 1, or 2. Nil keeps the transport default.
	QoS *int `yaml:"qos,omitempty" json:"qos,omitempty"`
}

// ConfigOverrides holds environment-specific configuration overrides.
type ConfigOverrides struct {
	APIBaseURL    string           `yaml:"api_base_url,omitempty" json:"api_base_url,omitempty"`
	Debug         *bool            `yaml:"debug,omitempty" json:"debug,omitempty"`
	FlushInterval string           `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
	MaxRetries    *int             `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	State         *StateConfig     `yaml:"state,omitempty" json:"state,omitempty"`
	Transport     *TransportConfig `yaml:"transport,omitempty" json:"transport,omitempty"`
}

// Default returns a Config with development defaults. The values match
// telemetry.DefaultConfig.
func Default() *Config {
	defaults := telemetry.DefaultConfig()
	return &Config{
		Environment:   Development,
		APIBaseURL:    defaults.APIBaseURL,
		BatchSize:     defaults.BatchSize,
		FlushInterval: defaults.FlushInterval.String(),
		MaxRetries:    defaults.MaxRetries,
		RetryDelay:    defaults.RetryDelay.String(),
		CollectData:   defaults.CollectData,
		State: StateConfig{
			Dir:    "${HOME}/.local/state/beacon",
			Format: string(defaults.PersistFormat),
		},
		Transport: TransportConfig{
			Kind:        TransportHTTP,
			Compression: "none",
		},
	}
}

// Load loads configuration from the BEACON_CONFIG environment variable.
//
// There are no fallbacks: if BEACON_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your beacon.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are parsed as JSON with comments; anything else is
// parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()

	return cfg, nil
}

// loadFile merges a single configuration file into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.APIBaseURL != "" {
		c.APIBaseURL = overrides.APIBaseURL
	}
	if overrides.Debug != nil {
		c.Debug = *overrides.Debug
	}
	if overrides.FlushInterval != "" {
		c.FlushInterval = overrides.FlushInterval
	}
	if overrides.MaxRetries != nil {
		c.MaxRetries = *overrides.MaxRetries
	}

	if overrides.State != nil {
		if overrides.State.Dir != "" {
			c.State.Dir = overrides.State.Dir
		}
		if overrides.State.SQLite != "" {
			c.State.SQLite = overrides.State.SQLite
		}
		if overrides.State.Format != "" {
			c.State.Format = overrides.State.Format
		}
	}

	if overrides.Transport != nil {
		if overrides.Transport.Kind != "" {
			c.Transport.Kind = overrides.Transport.Kind
		}
		if overrides.Transport.Compression != "" {
			c.Transport.Compression = overrides.Transport.Compression
		}
		if len(overrides.Transport.Kafka.Brokers) > 0 {
			c.Transport.Kafka.Brokers = overrides.Transport.Kafka.Brokers
		}
		if overrides.Transport.MQTT.BrokerURL != "" {
			c.Transport.MQTT.BrokerURL = overrides.Transport.MQTT.BrokerURL
		}
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in the
// state paths and the API key.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.APIKey = expandVars(c.APIKey, vars)
	c.State.Dir = expandVars(c.State.Dir, vars)
	c.State.SQLite = expandVars(c.State.SQLite, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. The API key is not
// checked here; telemetry.New reports it.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if _, err := parseDuration("flush_interval", c.FlushInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("retry_delay", c.RetryDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := persist.ParseFormat(c.State.Format); err != nil {
		errs = append(errs, fmt.Errorf("state.format: %w", err))
	}

	switch c.Transport.Kind {
	case TransportHTTP:
		if c.APIBaseURL == "" {
			errs = append(errs, fmt.Errorf("api_base_url is required for the http transport"))
		}
	case TransportKafka:
		if len(c.Transport.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("transport.kafka.brokers is required for the kafka transport"))
		}
	case TransportMQTT:
		if c.Transport.MQTT.BrokerURL == "" {
			errs = append(errs, fmt.Errorf("transport.mqtt.broker_url is required for the mqtt transport"))
		}
		if qos := c.Transport.MQTT.QoS; qos != nil && (*qos < 0 || *qos > 2) {
			errs = append(errs, fmt.Errorf("transport.mqtt.qos must be 0, 1, or 2, got %d", *qos))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind must be one of: %v",
			[]string{TransportHTTP, TransportKafka, TransportMQTT}))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Telemetry converts the file settings into a telemetry.Config. The
// caller supplies the Transport, stores, and Logger.
func (c *Config) Telemetry() (telemetry.Config, error) {
	if err := c.Validate(); err != nil {
		return telemetry.Config{}, err
	}
	flushInterval, _ := parseDuration("flush_interval", c.FlushInterval)
	retryDelay, _ := parseDuration("retry_delay", c.RetryDelay)
	format, _ := persist.ParseFormat(c.State.Format)

	cfg := telemetry.DefaultConfig()
	cfg.APIKey = c.APIKey
	cfg.APIBaseURL = c.APIBaseURL
	cfg.Debug = c.Debug
	cfg.BatchSize = c.BatchSize
	cfg.FlushInterval = flushInterval
	cfg.MaxRetries = c.MaxRetries
	cfg.RetryDelay = retryDelay
	cfg.CollectData = c.CollectData
	cfg.UserAgent = c.UserAgent
	cfg.PersistFormat = format
	return cfg, nil
}

// MQTTQoS returns the configured QoS as a byte pointer, or nil.
func (c *Config) MQTTQoS() *byte {
	if c.Transport.MQTT.QoS == nil {
		return nil
	}
	qos := byte(*c.Transport.MQTT.QoS)
	return &qos
}

// EnsureStateDir creates State.Dir, or the parent of State.SQLite.
func (c *Config) EnsureStateDir() error {
	directory := c.State.Dir
	if c.State.SQLite != "" {
		directory = filepath.Dir(c.State.SQLite)
	}
	if directory == "" {
		return nil
	}
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %s", field, value)
	}
	return duration, nil
}
