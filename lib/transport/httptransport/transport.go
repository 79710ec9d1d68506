// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/netutil"
	"github.com/bureau-foundation/beacon/lib/version"
)

const (
	// EventsPath is the batch ingestion endpoint.
	EventsPath = "/events"

	// IdentifyPath is the identify endpoint.
	IdentifyPath = "/users/identify"

	// DefaultKeepAliveTimeout bounds a keep-alive request once it has
	// been detached from its caller.
	DefaultKeepAliveTimeout = 10 * time.Second
)

// Compression selects the request body encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string means
// CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("httptransport: unknown compression %q (want none, gzip, or zstd)", name)
	}
}

// StatusError is a non-2xx response from the ingestion API.
type StatusError struct {
	// Method and Path identify the request.
	Method string
	Path   string

	// Code is the HTTP status code.
	Code int

	// Body is the (truncated) response body text.
	Body string
}

func (err *StatusError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("httptransport: %s %s: HTTP %d", err.Method, err.Path, err.Code)
	}
	return fmt.Sprintf("httptransport: %s %s: HTTP %d: %s", err.Method, err.Path, err.Code, err.Body)
}

// Config holds the parameters for New.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.beacon.dev/v1".
	// Required.
	BaseURL string

	// APIKey is sent as the bearer credential. An empty key is not a
	// construction error: every send fails with
	// delivery.ErrConfiguration instead.
	APIKey string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Compression defaults to CompressionNone.
	Compression Compression

	// KeepAliveTimeout defaults to DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	Logger *slog.Logger
}

// Transport implements delivery.Transport over HTTP.
type Transport struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	compression      Compression
	keepAliveTimeout time.Duration
	userAgent        string
	logger           *slog.Logger

	zstdEncoder *zstd.Encoder
}

var _ delivery.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport.
func New(cfg Config) (*Transport, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("httptransport: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httptransport: parsing BaseURL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("httptransport: BaseURL must be http or https (got %q)", cfg.BaseURL)
	}

	compression := cfg.Compression
	if compression == "" {
		compression = CompressionNone
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}

	transport := &Transport{
		baseURL:          baseURL,
		apiKey:           cfg.APIKey,
		httpClient:       cfg.HTTPClient,
		compression:      compression,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		userAgent:        cfg.UserAgent,
		logger:           cfg.Logger,
	}
	if transport.httpClient == nil {
		transport.httpClient = http.DefaultClient
	}
	if transport.keepAliveTimeout <= 0 {
		transport.keepAliveTimeout = DefaultKeepAliveTimeout
	}
	if transport.userAgent == "" {
		transport.userAgent = version.UserAgent()
	}
	if transport.logger == nil {
		transport.logger = slog.New(slog.DiscardHandler)
	}
	if compression == CompressionZstd {
		// Encoder used only through EncodeAll, which is safe for
		// concurrent use.
		transport.zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("httptransport: creating zstd encoder: %w", err)
		}
	}
	return transport, nil
}

// SendEvents posts events as one JSON array.
func (t *Transport) SendEvents(ctx context.Context, events []event.Event, options delivery.SendOptions) error {
	if events == nil {
		events = []event.Event{}
	}
	return t.post(ctx, EventsPath, events, options)
}

// SendIdentify posts one identify payload.
func (t *Transport) SendIdentify(ctx context.Context, payload event.Identify, options delivery.SendOptions) error {
	return t.post(ctx, IdentifyPath, payload, options)
}

func (t *Transport) post(ctx context.Context, path string, body any, options delivery.SendOptions) error {
	if t.apiKey == "" {
		return fmt.Errorf("httptransport: POST %s: API key is not configured: %w", path, delivery.ErrConfiguration)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httptransport: encoding %s body: %w: %w", path, delivery.ErrEncoding, err)
	}
	payload, err := t.compress(encoded)
	if err != nil {
		return fmt.Errorf("httptransport: compressing %s body: %w", path, err)
	}

	if options.KeepAlive {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), t.keepAliveTimeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("httptransport: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+t.apiKey)
	request.Header.Set("User-Agent", t.userAgent)
	if t.compression != CompressionNone {
		request.Header.Set("Content-Encoding", string(t.compression))
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("httptransport: POST %s: %w", path, err)
	}
	defer netutil.Drain(response)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{
			Method: http.MethodPost,
			Path:   path,
			Code:   response.StatusCode,
			Body:   netutil.ErrorBody(response.Body),
		}
	}

	// The body is optional. A malformed one does not fail a request
	// the server already accepted.
	var acknowledgement ingestResponse
	if err := netutil.DecodeResponse(response.Body, &acknowledgement); err != nil {
		t.logger.Debug("ignoring unreadable response body", "path", path, "error", err)
	}
	attributes := []any{
		"path", path,
		"status", response.StatusCode,
		"bytes", len(payload),
		"unload", options.Unload,
	}
	if acknowledgement.Accepted != nil {
		attributes = append(attributes, "accepted", *acknowledgement.Accepted)
	}
	t.logger.Debug("request accepted", attributes...)
	return nil
}

// ingestResponse is the optional JSON body of a 2xx response.
type ingestResponse struct {
	Accepted *int `json:"accepted"`
}

func (t *Transport) compress(data []byte) ([]byte, error) {
	switch t.compression {
	case CompressionGzip:
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buffer.Bytes(), nil
	case CompressionZstd:
		return t.zstdEncoder.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}
