// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// recordedRequest is what the test server saw.
type recordedRequest struct {
	method  string
	path    string
	header  http.Header
	payload []byte
}

type ingestServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func newIngestServer(t *testing.T) *ingestServer {
	t.Helper()
	server := &ingestServer{status: http.StatusOK}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := decompress(r.Header.Get("Content-Encoding"), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		server.mu.Lock()
		server.requests = append(server.requests, recordedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			header:  r.Header.Clone(),
			payload: payload,
		})
		status, body := server.status, server.body
		server.mu.Unlock()

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *ingestServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *ingestServer) only(t *testing.T) recordedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(s.requests))
	}
	return s.requests[0]
}

func decompress(encoding string, body io.Reader) ([]byte, error) {
	switch encoding {
	case "":
		return io.ReadAll(body)
	case "gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case "zstd":
		decoder, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func newTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	transport, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return transport
}

func batch(names ...string) []event.Event {
	events := make([]event.Event, len(names))
	for index, name := range names {
		events[index] = event.New(event.KindCustom, name, event.Properties{"plan": event.String("pro")}, epoch)
	}
	return events
}

func TestSendEventsPostsJSONArray(t *testing.T) {
	server := newIngestServer(t)
	transport := newTransport(t, Config{BaseURL: server.URL + "/v1/", APIKey: "key-123", UserAgent: "test-agent"})

	if err := transport.SendEvents(context.Background(), batch("A", "B"), delivery.SendOptions{KeepAlive: true}); err != nil {
		t.Fatalf("SendEvents: %v", err)
	}

	request := server.only(t)
	if request.method != http.MethodPost || request.path != "/v1/events" {
		t.Fatalf("request = %s %s, want POST /v1/events", request.method, request.path)
	}
	if got := request.header.Get("Authorization"); got != "Bearer key-123" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := request.header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := request.header.Get("User-Agent"); got != "test-agent" {
		t.Fatalf("User-Agent = %q", got)
	}

	var decoded []event.Event
	if err := json.Unmarshal(request.payload, &decoded); err != nil {
		t.Fatalf("decoding body %s: %v", request.payload, err)
	}
	if len(decoded) != 2 || decoded[0].Name != "A" || decoded[1].Name != "B" {
		t.Fatalf("decoded batch = %+v", decoded)
	}
	if plan, _ := decoded[0].Properties["plan"].Str(); plan != "pro" {
		t.Fatalf("properties lost: %+v", decoded[0].Properties)
	}
	if !strings.Contains(string(request.payload), `"eventName":"A"`) {
		t.Fatalf("body lacks eventName field: %s", request.payload)
	}
}

func TestAcceptedBodyIsOptional(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		accepted bool
	}{
		{"accepted count", `{"accepted":2}`, true},
		{"empty", "", false},
		{"not json", "ok", false},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			server := newIngestServer(t)
			server.respond(http.StatusAccepted, test.body)
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
			transport := newTransport(t, Config{BaseURL: server.URL, APIKey: "key", Logger: logger})

			if err := transport.SendEvents(context.Background(), batch("A", "B"), delivery.SendOptions{}); err != nil {
				t.Fatalf("SendEvents: %v", err)
			}
			if got := strings.Contains(logs.String(), `"accepted":2`); got != test.accepted {
				t.Fatalf("accepted count logged = %v, want %v; logs:\n%s", got, test.accepted, logs.String())
			}
		})
	}
}

func TestSendIdentify(t *testing.T) {
	server := newIngestServer(t)
	transport := newTransport(t, Config{BaseURL: server.URL, APIKey: "key"})

	payload := event.NewIdentify("anon-1", "user-9", event.Properties{"email": event.String("a@b.c")}, epoch)
	if err := transport.SendIdentify(context.Background(), payload, delivery.SendOptions{}); err != nil {
		t.Fatalf("SendIdentify: %v", err)
	}

	request := server.only(t)
	if request.path != IdentifyPath {
		t.Fatalf("path = %q, want %q", request.path, IdentifyPath)
	}
	var decoded map[string]any
	if err := json.Unmarshal(request.payload, &decoded); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if decoded["anonymousId"] != "anon-1" || decoded["userId"] != "user-9" {
		t.Fatalf("identify body = %v", decoded)
	}
}

func TestNon2xxIsStatusError(t *testing.T) {
	server := newIngestServer(t)
	server.respond(http.StatusServiceUnavailable, "overloaded")
	transport := newTransport(t, Config{BaseURL: server.URL, APIKey: "key"})

	err := transport.SendEvents(context.Background(), batch("A"), delivery.SendOptions{})
	var statusError *StatusError
	if !errors.As(err, &statusError) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusError.Code != http.StatusServiceUnavailable || statusError.Body != "overloaded" {
		t.Fatalf("StatusError = %+v", statusError)
	}
	if errors.Is(err, delivery.ErrConfiguration) {
		t.Fatal("HTTP failure classified as configuration error")
	}
}

func TestMissingAPIKeyIsConfigurationError(t *testing.T) {
	server := newIngestServer(t)
	transport := newTransport(t, Config{BaseURL: server.URL})

	err := transport.SendEvents(context.Background(), batch("A"), delivery.SendOptions{})
	if !errors.Is(err, delivery.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.requests) != 0 {
		t.Fatal("request sent without API key")
	}
}

func TestKeepAliveSurvivesCancelledCaller(t *testing.T) {
	server := newIngestServer(t)
	transport := newTransport(t, Config{BaseURL: server.URL, APIKey: "key"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := transport.SendEvents(ctx, batch("A"), delivery.SendOptions{KeepAlive: true, Unload: true}); err != nil {
		t.Fatalf("keep-alive send with cancelled caller: %v", err)
	}
	server.only(t)

	if err := transport.SendEvents(ctx, batch("B"), delivery.SendOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("non-keep-alive send error = %v, want context.Canceled", err)
	}
}

func TestCompressedBodies(t *testing.T) {
	for _, compression := range []Compression{CompressionGzip, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			server := newIngestServer(t)
			transport := newTransport(t, Config{BaseURL: server.URL, APIKey: "key", Compression: compression})

			if err := transport.SendEvents(context.Background(), batch("A", "B", "C"), delivery.SendOptions{}); err != nil {
				t.Fatalf("SendEvents: %v", err)
			}
			request := server.only(t)
			if got := request.header.Get("Content-Encoding"); got != string(compression) {
				t.Fatalf("Content-Encoding = %q", got)
			}
			var decoded []event.Event
			if err := json.Unmarshal(request.payload, &decoded); err != nil {
				t.Fatalf("decoding decompressed body: %v", err)
			}
			if len(decoded) != 3 {
				t.Fatalf("decoded %d events, want 3", len(decoded))
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	cases := []Config{
		{},
		{BaseURL: "ftp://example.com"},
		{BaseURL: "https://example.com", Compression: "brotli"},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) succeeded, want error", cfg)
		}
	}
}

func TestParseCompression(t *testing.T) {
	for input, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "GZIP": CompressionGzip, "zstd": CompressionZstd} {
		got, err := ParseCompression(input)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseCompression("snappy"); err == nil {
		t.Error("ParseCompression accepted snappy")
	}
}
