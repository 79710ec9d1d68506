// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"time"
)

// Kind discriminates events.
type Kind string

const (
	KindCustom               Kind = "custom"
	KindPageView             Kind = "page_view"
	KindClick                Kind = "click"
	KindWalletConnected      Kind = "wallet_connected"
	KindWalletDisconnected   Kind = "wallet_disconnected"
	KindTransactionSubmitted Kind = "transaction_submitted"
	KindIdentify             Kind = "identify"
)

// ParseKind returns the Kind named name.
func ParseKind(name string) (Kind, error) {
	switch kind := Kind(name); kind {
	case KindCustom, KindPageView, KindClick, KindWalletConnected,
		KindWalletDisconnected, KindTransactionSubmitted, KindIdentify:
		return kind, nil
	default:
		return "", fmt.Errorf("event: unknown kind %q", name)
	}
}

// Well-known property keys added by enrichment.
const (
	PropertyTimestamp   = "timestamp"
	PropertyURL         = "url"
	PropertyReferrer    = "referrer"
	PropertyUserAgent   = "user_agent"
	PropertySessionID   = "session_id"
	PropertyAnonymousID = "anonymous_id"
)

// TimestampLayout is ISO-8601 with millisecond precision, the format
// browsers produce from Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one queued action. The JSON form is
//
//	{"kind":"custom","eventName":"signup","properties":{"timestamp":"..."}}
//
// Treat Event values as immutable; build them with New.
type Event struct {
	Kind       Kind       `json:"kind"`
	Name       string     `json:"eventName"`
	Properties Properties `json:"properties"`
}

// New builds an event with a private copy of properties and the
// timestamp property set from now. A caller-supplied timestamp
// property is overwritten.
func New(kind Kind, name string, properties Properties, now time.Time) Event {
	copied := properties.Clone()
	if copied == nil {
		copied = make(Properties, 1)
	}
	copied[PropertyTimestamp] = String(FormatTimestamp(now))
	return Event{Kind: kind, Name: name, Properties: copied}
}

// FormatTimestamp renders t in TimestampLayout, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Timestamp parses the event's timestamp property. Returns false when
// the property is missing or malformed.
func (e Event) Timestamp() (time.Time, bool) {
	text, ok := e.Properties[PropertyTimestamp].Str()
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(TimestampLayout, text)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Property returns one property value; missing keys read as null.
func (e Event) Property(key string) Value {
	return e.Properties[key]
}

// Identify is the payload of the identify surface. It is sent on its
// own rather than batched with ordinary events.
type Identify struct {
	AnonymousID string     `json:"anonymousId"`
	UserID      string     `json:"userId"`
	Properties  Properties `json:"properties"`
	Timestamp   string     `json:"timestamp"`
}

// NewIdentify builds an identify payload stamped with now.
func NewIdentify(anonymousID, userID string, properties Properties, now time.Time) Identify {
	copied := properties.Clone()
	if copied == nil {
		copied = Properties{}
	}
	return Identify{
		AnonymousID: anonymousID,
		UserID:      userID,
		Properties:  copied,
		Timestamp:   FormatTimestamp(now),
	}
}
