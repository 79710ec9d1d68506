// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/beacon/lib/event"
)

const (
	// EventAttribute marks a clickable element; its value is the
	// event name.
	EventAttribute = "data-beacon-event"

	// PropsAttribute optionally carries a JSON object of extra
	// properties for the marked element's event.
	PropsAttribute = "data-beacon-props"

	// MaxTextLength is the number of runes of element text attached
	// to a click event.
	MaxTextLength = 100
)

// Element is one node of the host's element tree.
type Element interface {
	Tag() string
	ID() string
	Text() string
	Attribute(name string) (string, bool)
	// Parent returns nil at the root.
	Parent() Element
}

// ClickSource delivers clicks at a stable ancestor (the document
// root, typically).
type ClickSource interface {
	// OnClick registers handler for every click and returns a function
	// that removes it.
	OnClick(handler func(target Element)) (remove func())
}

// InitClickTracking attaches one delegated listener to source. Each
// click walks from the target up to the nearest element carrying
// EventAttribute and tracks a click event named by it, with the
// element's tag, id, and text. A malformed PropsAttribute is logged
// and ignored; the click is still tracked.
//
// Returns a function that detaches the listener.
func InitClickTracking(source ClickSource, tracker EventTracker, logger *slog.Logger) (stop func()) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return source.OnClick(func(target Element) {
		element := markedAncestor(target)
		if element == nil {
			return
		}
		name, _ := element.Attribute(EventAttribute)
		tracker.Track(event.KindClick, name, clickProperties(element, name, logger))
	})
}

// markedAncestor returns the nearest element, starting at target,
// with a non-empty EventAttribute.
func markedAncestor(target Element) Element {
	for element := target; element != nil; element = element.Parent() {
		if name, ok := element.Attribute(EventAttribute); ok && name != "" {
			return element
		}
	}
	return nil
}

func clickProperties(element Element, name string, logger *slog.Logger) event.Properties {
	properties := event.Properties{
		"element_tag": event.String(strings.ToLower(element.Tag())),
	}
	if id := element.ID(); id != "" {
		properties["element_id"] = event.String(id)
	}
	if text := truncate(strings.TrimSpace(element.Text()), MaxTextLength); text != "" {
		properties["element_text"] = event.String(text)
	}

	raw, ok := element.Attribute(PropsAttribute)
	if !ok || strings.TrimSpace(raw) == "" {
		return properties
	}
	extra, err := event.ParseProperties(raw)
	if err != nil {
		logger.Warn("ignoring malformed click properties",
			"event", name,
			"attribute", PropsAttribute,
			"error", err,
		)
		return properties
	}
	return properties.Merge(extra)
}

// truncate cuts text to at most limit runes.
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
