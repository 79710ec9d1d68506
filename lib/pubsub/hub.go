// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pubsub is a minimal typed publish/subscribe hub. Producers
// such as wallet integrations publish on a Hub; the telemetry layer
// subscribes and unsubscribes without either side knowing the other.
package pubsub

import "sync"

// Subscription identifies one registered handler.
type Subscription struct {
	id uint64
}

type entry[T any] struct {
	id      uint64
	handler func(T)
}

// Hub dispatches published values to subscribed handlers. The zero
// Hub is ready to use. Safe for concurrent use.
type Hub[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []entry[T]
}

// Subscribe registers handler and returns its Subscription.
func (h *Hub[T]) Subscribe(handler func(T)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.handlers = append(h.handlers, entry[T]{id: h.nextID, handler: handler})
	return Subscription{id: h.nextID}
}

// Unsubscribe removes a handler. Reports whether it was registered.
func (h *Hub[T]) Unsubscribe(subscription Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for index, registered := range h.handlers {
		if registered.id == subscription.id {
			// Copy rather than splice in place: a Publish in progress
			// may hold the old slice.
			remaining := make([]entry[T], 0, len(h.handlers)-1)
			remaining = append(remaining, h.handlers[:index]...)
			h.handlers = append(remaining, h.handlers[index+1:]...)
			return true
		}
	}
	return false
}

// Publish calls every handler registered at the time of the call, in
// subscription order, on the calling goroutine. Handlers may subscribe
// or unsubscribe during delivery; the change applies from the next
// Publish.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	handlers := h.handlers
	h.mu.Unlock()

	for _, registered := range handlers {
		registered.handler(value)
	}
}

// Len returns the number of registered handlers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}
