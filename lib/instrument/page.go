// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"net/url"
	"sync"
)

// History is the host's navigation history.
type History interface {
	PushState(state any, location string)
	ReplaceState(state any, location string)
	// OnPopState registers handler for back/forward navigation and
	// returns a function that removes it.
	OnPopState(handler func()) (remove func())
	// Location returns the current location as a URL or path.
	Location() string
}

// PageTracker is the page-view surface of the telemetry client.
// *telemetry.Client implements it.
type PageTracker interface {
	SetPage(url, referrer string)
	TrackPageView(path string) bool
}

// TrackedHistory is a History whose navigations record page views.
// Hand it to application code in place of the original.
type TrackedHistory struct {
	History

	tracker   PageTracker
	removePop func()

	mu       sync.Mutex
	previous string
}

// InitPageTracking wraps history, records the initial location, and
// listens for popstate. Call Stop to detach the popstate listener.
func InitPageTracking(history History, tracker PageTracker) *TrackedHistory {
	tracked := &TrackedHistory{History: history, tracker: tracker}
	tracked.observe()
	tracked.removePop = history.OnPopState(tracked.observe)
	return tracked
}

// PushState forwards to the wrapped history, then records the new
// location.
func (h *TrackedHistory) PushState(state any, location string) {
	h.History.PushState(state, location)
	h.observe()
}

// ReplaceState forwards to the wrapped history, then records the new
// location.
func (h *TrackedHistory) ReplaceState(state any, location string) {
	h.History.ReplaceState(state, location)
	h.observe()
}

// Stop detaches the popstate listener. Push and replace keep
// forwarding.
func (h *TrackedHistory) Stop() {
	if h.removePop != nil {
		h.removePop()
	}
}

func (h *TrackedHistory) observe() {
	location := h.History.Location()

	h.mu.Lock()
	referrer := h.previous
	h.previous = location
	h.mu.Unlock()

	h.tracker.SetPage(location, referrer)
	h.tracker.TrackPageView(pathOf(location))
}

// pathOf returns the path component of location, or location itself
// when it does not parse as a URL.
func pathOf(location string) string {
	parsed, err := url.Parse(location)
	if err != nil || parsed.Path == "" {
		return location
	}
	return parsed.Path
}
