// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/pubsub"
)

// WalletEventType discriminates WalletEvent values.
type WalletEventType string

const (
	WalletConnected      WalletEventType = "connected"
	WalletDisconnected   WalletEventType = "disconnected"
	TransactionSubmitted WalletEventType = "transaction_submitted"
)

// WalletEvent is what a wallet integration publishes.
type WalletEvent struct {
	Type WalletEventType

	// Wallet names the provider ("metamask", "walletconnect").
	Wallet  string
	Address string
	ChainID string

	// TransactionHash is set for TransactionSubmitted.
	TransactionHash string
}

// TrackWallet subscribes to hub and tracks every wallet event.
// Unsubscribe the returned Subscription to stop.
func TrackWallet(hub *pubsub.Hub[WalletEvent], tracker EventTracker) pubsub.Subscription {
	return hub.Subscribe(func(walletEvent WalletEvent) {
		kind, ok := walletKinds[walletEvent.Type]
		if !ok {
			return
		}
		tracker.Track(kind, string(kind), walletProperties(walletEvent))
	})
}

var walletKinds = map[WalletEventType]event.Kind{
	WalletConnected:      event.KindWalletConnected,
	WalletDisconnected:   event.KindWalletDisconnected,
	TransactionSubmitted: event.KindTransactionSubmitted,
}

func walletProperties(walletEvent WalletEvent) event.Properties {
	properties := make(event.Properties, 4)
	set := func(key, value string) {
		if value != "" {
			properties[key] = event.String(value)
		}
	}
	set("wallet", walletEvent.Wallet)
	set("address", walletEvent.Address)
	set("chain_id", walletEvent.ChainID)
	set("transaction_hash", walletEvent.TransactionHash)
	return properties
}
