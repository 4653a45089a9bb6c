/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import "context"

// NotifyFunc receives raw channel-encoded text, or an error raised by the channel. Notifications of one
// subscription are delivered one at a time, in arrival order.
type NotifyFunc func(raw string, err error)

// Subscription is an active Monitor registration.
type Subscription interface {
	// Remove stops delivery. It is safe to call more than once.
	Remove()
}

// Channel is one logical, size constrained connection handle. Connection establishment is handled elsewhere.
type Channel interface {
	// Write delivers one encoded fragment.
	Write(ctx context.Context, encodedFragment string) error
	// Monitor registers notify for inbound fragments.
	Monitor(notify NotifyFunc) (Subscription, error)
}
