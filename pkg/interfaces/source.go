// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/transport"
)

// EventSource delivers decoded hub events.
// Implementations close the Events channel when stopped.
type EventSource interface {
	// Start connects the source; it stops when ctx is cancelled
	Start(ctx context.Context) error

	// Events returns the channel of decoded hub events
	Events() <-chan transport.Event

	// IsConnected reports whether the source is receiving events
	IsConnected() bool

	// Stop disconnects and closes the events channel
	Stop()
}
