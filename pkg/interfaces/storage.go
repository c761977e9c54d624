// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
)

// StateStorage defines the interface for entity state persistence.
type StateStorage interface {
	// WriteReading writes a single state reading to storage
	WriteReading(ctx context.Context, reading *bridge.StateReading) error

	// WriteBatch writes multiple readings to storage
	WriteBatch(ctx context.Context, readings []*bridge.StateReading) error

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the storage connection
	Close()

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error
}

// StateQuerier reads back stored entity state.
type StateQuerier interface {
	// QueryLatestState retrieves the most recent state of one entity channel
	QueryLatestState(ctx context.Context, hubID, deviceID, channel string) (*bridge.StateReading, error)
}
