// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// DeviceTracker exposes the devices that currently have entities.
type DeviceTracker interface {
	// TrackedDeviceCount returns the number of devices with entities
	TrackedDeviceCount() int

	// IsTracking reports whether a device has entities
	IsTracking(hubID, deviceID string) bool

	// Entities returns the channels of a device grouped by platform
	Entities(hubID, deviceID string) map[registry.Platform][]string

	// Devices lists tracked devices
	Devices() []bridge.DeviceState
}
