// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package device defines the raw device data delivered by the hub.
//
// A DeviceDescriptor is produced by the transport layer for every update event
// and lives only for one resolution cycle. Its channel map holds one
// RawIORecord per I/O channel ("P1", "T", "H", ...).
//
// # Type Flags
//
// The hub packs status and encoding information into the 32-bit type field of
// each record:
//   - bit 0 (0x01): on/off state for switch-like channels
//   - bits 1-6 (mask 0x7E): value encoding; 0x02 means val holds the bit
//     pattern of an IEEE-754 single precision float
package device

import (
	"sort"
)

const (
	// FloatMask selects the encoding bits of a record's type flags.
	FloatMask uint32 = 0x7E

	// FloatTag is the encoding value marking an IEEE-754 float in val.
	FloatTag uint32 = 0x02

	// OnFlag is the bit carrying on/off state.
	OnFlag uint32 = 0x01
)

// RawIORecord is the unprocessed protocol payload for one channel
type RawIORecord struct {
	Type   uint32 `json:"type"`
	Val    int64  `json:"val"`
	HasVal bool   `json:"-"` // false when val was absent or not an integer
	V      any    `json:"v,omitempty"`
}

// IsFloat reports whether val carries an IEEE-754 float bit pattern
func (r RawIORecord) IsFloat() bool {
	return r.Type&FloatMask == FloatTag
}

// IsOn reports the on/off bit of the type flags
func (r RawIORecord) IsOn() bool {
	return r.Type&OnFlag == OnFlag
}

// HasVerbose reports whether the record carries a pre-decoded v field
func (r RawIORecord) HasVerbose() bool {
	return r.V != nil
}

// DeviceDescriptor describes one device as reported by the hub
type DeviceDescriptor struct {
	TypeID   string                 `json:"devtype"`
	HubID    string                 `json:"agt"`
	DeviceID string                 `json:"me"`
	Name     string                 `json:"name,omitempty"`
	Channels map[string]RawIORecord `json:"data"`
}

// Key returns the identifier used to track the device across events
func (d *DeviceDescriptor) Key() string {
	return Key(d.HubID, d.DeviceID)
}

// Key builds a tracking key from a hub and device identifier
func Key(hubID, deviceID string) string {
	return hubID + "/" + deviceID
}

// Channel returns the record stored for a channel key
func (d *DeviceDescriptor) Channel(key string) (RawIORecord, bool) {
	if d == nil || d.Channels == nil {
		return RawIORecord{}, false
	}
	rec, ok := d.Channels[key]
	return rec, ok
}

// HasChannel reports whether the device exposes the given channel key
func (d *DeviceDescriptor) HasChannel(key string) bool {
	_, ok := d.Channel(key)
	return ok
}

// ChannelKeys returns the device's channel keys in sorted order
func (d *DeviceDescriptor) ChannelKeys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.Channels))
	for k := range d.Channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
