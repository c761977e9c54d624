// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package bridge

import (
	"fmt"
	"maps"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/projector"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// HandleSnapshot (re)builds a device's entities from its full state and
// emits one reading per entity. It returns the number of entities.
//
// A device type without a registry entry is unsupported: nothing is
// tracked and no error is returned.
func (b *Bridge) HandleSnapshot(dev *device.DeviceDescriptor, at time.Time) (int, error) {
	if dev == nil {
		return 0, fmt.Errorf("snapshot carries no device")
	}

	reg := b.projector.Registry()
	if !reg.Supported(dev.TypeID) {
		metrics.UnsupportedDevices.Inc()
		logger.Debug().Str("hub_id", dev.HubID).Str("device_id", dev.DeviceID).
			Str("device_type", dev.TypeID).Msg("Unsupported device type, no entities")
		return 0, nil
	}

	plan := reg.EntityPlan(dev)
	td := &trackedDevice{
		desc:     cloneDescriptor(dev),
		plan:     plan,
		entities: make(map[string][]registry.Platform),
	}
	for _, p := range registry.AllPlatforms {
		for _, key := range plan[p] {
			td.entities[key] = append(td.entities[key], p)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, apperrors.ErrConnectionClosed
	}

	key := dev.Key()
	_, existed := b.devices[key]
	b.devices[key] = td
	b.updateGaugesLocked()

	count := 0
	for _, p := range registry.AllPlatforms {
		for _, ch := range plan[p] {
			rv := b.projector.ProjectRecord(td.desc, ch, td.desc.Channels[ch])
			b.emit(&StateReading{
				HubID:      dev.HubID,
				DeviceID:   dev.DeviceID,
				DeviceType: dev.TypeID,
				DeviceName: dev.Name,
				Channel:    ch,
				Platform:   p,
				Timestamp:  at,
				Value:      rv,
			})
			count++
		}
	}

	if !existed {
		logger.Info().Str("hub_id", dev.HubID).Str("device_id", dev.DeviceID).
			Str("device_type", dev.TypeID).Int("entities", count).Msg("Tracking new device")
	}
	return count, nil
}

// HandleUpdate projects a partial update for a tracked device and returns
// the number of readings emitted.
//
// channel names the addressed channel when known; otherwise every channel
// the payload carries is considered. Channels without entities are skipped.
// A payload whose shape matches nothing for a channel is reported as a
// PayloadError after the remaining channels have been processed.
func (b *Bridge) HandleUpdate(hubID, deviceID, channel string, payload map[string]any, at time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, apperrors.ErrConnectionClosed
	}

	td, ok := b.devices[device.Key(hubID, deviceID)]
	if !ok {
		return 0, fmt.Errorf("update for %s/%s: %w", hubID, deviceID, apperrors.ErrUnknownDevice)
	}

	channels := []string{channel}
	if channel == "" {
		channels = projector.ChannelsIn(payload)
	}
	if len(channels) == 0 {
		metrics.MalformedPayloads.Inc()
		return 0, apperrors.NewPayloadError(deviceID, "", "payload addresses no channel")
	}

	var firstErr error
	count := 0
	updated := maps.Clone(td.desc.Channels)
	if updated == nil {
		updated = make(map[string]device.RawIORecord)
	}

	for _, ch := range channels {
		platforms, ok := td.entities[ch]
		if !ok {
			logger.Debug().Str("device_id", deviceID).Str("channel", ch).Msg("No entity for channel, ignoring update")
			continue
		}

		rec, _, err := projector.Normalize(ch, payload)
		if err != nil {
			metrics.MalformedPayloads.Inc()
			if firstErr == nil {
				firstErr = apperrors.NewPayloadError(deviceID, ch, "no recognised payload shape")
			}
			continue
		}
		updated[ch] = rec

		rv := b.projector.ProjectRecord(td.desc, ch, rec)
		for _, p := range platforms {
			b.emit(&StateReading{
				HubID:      td.desc.HubID,
				DeviceID:   td.desc.DeviceID,
				DeviceType: td.desc.TypeID,
				DeviceName: td.desc.Name,
				Channel:    ch,
				Platform:   p,
				Timestamp:  at,
				Value:      rv,
			})
			count++
		}
	}

	if count > 0 {
		desc := *td.desc
		desc.Channels = updated
		td.desc = &desc
	}
	return count, firstErr
}

// LastRecord returns the most recent raw record seen for a tracked channel
func (b *Bridge) LastRecord(hubID, deviceID, channel string) (device.RawIORecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	td, ok := b.devices[device.Key(hubID, deviceID)]
	if !ok {
		return device.RawIORecord{}, false
	}
	return td.desc.Channel(channel)
}

func cloneDescriptor(dev *device.DeviceDescriptor) *device.DeviceDescriptor {
	out := *dev
	out.Channels = maps.Clone(dev.Channels)
	return &out
}
