// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package bridge turns hub events into entity state readings.
//
// A snapshot event decides which entities a device has (one per channel and
// platform, from the registry's entity plan) and emits their initial state.
// Update events are projected only for channels that already have entities.
// Readings go out on a buffered channel; when it is full they are dropped
// and counted rather than blocking the event loop.
package bridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/conversion"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/projector"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/transport"
)

const defaultReadingsSize = 1000

// StateReading is the resolved state of one entity at one point in time
type StateReading struct {
	HubID      string
	DeviceID   string
	DeviceType string
	DeviceName string
	Channel    string
	Platform   registry.Platform
	Timestamp  time.Time
	Value      conversion.ResolvedValue
}

// Available reports whether the entity has a known state
func (r *StateReading) Available() bool {
	return r.Value.Known()
}

// DeviceState summarises a tracked device
type DeviceState struct {
	HubID    string
	DeviceID string
	TypeID   string
	Name     string
	Entities map[registry.Platform][]string
}

type trackedDevice struct {
	desc     *device.DeviceDescriptor
	plan     map[registry.Platform][]string
	entities map[string][]registry.Platform // channel -> platforms
}

// Bridge tracks devices and projects their events into readings
type Bridge struct {
	projector *projector.Projector
	readings  chan *StateReading
	devices   map[string]*trackedDevice
	mu        sync.RWMutex
	wg        sync.WaitGroup
	done      chan struct{}
	stopped   bool
}

// New creates a bridge. readingsSize <= 0 selects the default buffer.
func New(proj *projector.Projector, readingsSize int) *Bridge {
	if readingsSize <= 0 {
		readingsSize = defaultReadingsSize
	}
	return &Bridge{
		projector: proj,
		readings:  make(chan *StateReading, readingsSize),
		devices:   make(map[string]*trackedDevice),
		done:      make(chan struct{}),
	}
}

// Start consumes events until ctx is cancelled, the events channel closes
// or Stop is called
func (b *Bridge) Start(ctx context.Context, events <-chan transport.Event) {
	logger.Info().Msg("Starting LifeSmart bridge")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case ev, ok := <-events:
				if !ok {
					logger.Info().Msg("Event source closed, bridge loop exiting")
					return
				}
				if err := b.HandleEvent(ev); err != nil {
					logger.Warn().Err(err).Str("hub_id", ev.HubID).Str("device_id", ev.DeviceID).
						Str("kind", string(ev.Kind)).Msg("Dropping hub event")
				}
			}
		}
	}()
}

// HandleEvent dispatches one event by kind
func (b *Bridge) HandleEvent(ev transport.Event) error {
	start := time.Now()
	defer func() {
		metrics.ProjectionDuration.Observe(time.Since(start).Seconds())
	}()

	at := ev.ReceivedAt
	if at.IsZero() {
		at = start
	}

	if ev.Kind == transport.KindSnapshot {
		_, err := b.HandleSnapshot(ev.Device, at)
		return err
	}
	_, err := b.HandleUpdate(ev.HubID, ev.DeviceID, ev.Channel, ev.Payload, at)
	return err
}

// Readings returns the channel of entity state readings
func (b *Bridge) Readings() <-chan *StateReading {
	return b.readings
}

// emit queues a reading without blocking. Callers hold b.mu.
func (b *Bridge) emit(r *StateReading) {
	if b.stopped {
		return
	}

	metrics.UpdatesProjected.Inc()
	if !r.Available() {
		metrics.UnknownValues.Inc()
	} else if v, ok := r.Value.Float64(); ok {
		metrics.CurrentValue.WithLabelValues(r.DeviceID, r.Channel, string(r.Platform), r.Value.Unit).Set(v)
	}

	select {
	case b.readings <- r:
	default:
		metrics.ReadingsDropped.Inc()
		logger.Warn().Str("device_id", r.DeviceID).Str("channel", r.Channel).
			Msg("Readings channel full, dropping reading")
	}
}

// TrackedDeviceCount returns the number of devices with entities
func (b *Bridge) TrackedDeviceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

// IsTracking reports whether a device has entities
func (b *Bridge) IsTracking(hubID, deviceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.devices[device.Key(hubID, deviceID)]
	return ok
}

// Entities returns the entity plan of a tracked device
func (b *Bridge) Entities(hubID, deviceID string) map[registry.Platform][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	td, ok := b.devices[device.Key(hubID, deviceID)]
	if !ok {
		return nil
	}
	return copyPlan(td.plan)
}

// Devices lists tracked devices sorted by hub and device id
func (b *Bridge) Devices() []DeviceState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]DeviceState, 0, len(b.devices))
	for _, td := range b.devices {
		out = append(out, DeviceState{
			HubID:    td.desc.HubID,
			DeviceID: td.desc.DeviceID,
			TypeID:   td.desc.TypeID,
			Name:     td.desc.Name,
			Entities: copyPlan(td.plan),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return device.Key(out[i].HubID, out[i].DeviceID) < device.Key(out[j].HubID, out[j].DeviceID)
	})
	return out
}

// ForgetDevice drops a device and its entities
func (b *Bridge) ForgetDevice(hubID, deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := device.Key(hubID, deviceID)
	if _, ok := b.devices[key]; ok {
		delete(b.devices, key)
		b.updateGaugesLocked()
		logger.Info().Str("hub_id", hubID).Str("device_id", deviceID).Msg("Stopped tracking device")
	}
}

// Stop ends the event loop and closes the readings channel
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	close(b.readings)
	b.mu.Unlock()
	logger.Info().Msg("Bridge stopped, readings channel closed")
}

func (b *Bridge) updateGaugesLocked() {
	metrics.DevicesTracked.Set(float64(len(b.devices)))

	counts := make(map[registry.Platform]int, len(registry.AllPlatforms))
	for _, td := range b.devices {
		for p, keys := range td.plan {
			counts[p] += len(keys)
		}
	}
	for _, p := range registry.AllPlatforms {
		metrics.EntitiesTracked.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
}

func copyPlan(plan map[registry.Platform][]string) map[registry.Platform][]string {
	out := make(map[registry.Platform][]string, len(plan))
	for p, keys := range plan {
		out[p] = append([]string(nil), keys...)
	}
	return out
}
