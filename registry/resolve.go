// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
)

// Resolve returns the configuration of one channel of a device.
//
// The device's type selects the entry (an exact entry overrides any wildcard
// entry for the same type); inside the entry a literal channel registration
// is preferred over the wildcard pattern that would also match it. Devices
// without an entry and unconfigured channels get DefaultIOConfig. The result
// is a fresh copy and equal for equal inputs.
func (r *Registry) Resolve(dev *device.DeviceDescriptor, key string) IOConfig {
	if dev == nil {
		return DefaultIOConfig()
	}
	entry, ok := r.Lookup(dev.TypeID)
	if !ok {
		return DefaultIOConfig()
	}
	return entry.Resolve(key)
}

// ResolvePlatform returns the channel keys of a device that become entities
// on platform p.
//
// An entry whose platform set excludes p yields nothing. Otherwise the
// expanded channels are filtered to those whose configuration is tagged for
// p: the platform the channel was registered under plus any explicit extra
// tags.
func ResolvePlatform(entry *DeviceMappingEntry, dev *device.DeviceDescriptor, p Platform) []string {
	if entry == nil || !entry.Supports(p) {
		return nil
	}

	var keys []string
	for _, key := range Expand(entry, dev) {
		cfg, ok := entry.lookupChannel(key)
		if ok && cfg.AppliesTo(p) {
			keys = append(keys, key)
		}
	}
	return keys
}

// EntityPlan runs the platform resolver for every known platform. Platforms
// without channels are omitted; an unsupported device yields an empty plan.
func (r *Registry) EntityPlan(dev *device.DeviceDescriptor) map[Platform][]string {
	plan := make(map[Platform][]string)
	if dev == nil {
		return plan
	}
	entry, ok := r.Lookup(dev.TypeID)
	if !ok {
		return plan
	}
	for _, p := range AllPlatforms {
		if keys := ResolvePlatform(entry, dev, p); len(keys) > 0 {
			plan[p] = keys
		}
	}
	return plan
}
