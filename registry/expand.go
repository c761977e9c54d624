// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	"sort"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
)

// Expand resolves the entry's channel patterns against the channels present
// on a concrete device.
//
// Literal patterns are kept only when the device has that channel, wildcard
// patterns contribute every matching device channel. The result is sorted,
// deduplicated and always a subset of the device's channel keys. Patterns
// matching nothing are dropped.
func Expand(entry *DeviceMappingEntry, dev *device.DeviceDescriptor) []string {
	if entry == nil || dev == nil || len(dev.Channels) == 0 {
		return nil
	}

	found := make(map[string]struct{})
	for _, ch := range entry.channels {
		if !IsWildcard(ch.Pattern) {
			if dev.HasChannel(ch.Pattern) {
				found[ch.Pattern] = struct{}{}
			}
			continue
		}
		for key := range dev.Channels {
			if matchPattern(ch.Pattern, key) {
				found[key] = struct{}{}
			}
		}
	}

	if len(found) == 0 {
		return nil
	}
	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
