// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	"fmt"
	"slices"
)

// DeviceMappingEntry describes which platforms a device type exposes and how
// each of its channels is configured. Entries are immutable once built;
// every accessor returns copies.
type DeviceMappingEntry struct {
	typePattern string
	name        string
	platforms   []Platform
	channels    []ChannelConfig // registration order
	literal     map[string]int  // literal channel key -> index into channels
}

// NewEntry builds an entry from its platform set and channel configurations.
//
// Channel order is kept: when several wildcard patterns match the same key,
// the first registered one wins. Duplicate patterns and channels registered
// for platforms outside the entry's platform set are rejected.
func NewEntry(typePattern, name string, platforms []Platform, channels []ChannelConfig) (*DeviceMappingEntry, error) {
	if typePattern == "" {
		return nil, fmt.Errorf("type pattern is required")
	}

	set := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown platform %q", p)
		}
		if !slices.Contains(set, p) {
			set = append(set, p)
		}
	}

	e := &DeviceMappingEntry{
		typePattern: typePattern,
		name:        name,
		platforms:   set,
		channels:    make([]ChannelConfig, 0, len(channels)),
		literal:     make(map[string]int, len(channels)),
	}

	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch.Pattern == "" {
			return nil, fmt.Errorf("channel pattern is required")
		}
		if seen[ch.Pattern] {
			return nil, fmt.Errorf("channel %q registered twice", ch.Pattern)
		}
		seen[ch.Pattern] = true

		if len(ch.Config.Platforms) == 0 {
			return nil, fmt.Errorf("channel %q has no platform", ch.Pattern)
		}
		for _, p := range ch.Config.Platforms {
			if !slices.Contains(set, p) {
				return nil, fmt.Errorf("channel %q tagged for platform %q outside entry platforms", ch.Pattern, p)
			}
		}

		if !IsWildcard(ch.Pattern) {
			e.literal[ch.Pattern] = len(e.channels)
		}
		e.channels = append(e.channels, ChannelConfig{Pattern: ch.Pattern, Config: ch.Config.Clone()})
	}

	return e, nil
}

// TypePattern returns the exact type id or glob the entry was registered for
func (e *DeviceMappingEntry) TypePattern() string { return e.typePattern }

// Name returns the human readable model name
func (e *DeviceMappingEntry) Name() string { return e.name }

// Platforms returns the entry's platform set
func (e *DeviceMappingEntry) Platforms() []Platform { return slices.Clone(e.platforms) }

// Supports reports whether the entry's platform set includes p
func (e *DeviceMappingEntry) Supports(p Platform) bool {
	return slices.Contains(e.platforms, p)
}

// Channels returns the channel configurations in registration order
func (e *DeviceMappingEntry) Channels() []ChannelConfig {
	out := make([]ChannelConfig, len(e.channels))
	for i, ch := range e.channels {
		out[i] = ChannelConfig{Pattern: ch.Pattern, Config: ch.Config.Clone()}
	}
	return out
}

// IOConfigs returns the pattern to configuration mapping
func (e *DeviceMappingEntry) IOConfigs() map[string]IOConfig {
	out := make(map[string]IOConfig, len(e.channels))
	for _, ch := range e.channels {
		out[ch.Pattern] = ch.Config.Clone()
	}
	return out
}

// lookupChannel finds the configuration for a concrete channel key: a
// literal registration first, then the first matching wildcard.
func (e *DeviceMappingEntry) lookupChannel(key string) (IOConfig, bool) {
	if i, ok := e.literal[key]; ok {
		return e.channels[i].Config, true
	}
	for _, ch := range e.channels {
		if IsWildcard(ch.Pattern) && matchPattern(ch.Pattern, key) {
			return ch.Config, true
		}
	}
	return IOConfig{}, false
}

// Resolve returns the configuration of a channel key, falling back to the
// passthrough default when the entry does not configure it
func (e *DeviceMappingEntry) Resolve(key string) IOConfig {
	if e == nil {
		return DefaultIOConfig()
	}
	cfg, ok := e.lookupChannel(key)
	if !ok {
		return DefaultIOConfig()
	}
	return cfg.Clone()
}
