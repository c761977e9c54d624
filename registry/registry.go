// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package registry provides the capability registry for LifeSmart devices.
//
// The registry maps a device type identifier to a DeviceMappingEntry
// describing which platforms the device exposes and how each I/O channel is
// interpreted. It is built once at startup from the embedded devices.yaml
// table (or an override file) and never mutated afterwards, so it can be
// shared by any number of goroutines without locking.
//
// # Matching
//
// Lookup tries an exact type match first. Without one, wildcard entries are
// tried in registration order and the first match wins. No match means the
// device is unsupported; that is not an error.
//
// # Example Usage
//
//	reg, err := registry.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	plan := reg.EntityPlan(dev)
//	for _, key := range plan[registry.PlatformSensor] {
//	    cfg := reg.Resolve(dev, key)
//	    fmt.Println(key, cfg.Unit)
//	}
package registry

import (
	"fmt"
	"slices"
)

// Registry is the immutable device capability table
type Registry struct {
	version   string
	entries   []*DeviceMappingEntry // registration order
	exact     map[string]*DeviceMappingEntry
	wildcards []*DeviceMappingEntry
}

// New builds a registry from entries in registration order
func New(version string, entries ...*DeviceMappingEntry) (*Registry, error) {
	r := &Registry{
		version: version,
		entries: make([]*DeviceMappingEntry, 0, len(entries)),
		exact:   make(map[string]*DeviceMappingEntry, len(entries)),
	}

	wildcardSeen := make(map[string]bool)
	for _, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("nil registry entry")
		}
		pattern := e.TypePattern()
		if IsWildcard(pattern) {
			if wildcardSeen[pattern] {
				return nil, fmt.Errorf("device type pattern %q registered twice", pattern)
			}
			wildcardSeen[pattern] = true
			r.wildcards = append(r.wildcards, e)
		} else {
			if _, dup := r.exact[pattern]; dup {
				return nil, fmt.Errorf("device type %q registered twice", pattern)
			}
			r.exact[pattern] = e
		}
		r.entries = append(r.entries, e)
	}

	return r, nil
}

// Version returns the version string of the loaded table
func (r *Registry) Version() string { return r.version }

// Len returns the number of registered entries
func (r *Registry) Len() int { return len(r.entries) }

// Entries returns all entries in registration order
func (r *Registry) Entries() []*DeviceMappingEntry { return slices.Clone(r.entries) }

// Lookup finds the entry for a device type: exact match first, then the
// first matching wildcard in registration order
func (r *Registry) Lookup(typeID string) (*DeviceMappingEntry, bool) {
	if r == nil {
		return nil, false
	}
	if e, ok := r.exact[typeID]; ok {
		return e, true
	}
	for _, e := range r.wildcards {
		if matchPattern(e.TypePattern(), typeID) {
			return e, true
		}
	}
	return nil, false
}

// Supported reports whether a device type has a registry entry
func (r *Registry) Supported(typeID string) bool {
	_, ok := r.Lookup(typeID)
	return ok
}
