// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"runtime"
	"sort"
	"strings"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/interfaces"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/storage"
)

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	dumpTrackedDevices(a.bridge, a.source.IsConnected())

	if cs, ok := a.db.(*storage.CachingStorage); ok {
		logger.Info().Bool("caching", cs.Caching()).Msg("Storage state")
	}
	if a.cache != nil {
		logger.Info().
			Int("cached_readings", a.cache.Count()).
			Int64("cache_bytes", a.cache.GetCacheSize()).
			Msg("Local cache state")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// dumpTrackedDevices logs every tracked device with its entity count
func dumpTrackedDevices(tracker interfaces.DeviceTracker, hubConnected bool) {
	devices := tracker.Devices()
	logger.Info().
		Int("tracked_devices", tracker.TrackedDeviceCount()).
		Bool("hub_connected", hubConnected).
		Msg("Bridge state")

	for _, d := range devices {
		platforms := make([]string, 0, len(d.Entities))
		entities := 0
		for p, keys := range d.Entities {
			platforms = append(platforms, string(p))
			entities += len(keys)
		}
		sort.Strings(platforms)
		logger.Info().
			Str("hub_id", d.HubID).
			Str("device_id", d.DeviceID).
			Str("device_type", d.TypeID).
			Str("device_name", d.Name).
			Int("entities", entities).
			Str("platforms", strings.Join(platforms, ",")).
			Msg("Tracked device")
	}
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
