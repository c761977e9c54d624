// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces_test

import (
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/interfaces"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/storage"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/transport"
)

// Compile-time checks that the concrete components satisfy the interfaces.
var (
	_ interfaces.StateStorage  = (*storage.InfluxDBStorage)(nil)
	_ interfaces.StateStorage  = (*storage.CachingStorage)(nil)
	_ interfaces.StateQuerier  = (*storage.InfluxDBStorage)(nil)
	_ interfaces.EventSource   = (*transport.Subscriber)(nil)
	_ interfaces.DeviceTracker = (*bridge.Bridge)(nil)
)
