// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/app"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist.
// The /metrics endpoint and logs remain available there.
func setupDebugSignalHandlers(_ *app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
