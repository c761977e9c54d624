// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/app"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
)

// setupDebugSignalHandlers installs the debug dumps:
//
//	kill -USR1 <pid>  # tracked devices, cache and runtime state
//	kill -USR2 <pid>  # goroutine stack traces
func setupDebugSignalHandlers(application *app.App) {
	dumps := map[os.Signal]func(){
		syscall.SIGUSR1: application.DumpApplicationState,
		syscall.SIGUSR2: app.DumpGoroutineStackTraces,
	}

	debugSigChan := make(chan os.Signal, len(dumps))
	for sig := range dumps {
		signal.Notify(debugSigChan, sig)
	}
	go func() {
		for sig := range debugSigChan {
			logger.Debug().Str("signal", sig.String()).Msg("Debug dump requested")
			dumps[sig]()
		}
	}()
}
