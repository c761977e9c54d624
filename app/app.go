// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the LifeSmart bridge together: hub events come in over
// MQTT, are projected into entity states and written to InfluxDB.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/config"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/interfaces"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/projector"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/storage"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/transport"
)

const (
	signalChannelSize    = 1
	writeTimeout         = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
	flushTimeout         = 10 * time.Second
	cacheCleanupInterval = time.Hour
)

// App represents the main application
type App struct {
	cfg           *config.Config
	cfgMu         sync.RWMutex
	server        *http.Server
	registry      *registry.Registry
	source        interfaces.EventSource
	bridge        *bridge.Bridge
	db            interfaces.StateStorage
	cache         *storage.LocalCache
	configWatcher *config.Watcher
	configChan    chan *config.Config
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	shutdownOnce  sync.Once
}

// components are the externally connected parts of an App
type components struct {
	registry *registry.Registry
	source   interfaces.EventSource
	db       interfaces.StateStorage
	cache    *storage.LocalCache
}

// New creates a new application instance, connecting to InfluxDB and
// preparing the MQTT subscriber
func New(cfg *config.Config, metricsPort string, configPath string) (*App, error) {
	reg, err := LoadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	influxDB, err := storage.NewInfluxDBStorage(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize InfluxDB: %w", err)
	}

	cache, err := storage.NewLocalCache(cfg.Cache.Directory, cfg.Cache.MaxSize, cfg.Cache.MaxAge)
	if err != nil {
		influxDB.Close()
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}
	logger.Info().Str("directory", cfg.Cache.Directory).
		Int64("max_size_mb", cfg.Cache.MaxSize/(1024*1024)).
		Dur("max_age", cfg.Cache.MaxAge).
		Msg("Local cache initialized")

	subscriber := transport.NewSubscriber(transport.Options{
		Broker:     cfg.Hub.Broker,
		Topic:      cfg.Hub.Topic,
		ClientID:   cfg.Hub.ClientID,
		Username:   cfg.Hub.Username,
		Password:   cfg.Hub.Password,
		QoS:        cfg.Hub.QoS,
		KeepAlive:  cfg.Hub.KeepAlive,
		EventsSize: cfg.Bridge.EventsChannelSize,
	})

	return newApp(cfg, metricsPort, configPath, components{
		registry: reg,
		source:   subscriber,
		db:       storage.NewCachingStorage(influxDB, cache),
		cache:    cache,
	}), nil
}

func newApp(cfg *config.Config, metricsPort, configPath string, c components) *App {
	a := &App{
		cfg:        cfg,
		registry:   c.registry,
		source:     c.source,
		db:         c.db,
		cache:      c.cache,
		bridge:     bridge.New(projector.New(c.registry, nil), cfg.Bridge.ReadingsChannelSize),
		configChan: make(chan *config.Config),
	}
	a.server = newServer(metricsPort, a.db, a.source)
	if configPath != "" {
		a.configWatcher = config.NewWatcher(configPath, a.configChan)
	}
	return a
}

// LoadRegistry returns the registry at path, or the embedded one when path
// is empty
func LoadRegistry(path string) (*registry.Registry, error) {
	var (
		reg *registry.Registry
		err error
	)
	if path == "" {
		reg, err = registry.Default()
	} else {
		reg, err = registry.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}

	source := path
	if source == "" {
		source = "embedded"
	}
	patterns := 0
	for _, e := range reg.Entries() {
		patterns += len(e.IOConfigs())
	}
	logger.Info().Str("source", source).Str("version", reg.Version()).Int("entries", reg.Len()).
		Int("channel_patterns", patterns).Msg("Device registry loaded")
	return reg, nil
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()

	if a.configWatcher != nil {
		a.configWatcher.Start(a.ctx)
	}

	a.startMetricsServer()
	a.setupSignalHandler()
	a.startConfigWatcher()

	if err := a.source.Start(a.ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start hub event source")
		a.Shutdown()
		a.performCleanup()
		return err
	}
	a.bridge.Start(a.ctx, a.source.Events())
	a.startDataWriter()

	a.runMainLoop()
	return nil
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// startDataWriter writes every reading the bridge emits. It drains the
// readings channel until the bridge closes it, so shutdown loses nothing
// already projected.
func (a *App) startDataWriter() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for reading := range a.bridge.Readings() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := a.db.WriteReading(ctx, reading); err != nil {
				logger.Error().Err(err).
					Str("device_id", reading.DeviceID).
					Str("channel", reading.Channel).
					Msg("Failed to store state reading")
			}
			cancel()
		}
		logger.Info().Msg("Readings channel closed, data writer exiting")
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.Shutdown()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// runMainLoop expires old cache entries until shutdown
func (a *App) runMainLoop() {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			logger.Info().Msg("Shutting down")
			a.performCleanup()
			return
		case <-ticker.C:
			if a.cache == nil {
				continue
			}
			if err := a.cache.CleanupOld(); err != nil {
				logger.Warn().Err(err).Msg("Cache cleanup failed")
			}
		}
	}
}

// Shutdown stops intake in pipeline order: HTTP server, event source,
// bridge, config watcher. Run returns once the writer has drained.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		logger.Info().Msg("Initiating graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			logger.Info().Msg("HTTP server stopped")
		}

		a.source.Stop()
		a.bridge.Stop()
		if a.configWatcher != nil {
			a.configWatcher.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
	})
}

// performCleanup waits for goroutines, then flushes and closes storage
func (a *App) performCleanup() {
	a.bridge.Stop()

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()

	flushDone := make(chan struct{})
	go func() {
		a.db.Flush()
		a.db.Close()
		close(flushDone)
	}()

	select {
	case <-flushDone:
		logger.Info().Msg("Storage flushed and closed")
	case <-flushCtx.Done():
		logger.Warn().Msg("Storage flush timeout - some data may be lost")
	}
	logger.Info().Msg("All goroutines finished, exiting")
}

// Config returns the active configuration
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// UpdateConfig applies a reloaded configuration. Only the log level takes
// effect at runtime; hub, registry, storage and buffer settings are fixed
// for the life of the process.
func (a *App) UpdateConfig(newCfg *config.Config) {
	a.cfgMu.Lock()
	old := a.cfg
	a.cfg = newCfg
	a.cfgMu.Unlock()

	logger.SetLevel(newCfg.Logging.Level)
	logger.Info().Str("level", newCfg.Logging.Level).Msg("Application configuration updated")

	if old.Hub != newCfg.Hub || old.Registry != newCfg.Registry ||
		old.InfluxDB != newCfg.InfluxDB || old.Bridge != newCfg.Bridge || old.Cache != newCfg.Cache {
		logger.Warn().Msg("Hub, registry, storage, bridge and cache settings changed; restart to apply them")
	}
}

// startConfigWatcher applies configurations delivered by the watcher
func (a *App) startConfigWatcher() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case newCfg := <-a.configChan:
				a.UpdateConfig(newCfg)
			}
		}
	}()
}
