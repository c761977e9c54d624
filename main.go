// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/app"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/config"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/storage"
)

const healthCheckTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	dumpRegistry := flag.Bool("dump-registry", false, "Print the active device registry as YAML and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	if *dumpRegistry {
		os.Exit(performRegistryDump(*configPath, os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.InitializeWithFormat(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info().Msg("Starting LifeSmart state bridge")
	logger.Info().Str("broker", cfg.Hub.Broker).
		Str("topic", cfg.Hub.Topic).
		Str("bucket", cfg.InfluxDB.Bucket).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(); err != nil {
		logger.Fatal().Err(err).Msg("Application stopped with error")
	}
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	influxDB, err := storage.NewInfluxDBStorage(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer influxDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := influxDB.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	if _, err := app.LoadRegistry(cfg.Registry.Path); err != nil {
		logger.Error().Err(err).Msg("Device registry validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	registryPath := cfg.Registry.Path
	if registryPath == "" {
		registryPath = "(embedded)"
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  MQTT Broker: %s\n", cfg.Hub.Broker)
	fmt.Printf("  MQTT Topic: %s\n", cfg.Hub.Topic)
	fmt.Printf("  MQTT Client ID: %s\n", cfg.Hub.ClientID)
	fmt.Printf("  MQTT QoS: %d\n", cfg.Hub.QoS)
	fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
	fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
	fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	fmt.Printf("  Device Registry: %s\n", registryPath)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Readings Channel Size: %d\n", cfg.Bridge.ReadingsChannelSize)
	fmt.Printf("  Events Channel Size: %d\n", cfg.Bridge.EventsChannelSize)
	fmt.Printf("  Cache Directory: %s\n", cfg.Cache.Directory)
	fmt.Printf("  Cache Max Size: %d MB\n", cfg.Cache.MaxSize/(1024*1024))
	fmt.Printf("  Cache Max Age: %s\n", cfg.Cache.MaxAge)

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}

// performRegistryDump writes the active registry table to out. The table
// comes from the config file's registry.path when the file loads, then from
// LIFESMART_REGISTRY_PATH, then the embedded default.
func performRegistryDump(configPath string, out io.Writer) int {
	logger.Initialize("error")

	path := os.Getenv("LIFESMART_REGISTRY_PATH")
	if cfg, err := config.Load(configPath); err == nil {
		path = cfg.Registry.Path
	}

	reg, err := app.LoadRegistry(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registry dump failed: %v\n", err)
		return 1
	}

	data, err := registry.Encode(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registry dump failed: could not encode registry: %v\n", err)
		return 1
	}
	if _, err := out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Registry dump failed: %v\n", err)
		return 1
	}
	return 0
}
