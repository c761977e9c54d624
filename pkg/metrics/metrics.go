// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the LifeSmart bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts hub events by kind (snapshot, update)
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifesmart_events_received_total",
		Help: "Total number of hub events received",
	}, []string{"kind"})

	// EventDecodeErrors counts transport messages that could not be decoded
	EventDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_event_decode_errors_total",
		Help: "Total number of hub messages that failed to decode",
	})

	// UpdatesProjected counts channel updates resolved into entity state
	UpdatesProjected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_updates_projected_total",
		Help: "Total number of channel updates projected into entity state",
	})

	// UnknownValues counts projections that resolved to an unknown state
	UnknownValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_unknown_values_total",
		Help: "Total number of projections whose value could not be decoded",
	})

	// MalformedPayloads counts updates dropped for an unrecognised shape
	MalformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_malformed_payloads_total",
		Help: "Total number of update payloads dropped for a malformed shape",
	})

	// UnsupportedDevices counts snapshots for device types with no registry entry
	UnsupportedDevices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_unsupported_devices_total",
		Help: "Total number of device snapshots with no registry entry",
	})

	// DevicesTracked is the number of devices with live entities
	DevicesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifesmart_devices_tracked",
		Help: "Number of devices currently tracked by the bridge",
	})

	// EntitiesTracked is the number of entities per platform
	EntitiesTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lifesmart_entities_tracked",
		Help: "Number of entities currently tracked, per platform",
	}, []string{"platform"})

	// ReadingsDropped counts readings dropped because the output channel was full
	ReadingsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_readings_dropped_total",
		Help: "Total number of state readings dropped on a full channel",
	})

	// ProjectionDuration tracks how long projecting one event takes
	ProjectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lifesmart_projection_duration_seconds",
		Help:    "Duration of projecting one hub event in seconds",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	// CurrentValue is the last numeric value per entity
	CurrentValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lifesmart_entity_value",
		Help: "Last numeric value of an entity",
	}, []string{"device_id", "channel", "platform", "unit"})

	// InfluxDBWritesTotal tracks the total number of writes to InfluxDB
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_influxdb_writes_total",
		Help: "Total number of writes to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed writes to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifesmart_influxdb_write_errors_total",
		Help: "Total number of failed writes to InfluxDB",
	})

	// CircuitBreakerState exposes the storage breaker state (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifesmart_circuit_breaker_state",
		Help: "State of the InfluxDB circuit breaker (0=closed, 1=half-open, 2=open)",
	})

	// CachedReadings is the number of readings waiting in the local cache
	CachedReadings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifesmart_cached_readings",
		Help: "Number of state readings waiting in the local cache",
	})

	// MQTTConnected is 1 while the hub subscriber is connected
	MQTTConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifesmart_mqtt_connected",
		Help: "Whether the MQTT subscriber is connected (1) or not (0)",
	})
)
