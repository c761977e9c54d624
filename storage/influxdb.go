// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage persists entity state readings to InfluxDB.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// Measurement is the InfluxDB measurement entity states are written to
const Measurement = "lifesmart_state"

const (
	healthTimeout  = 5 * time.Second
	maxFluxStrLen  = 1000
	queryLookback  = "-24h"
	fieldValue     = "value"
	fieldValueStr  = "value_str"
	fieldValueBool = "value_bool"
	fieldDataType  = "data_type"
	fieldAvailable = "available"
)

// pointWriter is the subset of api.WriteAPIBlocking used for writes
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxDBStorage writes entity state readings to InfluxDB
type InfluxDBStorage struct {
	client  influxdb2.Client
	writer  pointWriter
	breaker *Breaker
	bucket  string
	org     string
}

// NewInfluxDBStorage creates a new InfluxDB storage client and verifies the
// server is healthy before returning it
func NewInfluxDBStorage(url, token, org, bucket string) (*InfluxDBStorage, error) {
	if url == "" {
		return nil, apperrors.NewValidationError("influxdb.url", url, "must not be empty")
	}

	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	if err := checkHealth(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info().Str("url", url).Str("org", org).Str("bucket", bucket).Msg("Connected to InfluxDB")

	return &InfluxDBStorage{
		client:  client,
		writer:  client.WriteAPIBlocking(org, bucket),
		breaker: NewBreaker("influxdb", BreakerSettings{}),
		bucket:  bucket,
		org:     org,
	}, nil
}

func checkHealth(ctx context.Context, client influxdb2.Client) error {
	health, err := client.Health(ctx)
	if err != nil {
		return apperrors.NewStorageError("health", "", fmt.Errorf("failed to connect to InfluxDB: %w", err))
	}
	if health.Status != domain.HealthCheckStatusPass {
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return apperrors.NewStorageError("health", "", fmt.Errorf("InfluxDB health check failed: %s", message))
	}
	return nil
}

// ValidateReading rejects readings that cannot be stored
func ValidateReading(reading *bridge.StateReading) error {
	if reading == nil {
		return apperrors.NewValidationError("reading", nil, "must not be nil")
	}
	if reading.DeviceID == "" {
		return apperrors.NewValidationError("device_id", reading.DeviceID, "must not be empty")
	}
	if reading.Channel == "" {
		return apperrors.NewValidationError("channel", reading.Channel, "must not be empty")
	}
	if reading.Timestamp.IsZero() {
		return apperrors.NewValidationError("timestamp", reading.Timestamp, "must not be zero")
	}
	return nil
}

// NewPoint maps a reading onto a line protocol point. Empty tags are left
// out; the value lands in the field matching its Go type.
func NewPoint(reading *bridge.StateReading) *write.Point {
	p := write.NewPointWithMeasurement(Measurement).SetTime(reading.Timestamp)

	tags := []struct{ key, value string }{
		{"hub_id", reading.HubID},
		{"device_id", reading.DeviceID},
		{"device_type", reading.DeviceType},
		{"channel", reading.Channel},
		{"platform", string(reading.Platform)},
		{"device_class", reading.Value.DeviceClass},
		{"unit", reading.Value.Unit},
		{"state_class", reading.Value.StateClass},
	}
	for _, t := range tags {
		if t.value != "" {
			p.AddTag(t.key, t.value)
		}
	}

	switch v := reading.Value.Value.(type) {
	case string:
		p.AddField(fieldValueStr, v)
	case bool:
		p.AddField(fieldValueBool, v)
		if v {
			p.AddField(fieldValue, 1.0)
		} else {
			p.AddField(fieldValue, 0.0)
		}
	default:
		if f, ok := reading.Value.Float64(); ok {
			p.AddField(fieldValue, f)
		}
	}
	p.AddField(fieldDataType, string(reading.Value.DataType))
	p.AddField(fieldAvailable, reading.Available())
	return p
}

// WriteReading writes one reading through the circuit breaker
func (s *InfluxDBStorage) WriteReading(ctx context.Context, reading *bridge.StateReading) error {
	if err := ValidateReading(reading); err != nil {
		return err
	}
	return s.write(ctx, reading.DeviceID, NewPoint(reading))
}

// WriteBatch validates every reading and writes them in one request
func (s *InfluxDBStorage) WriteBatch(ctx context.Context, readings []*bridge.StateReading) error {
	if readings == nil {
		return apperrors.NewValidationError("readings", nil, "must not be nil")
	}
	if len(readings) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(readings))
	for i, reading := range readings {
		if err := ValidateReading(reading); err != nil {
			return fmt.Errorf("reading at index %d: %w", i, err)
		}
		points = append(points, NewPoint(reading))
	}
	return s.write(ctx, "", points...)
}

func (s *InfluxDBStorage) write(ctx context.Context, deviceID string, points ...*write.Point) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.writer.WritePoint(ctx, points...)
	})
	if err != nil {
		metrics.InfluxDBWriteErrors.Inc()
		return apperrors.NewStorageError("write", deviceID, err)
	}
	metrics.InfluxDBWritesTotal.Add(float64(len(points)))
	return nil
}

// Flush is a no-op: writes are blocking and complete before returning
func (s *InfluxDBStorage) Flush() {}

// Close closes the InfluxDB client
func (s *InfluxDBStorage) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	if s.client != nil {
		s.client.Close()
	}
}

// Health checks whether InfluxDB answers its health endpoint
func (s *InfluxDBStorage) Health(ctx context.Context) error {
	return checkHealth(ctx, s.client)
}

// BreakerState returns the state of the write circuit breaker
func (s *InfluxDBStorage) BreakerState() string {
	return s.breaker.State().String()
}

// QueryLatestState retrieves the most recent stored state of one entity
// channel. It returns nil when nothing was written in the lookback window.
func (s *InfluxDBStorage) QueryLatestState(ctx context.Context, hubID, deviceID, channel string) (*bridge.StateReading, error) {
	if deviceID == "" || channel == "" {
		return nil, apperrors.NewValidationError("device_id/channel", deviceID+"/"+channel, "must not be empty")
	}

	query := buildLatestQuery(s.bucket, hubID, deviceID, channel)
	result, err := s.client.QueryAPI(s.org).Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewStorageError("query", deviceID, err)
	}
	defer func() {
		_ = result.Close()
	}()

	var records []fluxRecord
	for result.Next() {
		record := result.Record()
		records = append(records, fluxRecord{
			field: record.Field(),
			value: record.Value(),
			at:    record.Time(),
			tag:   record.ValueByKey,
		})
	}
	if result.Err() != nil {
		return nil, apperrors.NewStorageError("query", deviceID, fmt.Errorf("query parsing failed: %w", result.Err()))
	}
	return latestReading(hubID, deviceID, channel, records), nil
}

// fluxRecord is one field of one stored point
type fluxRecord struct {
	field string
	value interface{}
	at    time.Time
	tag   func(string) interface{}
}

func (r fluxRecord) platform() string {
	p, _ := r.tag("platform").(string)
	return p
}

// latestReading rebuilds the newest point from per-field last() records.
// Each field series has its own last(), so a field missing from the newest
// point still reports an older value; only records at the newest time are
// used. A channel stored under several platforms yields the
// lexicographically first platform at that time.
func latestReading(hubID, deviceID, channel string, records []fluxRecord) *bridge.StateReading {
	if len(records) == 0 {
		return nil
	}

	var newest time.Time
	for _, r := range records {
		if r.at.After(newest) {
			newest = r.at
		}
	}
	platform := ""
	first := true
	for _, r := range records {
		if !r.at.Equal(newest) {
			continue
		}
		if p := r.platform(); first || p < platform {
			platform, first = p, false
		}
	}

	reading := &bridge.StateReading{HubID: hubID, DeviceID: deviceID, Channel: channel}
	available := true
	for _, r := range records {
		if !r.at.Equal(newest) || r.platform() != platform {
			continue
		}
		applyRecord(reading, r.tag, r.field, r.value, r.at)
		if r.field == fieldAvailable {
			if b, ok := r.value.(bool); ok {
				available = b
			}
		}
	}
	if !available {
		reading.Value.Value = nil
	}
	return reading
}

// applyRecord folds one Flux record (one field of a point) into reading
func applyRecord(reading *bridge.StateReading, tag func(string) interface{}, field string, value interface{}, at time.Time) {
	str := func(key string) string {
		s, _ := tag(key).(string)
		return s
	}
	if at.After(reading.Timestamp) {
		reading.Timestamp = at
	}
	if v := str("hub_id"); v != "" {
		reading.HubID = v
	}
	reading.DeviceType = str("device_type")
	reading.Platform = registry.Platform(str("platform"))
	reading.Value.DeviceClass = str("device_class")
	reading.Value.Unit = str("unit")
	reading.Value.StateClass = str("state_class")

	switch field {
	case fieldDataType:
		if s, ok := value.(string); ok {
			reading.Value.DataType = registry.DataType(s)
		}
	case fieldValueStr, fieldValueBool:
		reading.Value.Value = value
	case fieldValue:
		// value_bool and value_str carry the typed form when present
		if _, typed := reading.Value.Value.(bool); !typed {
			if _, typed := reading.Value.Value.(string); !typed {
				reading.Value.Value = value
			}
		}
	}
	if reading.Value.DataType == registry.DataTypeInteger {
		if f, ok := reading.Value.Value.(float64); ok {
			reading.Value.Value = int64(f)
		}
	}
}

func buildLatestQuery(bucket, hubID, deviceID, channel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: \"%s\")\n", sanitizeFluxString(bucket))
	fmt.Fprintf(&b, "\t|> range(start: %s)\n", queryLookback)
	fmt.Fprintf(&b, "\t|> filter(fn: (r) => r._measurement == \"%s\")\n", Measurement)
	if hubID != "" {
		fmt.Fprintf(&b, "\t|> filter(fn: (r) => r.hub_id == \"%s\")\n", sanitizeFluxString(hubID))
	}
	fmt.Fprintf(&b, "\t|> filter(fn: (r) => r.device_id == \"%s\")\n", sanitizeFluxString(deviceID))
	fmt.Fprintf(&b, "\t|> filter(fn: (r) => r.channel == \"%s\")\n", sanitizeFluxString(channel))
	b.WriteString("\t|> last()\n")
	return b.String()
}

// sanitizeFluxString escapes a value for use inside a Flux string literal.
// Control characters are dropped and the input is truncated first.
func sanitizeFluxString(s string) string {
	if len(s) > maxFluxStrLen {
		s = s[:maxFluxStrLen]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '"':
			b.WriteString(`\"`)
		case c == '$':
			b.WriteString(`\$`)
		case c < 0x20 || c == 0x7f:
			// dropped
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
