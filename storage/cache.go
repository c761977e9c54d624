// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/bridge"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
)

const (
	// DefaultCacheDir is used when no cache directory is configured
	DefaultCacheDir = "/var/cache/lifesmart-bridge"
	// DefaultCacheMaxSize is the default cache size limit in bytes
	DefaultCacheMaxSize = 100 * 1024 * 1024
	// DefaultCacheMaxAge is how long a reading may wait in the cache
	DefaultCacheMaxAge = 24 * time.Hour

	cacheFilePrefix     = "state_"
	cacheFileExt        = ".json"
	healthCheckInterval = 30 * time.Second
	backendTimeout      = 5 * time.Second
)

// ErrCacheFull is returned when a reading does not fit in the cache
var ErrCacheFull = errors.New("cache is full")

// LocalCache keeps readings that could not be written as JSON files, one
// file per reading
type LocalCache struct {
	cacheDir    string
	maxSize     int64
	maxAge      time.Duration
	mu          sync.Mutex
	currentSize int64
	seq         atomic.Uint64
}

// CachedReading is a state reading waiting to be replayed
type CachedReading struct {
	Reading   *bridge.StateReading `json:"reading"`
	CachedAt  time.Time            `json:"cached_at"`
	AttemptID string               `json:"attempt_id"`
}

// NewLocalCache creates the cache directory and removes expired entries
func NewLocalCache(cacheDir string, maxSize int64, maxAge time.Duration) (*LocalCache, error) {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}

	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, apperrors.NewStorageError("cache", "", fmt.Errorf("failed to create cache directory: %w", err))
	}

	cache := &LocalCache{
		cacheDir: cacheDir,
		maxSize:  maxSize,
		maxAge:   maxAge,
	}

	if err := cache.updateCurrentSize(); err != nil {
		logger.Warn().Err(err).Msg("Failed to calculate initial cache size")
	}
	if err := cache.CleanupOld(); err != nil {
		logger.Warn().Err(err).Msg("Failed to cleanup old cache files")
	}

	return cache, nil
}

// Write stores one reading
func (lc *LocalCache) Write(reading *bridge.StateReading) error {
	if err := ValidateReading(reading); err != nil {
		return err
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.currentSize >= lc.maxSize {
		return fmt.Errorf("%w (%d >= %d bytes)", ErrCacheFull, lc.currentSize, lc.maxSize)
	}

	now := time.Now()
	cached := &CachedReading{
		Reading:  reading,
		CachedAt: now,
		// sequence keeps ids unique within one nanosecond
		AttemptID: fmt.Sprintf("%020d_%06d_%s", now.UnixNano(), lc.seq.Add(1)%1_000_000, safeName(reading.DeviceID)),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	filename := lc.generateFilename(cached.AttemptID)
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	lc.currentSize += int64(len(data))
	logger.Debug().
		Str("device_id", reading.DeviceID).
		Str("channel", reading.Channel).
		Str("filename", filepath.Base(filename)).
		Int64("cache_size", lc.currentSize).
		Msg("Written reading to cache")

	return nil
}

// ListCachedReadings returns cached readings, oldest first. Unreadable
// files are skipped.
func (lc *LocalCache) ListCachedReadings() ([]*CachedReading, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	files, err := lc.files()
	if err != nil {
		return nil, err
	}

	readings := make([]*CachedReading, 0, len(files))
	for _, file := range files {
		cached, _, err := readCached(file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Skipping unreadable cache file")
			continue
		}
		readings = append(readings, cached)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].CachedAt.Equal(readings[j].CachedAt) {
			return readings[i].AttemptID < readings[j].AttemptID
		}
		return readings[i].CachedAt.Before(readings[j].CachedAt)
	})

	return readings, nil
}

// DeleteCached removes one cached reading
func (lc *LocalCache) DeleteCached(attemptID string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	filename := lc.generateFilename(attemptID)
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat cache file: %w", err)
	}
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}

	lc.currentSize -= info.Size()
	return nil
}

// CleanupOld removes readings cached longer than maxAge
func (lc *LocalCache) CleanupOld() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	files, err := lc.files()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-lc.maxAge)
	deleted := 0
	for _, file := range files {
		cached, size, err := readCached(file)
		if err != nil || !cached.CachedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to delete old cache file")
			continue
		}
		deleted++
		lc.currentSize -= size
	}

	if deleted > 0 {
		logger.Info().Int("count", deleted).Msg("Cleaned up old cache files")
	}
	return nil
}

// Count returns the number of cached readings
func (lc *LocalCache) Count() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	files, err := lc.files()
	if err != nil {
		return 0
	}
	return len(files)
}

// GetCacheSize returns the current cache size in bytes
func (lc *LocalCache) GetCacheSize() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.currentSize
}

// GetMaxSize returns the maximum cache size
func (lc *LocalCache) GetMaxSize() int64 {
	return lc.maxSize
}

func (lc *LocalCache) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(lc.cacheDir, cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache files: %w", err)
	}
	return files, nil
}

func (lc *LocalCache) updateCurrentSize() error {
	files, err := lc.files()
	if err != nil {
		return err
	}

	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		total += info.Size()
	}

	lc.currentSize = total
	return nil
}

func (lc *LocalCache) generateFilename(attemptID string) string {
	return filepath.Join(lc.cacheDir, cacheFilePrefix+attemptID+cacheFileExt)
}

func readCached(file string) (*CachedReading, int64, error) {
	data, err := os.ReadFile(file) // #nosec G304 -- path comes from our own glob
	if err != nil {
		return nil, 0, err
	}
	var cached CachedReading
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, 0, err
	}
	if cached.Reading == nil {
		return nil, 0, fmt.Errorf("cache file carries no reading")
	}
	return &cached, int64(len(data)), nil
}

// safeName keeps device ids usable inside file names
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
}

// Backend is the storage a CachingStorage falls back from
type Backend interface {
	WriteReading(ctx context.Context, reading *bridge.StateReading) error
	Flush()
	Close()
	Health(ctx context.Context) error
}

// CachingStorage writes readings to a backend and caches them locally while
// the backend is failing. Cached readings are replayed once it is healthy.
type CachingStorage struct {
	storage      Backend
	cache        *LocalCache
	ctx          context.Context
	cancel       context.CancelFunc
	replayWg     sync.WaitGroup
	interval     time.Duration
	cacheEnabled bool
	cacheMutex   sync.RWMutex
	replayMutex  sync.Mutex
}

// NewCachingStorage creates the wrapper and starts its replay loop
func NewCachingStorage(storage Backend, cache *LocalCache) *CachingStorage {
	return newCachingStorage(storage, cache, healthCheckInterval)
}

func newCachingStorage(storage Backend, cache *LocalCache, interval time.Duration) *CachingStorage {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &CachingStorage{
		storage:  storage,
		cache:    cache,
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
	}

	// Readings left over from a previous run are replayed like any others.
	if n := cache.Count(); n > 0 {
		cs.cacheEnabled = true
		metrics.CachedReadings.Set(float64(n))
		logger.Info().Int("count", n).Msg("Found cached readings from a previous run")
	}

	cs.replayWg.Add(1)
	go cs.monitorAndReplay()

	return cs
}

// WriteReading writes a reading, falling back to the cache if the backend
// fails. Invalid readings are rejected without caching.
func (cs *CachingStorage) WriteReading(ctx context.Context, reading *bridge.StateReading) error {
	if err := ValidateReading(reading); err != nil {
		return err
	}

	err := cs.storage.WriteReading(ctx, reading)
	if err == nil {
		return nil
	}
	if apperrors.IsValidationError(err) {
		return err
	}

	logger.Warn().Err(err).Str("device_id", reading.DeviceID).Str("channel", reading.Channel).
		Msg("InfluxDB write failed, caching locally")

	cs.cacheMutex.Lock()
	if !cs.cacheEnabled {
		cs.cacheEnabled = true
		logger.Error().Err(err).Msg("InfluxDB unavailable, local cache enabled")
	}
	cs.cacheMutex.Unlock()

	if cacheErr := cs.cache.Write(reading); cacheErr != nil {
		return apperrors.NewStorageError("cache", reading.DeviceID,
			fmt.Errorf("influxdb write failed and cache write failed: influxdb=%w, cache=%w", err, cacheErr))
	}
	metrics.CachedReadings.Inc()

	if size, limit := cs.cache.GetCacheSize(), cs.cache.GetMaxSize(); float64(size)/float64(limit) > 0.8 {
		logger.Warn().Int64("cache_size", size).Int64("max_size", limit).Msg("Local cache above 80% of its limit")
	}

	return nil
}

// WriteBatch writes readings one by one so each can fall back to the cache
func (cs *CachingStorage) WriteBatch(ctx context.Context, readings []*bridge.StateReading) error {
	for i, reading := range readings {
		if err := cs.WriteReading(ctx, reading); err != nil {
			return fmt.Errorf("failed to write reading %d/%d: %w", i+1, len(readings), err)
		}
	}
	return nil
}

// Flush flushes pending writes
func (cs *CachingStorage) Flush() {
	cs.storage.Flush()
}

// Close stops the replay loop and closes the backend
func (cs *CachingStorage) Close() {
	logger.Info().Msg("Closing caching storage")
	cs.cancel()
	cs.replayWg.Wait()
	cs.storage.Close()
}

// Health checks backend health
func (cs *CachingStorage) Health(ctx context.Context) error {
	return cs.storage.Health(ctx)
}

// Caching reports whether writes are currently going to the local cache
func (cs *CachingStorage) Caching() bool {
	cs.cacheMutex.RLock()
	defer cs.cacheMutex.RUnlock()
	return cs.cacheEnabled
}

func (cs *CachingStorage) monitorAndReplay() {
	defer cs.replayWg.Done()

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			if !cs.Caching() {
				continue
			}
			cs.tryReplay()
		}
	}
}

// tryReplay replays the cache if the backend is healthy and disables
// caching once it is empty
func (cs *CachingStorage) tryReplay() {
	healthCtx, cancel := context.WithTimeout(cs.ctx, backendTimeout)
	err := cs.storage.Health(healthCtx)
	cancel()
	if err != nil {
		logger.Debug().Err(err).Msg("InfluxDB still unhealthy, keeping cache enabled")
		return
	}

	logger.Info().Msg("InfluxDB is healthy, replaying cached readings")
	remaining, err := cs.replayCachedData()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to replay cached readings")
		return
	}
	if remaining > 0 || cs.cache.Count() > 0 {
		return
	}

	cs.cacheMutex.Lock()
	cs.cacheEnabled = false
	cs.cacheMutex.Unlock()
	logger.Info().Msg("InfluxDB recovered, local cache drained")
}

// replayCachedData writes cached readings oldest first and returns how many
// are left in the cache
func (cs *CachingStorage) replayCachedData() (int, error) {
	cs.replayMutex.Lock()
	defer cs.replayMutex.Unlock()

	readings, err := cs.cache.ListCachedReadings()
	if err != nil {
		return 0, fmt.Errorf("failed to list cached readings: %w", err)
	}
	if len(readings) == 0 {
		metrics.CachedReadings.Set(0)
		return 0, nil
	}

	success, failed := 0, 0
	for _, cached := range readings {
		if cs.ctx.Err() != nil {
			break
		}
		writeCtx, cancel := context.WithTimeout(cs.ctx, backendTimeout)
		err := cs.storage.WriteReading(writeCtx, cached.Reading)
		cancel()
		if err != nil {
			logger.Warn().Err(err).
				Str("device_id", cached.Reading.DeviceID).
				Str("attempt_id", cached.AttemptID).
				Msg("Failed to replay cached reading")
			failed++
			// The backend is failing again; keep the rest for the next tick.
			if errors.Is(err, apperrors.ErrCircuitBreakerOpen) {
				break
			}
			continue
		}
		if err := cs.cache.DeleteCached(cached.AttemptID); err != nil {
			logger.Warn().Err(err).Str("attempt_id", cached.AttemptID).Msg("Failed to delete replayed reading from cache")
		}
		success++
	}
	cs.storage.Flush()

	remaining := len(readings) - success
	metrics.CachedReadings.Set(float64(remaining))
	logger.Info().
		Int("success", success).
		Int("failed", failed).
		Int("total", len(readings)).
		Msg("Finished replaying cached readings")

	return remaining, nil
}
