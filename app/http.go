// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/interfaces"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
)

const (
	readinessCheckTimeout = 5 * time.Second
	healthRateLimit       = 10
	healthRateBurst       = 20
)

// newServer builds the localhost-only metrics and health server
func newServer(port string, db interfaces.StateStorage, source interfaces.EventSource) *http.Server {
	healthLimiter := rate.NewLimiter(healthRateLimit, healthRateBurst)
	readyLimiter := rate.NewLimiter(healthRateLimit, healthRateBurst)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, db, source)
	}))

	return &http.Server{
		Addr:              "localhost:" + port,
		Handler:           mux,
		ReadHeaderTimeout: readinessCheckTimeout,
	}
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler reports liveness
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "OK")
}

// readinessCheckHandler reports ready once InfluxDB is healthy and the hub
// subscription is connected
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, db interfaces.StateStorage, source interfaces.EventSource) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: InfluxDB unhealthy")
		writeStatus(w, http.StatusServiceUnavailable, "NOT READY: InfluxDB unhealthy")
		return
	}
	if !source.IsConnected() {
		logger.Warn().Msg("Readiness check failed: MQTT broker not connected")
		writeStatus(w, http.StatusServiceUnavailable, "NOT READY: MQTT broker not connected")
		return
	}

	writeStatus(w, http.StatusOK, "READY")
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error().Err(err).Msg("Failed to write health check response")
	}
}
