// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
)

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	defaultHalfOpenRequests = 1
)

// BreakerSettings tunes the write circuit breaker. Zero values select defaults.
type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures that open the breaker
	ResetTimeout     time.Duration // time spent open before probing
	HalfOpenRequests uint32        // probes allowed while half-open
}

// Breaker guards calls to a backend with a gobreaker circuit breaker and
// mirrors its state into the circuit breaker gauge
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, s BreakerSettings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = defaultResetTimeout
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = defaultHalfOpenRequests
	}

	threshold := s.FailureThreshold
	metrics.CircuitBreakerState.Set(float64(gobreaker.StateClosed))

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})}
}

// Execute runs f unless the breaker is open. A rejected call returns an
// error wrapping ErrCircuitBreakerOpen.
func (b *Breaker) Execute(ctx context.Context, f func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", apperrors.ErrCircuitBreakerOpen, err)
	}
	return err
}

// State returns the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
