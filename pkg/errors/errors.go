// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the LifeSmart bridge.
//
// The mapping core treats almost every data-content problem as a local
// recovery (unknown device, unconfigured channel, undecodable number). The
// types below cover the conditions that are surfaced to callers: payloads
// whose shape breaks the transport contract, registry data that cannot be
// loaded, and the usual infrastructure failures around the core.
//
// # Example Usage
//
//	_, err := proj.Project(dev, "P1", payload)
//	if errors.IsPayloadError(err) {
//	    logger.Warn().Err(err).Msg("Dropping malformed update")
//	}
//
//	var pe *errors.PayloadError
//	if errors.As(err, &pe) {
//	    logger.Warn().Str("channel", pe.Channel).Msg("Bad payload shape")
//	}
package errors

import (
	"errors"
	"fmt"
)

// PayloadError represents an update payload that matches none of the
// recognised shapes.
type PayloadError struct {
	DeviceID string // Device the payload was addressed to (if known)
	Channel  string // Channel being projected
	Reason   string // What was wrong with the shape
	Err      error  // Underlying error, usually ErrMalformedPayload
}

func (e *PayloadError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("payload (device=%s channel=%s): %s: %v", e.DeviceID, e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("payload (channel=%s): %s: %v", e.Channel, e.Reason, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// NewPayloadError creates a new payload error wrapping ErrMalformedPayload.
func NewPayloadError(deviceID, channel, reason string) *PayloadError {
	return &PayloadError{DeviceID: deviceID, Channel: channel, Reason: reason, Err: ErrMalformedPayload}
}

// IsPayloadError checks if an error is a PayloadError.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}

// RegistryError represents capability registry data that failed to load.
type RegistryError struct {
	Type  string // Device type pattern of the offending entry (if applicable)
	Field string // Offending field, e.g. "channels[2].conversion.divisor"
	Err   error  // Underlying error
}

func (e *RegistryError) Error() string {
	switch {
	case e.Type != "" && e.Field != "":
		return fmt.Sprintf("registry entry %q field %s: %v", e.Type, e.Field, e.Err)
	case e.Type != "":
		return fmt.Sprintf("registry entry %q: %v", e.Type, e.Err)
	case e.Field != "":
		return fmt.Sprintf("registry field %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("registry: %v", e.Err)
	}
}

func (e *RegistryError) Unwrap() []error {
	return []error{ErrInvalidRegistry, e.Err}
}

// NewRegistryError creates a new registry error.
func NewRegistryError(typePattern, field string, err error) *RegistryError {
	return &RegistryError{Type: typePattern, Field: field, Err: err}
}

// IsRegistryError checks if an error is a RegistryError.
func IsRegistryError(err error) bool {
	var re *RegistryError
	return errors.As(err, &re)
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Op       string // Operation being performed (e.g., "write", "query", "cache")
	DeviceID string // Device ID involved in the operation (if applicable)
	Err      error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("storage %s (device=%s): %v", e.Op, e.DeviceID, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, deviceID string, err error) *StorageError {
	return &StorageError{Op: op, DeviceID: deviceID, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransportError represents an error receiving events from the hub.
type TransportError struct {
	Op    string // Operation being performed (e.g., "connect", "subscribe", "decode")
	Topic string // Topic or address involved (if applicable)
	Err   error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Topic, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s failed", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error.
func NewTransportError(op string, topic string, err error) *TransportError {
	return &TransportError{Op: op, Topic: topic, Err: err}
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Sentinel errors for common conditions
var (
	// ErrMalformedPayload indicates an update payload matching no known shape
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownDevice indicates an update for a device that has no entities
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidRegistry indicates registry data that failed validation
	ErrInvalidRegistry = errors.New("invalid registry")

	// ErrCircuitBreakerOpen indicates the storage circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionClosed indicates a connection was closed
	ErrConnectionClosed = errors.New("connection closed")
)
