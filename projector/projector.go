// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package projector merges incoming update payloads into resolved values.
//
// Project is the per-update entry point: it normalises whichever payload
// shape the hub sent into a single device.RawIORecord, resolves the
// channel's configuration from the registry and runs the conversion engine.
// A Projector holds no mutable state, so concurrent calls for any mix of
// devices and channels are independent.
package projector

import (
	"fmt"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/conversion"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// Projector resolves update payloads against a registry
type Projector struct {
	registry *registry.Registry
	engine   *conversion.Engine
}

// New creates a projector. A nil engine selects the built-in conversions.
func New(reg *registry.Registry, engine *conversion.Engine) *Projector {
	if engine == nil {
		engine = conversion.NewEngine()
	}
	return &Projector{registry: reg, engine: engine}
}

// Registry returns the registry the projector resolves against
func (p *Projector) Registry() *registry.Registry {
	return p.registry
}

// Project resolves the value of one channel from an update payload.
//
// Only a payload matching no recognised shape is an error; undecodable
// content resolves to an unknown value.
func (p *Projector) Project(dev *device.DeviceDescriptor, key string, payload map[string]any) (conversion.ResolvedValue, error) {
	rec, shape, reason := normalize(key, payload)
	if shape == ShapeUnknown {
		return conversion.ResolvedValue{}, apperrors.NewPayloadError(deviceID(dev), key, reason)
	}
	return p.ProjectRecord(dev, key, rec), nil
}

// ProjectJSON decodes a JSON payload and projects it
func (p *Projector) ProjectJSON(dev *device.DeviceDescriptor, key string, data []byte) (conversion.ResolvedValue, error) {
	payload, err := device.DecodeObject(data)
	if err != nil {
		return conversion.ResolvedValue{}, &apperrors.PayloadError{
			DeviceID: deviceID(dev),
			Channel:  key,
			Reason:   "payload is not a JSON object",
			Err:      fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err),
		}
	}
	return p.Project(dev, key, payload)
}

// ProjectRecord converts an already normalised record
func (p *Projector) ProjectRecord(dev *device.DeviceDescriptor, key string, rec device.RawIORecord) conversion.ResolvedValue {
	cfg := p.registry.Resolve(dev, key)
	return p.engine.ConvertConfig(rec, cfg)
}

func deviceID(dev *device.DeviceDescriptor) string {
	if dev == nil {
		return ""
	}
	return dev.DeviceID
}
