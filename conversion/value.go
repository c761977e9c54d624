// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package conversion

import (
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// ResolvedValue is the typed, annotated output of a conversion.
//
// Value holds int64, float64, string, bool or nil. A nil Value means the
// state is unknown; the annotations are still filled from the channel
// configuration so the entity can be rendered as "unknown".
type ResolvedValue struct {
	Value       any               `json:"value"`
	DataType    registry.DataType `json:"data_type"`
	DeviceClass string            `json:"device_class,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	StateClass  string            `json:"state_class,omitempty"`
}

// Known reports whether the conversion produced a value
func (v ResolvedValue) Known() bool {
	return v.Value != nil
}

// Float64 returns the value as a number. Bools read as 0/1; strings and
// unknown values are not numeric.
func (v ResolvedValue) Float64() (float64, bool) {
	switch x := v.Value.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func annotate(value any, dt registry.DataType, cfg registry.IOConfig) ResolvedValue {
	return ResolvedValue{
		Value:       value,
		DataType:    dt,
		DeviceClass: cfg.DeviceClass,
		Unit:        cfg.Unit,
		StateClass:  cfg.StateClass,
	}
}
