// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package conversion

import (
	"math"
	"strconv"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// Func turns a raw record into a value and the data type it is delivered
// as. Implementations must be pure and must not panic on any input; an
// undecodable record yields a nil value.
type Func func(conv registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) (any, registry.DataType)

// Passthrough returns val typed per the channel's data type.
//
// A bool channel without val reads the on/off bit of the type flags, which
// is how the hub reports switch state on some firmware.
func Passthrough(_ registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) (any, registry.DataType) {
	switch cfg.DataType {
	case registry.DataTypeBool:
		if !raw.HasVal {
			return raw.IsOn(), registry.DataTypeBool
		}
		return raw.Val != 0, registry.DataTypeBool
	case registry.DataTypeFloat:
		if !raw.HasVal {
			return nil, registry.DataTypeFloat
		}
		return float64(raw.Val), registry.DataTypeFloat
	case registry.DataTypeString:
		if !raw.HasVal {
			return nil, registry.DataTypeString
		}
		return strconv.FormatInt(raw.Val, 10), registry.DataTypeString
	default:
		if !raw.HasVal {
			return nil, registry.DataTypeInteger
		}
		return raw.Val, registry.DataTypeInteger
	}
}

// Scaled divides val by the conversion divisor
func Scaled(conv registry.Conversion, raw device.RawIORecord, _ registry.IOConfig) (any, registry.DataType) {
	if !raw.HasVal || conv.Divisor == 0 || math.IsNaN(conv.Divisor) || math.IsInf(conv.Divisor, 0) {
		return nil, registry.DataTypeFloat
	}
	return float64(raw.Val) / conv.Divisor, registry.DataTypeFloat
}

// IEEE754 reinterprets the 32-bit pattern in val as a single precision
// float when the type flags carry the float tag.
//
// Without the tag the record is passed through as an integer, and the
// integer data type tells the caller that no float was decoded.
func IEEE754(conv registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) (any, registry.DataType) {
	if !raw.IsFloat() {
		fallback := cfg
		fallback.DataType = registry.DataTypeInteger
		return Passthrough(conv, raw, fallback)
	}
	if !raw.HasVal || raw.Val < math.MinInt32 || raw.Val > math.MaxUint32 {
		return nil, registry.DataTypeFloat
	}

	f := float64(math.Float32frombits(uint32(raw.Val)))
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, registry.DataTypeFloat
	}
	return f, registry.DataTypeFloat
}

// EnumLookup maps val through the channel's enum table. Unknown codes
// resolve to nil.
func EnumLookup(_ registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) (any, registry.DataType) {
	if !raw.HasVal {
		return nil, registry.DataTypeString
	}
	label, ok := cfg.EnumTable[raw.Val]
	if !ok {
		return nil, registry.DataTypeString
	}
	return label, registry.DataTypeString
}

// VerbosePriority returns v when present and val otherwise
func VerbosePriority(conv registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) (any, registry.DataType) {
	if raw.V != nil {
		return raw.V, verboseType(raw.V)
	}
	return Passthrough(conv, raw, cfg)
}

// verboseType types v by its own representation
func verboseType(v any) registry.DataType {
	switch v.(type) {
	case bool:
		return registry.DataTypeBool
	case string:
		return registry.DataTypeString
	case int64:
		return registry.DataTypeInteger
	default:
		return registry.DataTypeFloat
	}
}
