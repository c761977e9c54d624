// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package conversion turns raw LifeSmart I/O records into typed values.
//
// The Engine is a dispatch table keyed by registry.ConversionKind. Every
// entry is a pure Func; adding a conversion means adding a table entry, not
// a branch. One rule sits above the table: when a record carries a verbose
// v field and the channel is readable, v is the value, whatever the
// configured kind.
//
// Conversions never fail. Undecodable input produces a ResolvedValue with a
// nil Value and the channel's device class, unit and state class intact.
//
// # Example Usage
//
//	engine := conversion.NewEngine()
//	cfg := reg.Resolve(dev, "T")
//	rv := engine.ConvertConfig(dev.Channels["T"], cfg)
//	if rv.Known() {
//	    fmt.Printf("%v %s\n", rv.Value, rv.Unit)
//	}
package conversion

import (
	"maps"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

// Engine dispatches conversions by kind. It is immutable after NewEngine
// and safe for concurrent use.
type Engine struct {
	funcs map[registry.ConversionKind]Func
}

// Option customises an Engine
type Option func(*Engine)

// WithConversion registers or replaces the function for a kind
func WithConversion(kind registry.ConversionKind, fn Func) Option {
	return func(e *Engine) {
		if fn != nil {
			e.funcs[kind] = fn
		}
	}
}

// DefaultFuncs returns the built-in dispatch table
func DefaultFuncs() map[registry.ConversionKind]Func {
	return map[registry.ConversionKind]Func{
		registry.ConversionRaw:     Passthrough,
		registry.ConversionScaled:  Scaled,
		registry.ConversionIEEE754: IEEE754,
		registry.ConversionEnum:    EnumLookup,
		registry.ConversionVerbose: VerbosePriority,
	}
}

// NewEngine creates an engine with the built-in conversions
func NewEngine(opts ...Option) *Engine {
	e := &Engine{funcs: DefaultFuncs()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kinds returns the conversion kinds the engine can dispatch
func (e *Engine) Kinds() []registry.ConversionKind {
	kinds := make([]registry.ConversionKind, 0, len(e.funcs))
	for k := range maps.Keys(e.funcs) {
		kinds = append(kinds, k)
	}
	return kinds
}

// Convert runs one conversion.
//
// A present v on a readable channel short-circuits the table. Unknown kinds
// are treated as passthrough.
func (e *Engine) Convert(conv registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) ResolvedValue {
	if raw.V != nil && cfg.Access.Readable() {
		return annotate(raw.V, verboseType(raw.V), cfg)
	}

	fn, ok := e.funcs[conv.Kind]
	if !ok {
		fn = Passthrough
	}
	value, dt := fn(conv, raw, cfg)
	return annotate(value, dt, cfg)
}

// ConvertConfig runs the conversion configured on the channel
func (e *Engine) ConvertConfig(raw device.RawIORecord, cfg registry.IOConfig) ResolvedValue {
	return e.Convert(cfg.Conversion, raw, cfg)
}

var defaultEngine = NewEngine()

// Convert runs a conversion with the built-in table
func Convert(conv registry.Conversion, raw device.RawIORecord, cfg registry.IOConfig) ResolvedValue {
	return defaultEngine.Convert(conv, raw, cfg)
}
