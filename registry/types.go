// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	"maps"
	"path"
	"slices"
	"strings"
)

// Platform is a category of host entity a channel can be projected into
type Platform string

// Known platforms.
const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformLight        Platform = "light"
	PlatformCover        Platform = "cover"
	PlatformClimate      Platform = "climate"
)

// AllPlatforms lists every platform in a stable order.
var AllPlatforms = []Platform{
	PlatformSensor,
	PlatformBinarySensor,
	PlatformSwitch,
	PlatformLight,
	PlatformCover,
	PlatformClimate,
}

// Valid reports whether p is a known platform
func (p Platform) Valid() bool {
	return slices.Contains(AllPlatforms, p)
}

// Access describes the direction a channel can be used in
type Access string

// Access modes.
const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "read_write"
)

// Readable reports whether the channel's state can be read
func (a Access) Readable() bool {
	return a == AccessRead || a == AccessReadWrite
}

// Writable reports whether the channel accepts commands
func (a Access) Writable() bool {
	return a == AccessWrite || a == AccessReadWrite
}

// DataType is the type a resolved value is delivered as
type DataType string

// Data types.
const (
	DataTypeInteger DataType = "integer"
	DataTypeFloat   DataType = "float"
	DataTypeString  DataType = "string"
	DataTypeBool    DataType = "bool"
)

// ConversionKind tags the strategy turning a raw record into a value
type ConversionKind string

// Conversion kinds.
const (
	ConversionRaw     ConversionKind = "raw"
	ConversionScaled  ConversionKind = "scaled"
	ConversionIEEE754 ConversionKind = "ieee754"
	ConversionEnum    ConversionKind = "enum"
	ConversionVerbose ConversionKind = "verbose"
)

// DefaultDataType returns the data type a conversion produces when the
// registry does not declare one
func (k ConversionKind) DefaultDataType() DataType {
	switch k {
	case ConversionScaled, ConversionIEEE754:
		return DataTypeFloat
	case ConversionEnum, ConversionVerbose:
		return DataTypeString
	default:
		return DataTypeInteger
	}
}

// Conversion is the tagged conversion variant. Divisor is only meaningful
// for ConversionScaled.
type Conversion struct {
	Kind    ConversionKind `yaml:"kind"`
	Divisor float64        `yaml:"divisor,omitempty"`
}

// Raw returns the passthrough conversion
func Raw() Conversion { return Conversion{Kind: ConversionRaw} }

// Scaled returns a scaled-integer conversion dividing val by divisor
func Scaled(divisor float64) Conversion {
	return Conversion{Kind: ConversionScaled, Divisor: divisor}
}

// IEEE754 returns the packed-float conversion
func IEEE754() Conversion { return Conversion{Kind: ConversionIEEE754} }

// Enum returns the enum lookup conversion
func Enum() Conversion { return Conversion{Kind: ConversionEnum} }

// Verbose returns the verbose-priority conversion
func Verbose() Conversion { return Conversion{Kind: ConversionVerbose} }

// IOConfig is the fully resolved configuration of one channel
type IOConfig struct {
	Description string
	Access      Access
	DataType    DataType
	Conversion  Conversion
	DeviceClass string
	Unit        string
	StateClass  string
	EnumTable   map[int64]string
	Platforms   []Platform // registered platform first, then explicit extra tags
}

// DefaultIOConfig is returned for channels without configuration
func DefaultIOConfig() IOConfig {
	return IOConfig{
		Access:     AccessRead,
		DataType:   DataTypeInteger,
		Conversion: Raw(),
	}
}

// AppliesTo reports whether the channel is tagged for platform p
func (c IOConfig) AppliesTo(p Platform) bool {
	return slices.Contains(c.Platforms, p)
}

// Clone returns a deep copy so callers never share registry storage
func (c IOConfig) Clone() IOConfig {
	out := c
	out.EnumTable = maps.Clone(c.EnumTable)
	out.Platforms = slices.Clone(c.Platforms)
	return out
}

// ChannelConfig binds a channel key pattern to its configuration
type ChannelConfig struct {
	Pattern string
	Config  IOConfig
}

// IsWildcard reports whether a type or channel pattern contains glob syntax
func IsWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// matchPattern matches a literal or glob pattern against a name. Malformed
// globs never match; the loader rejects them before they get here.
func matchPattern(pattern, name string) bool {
	if !IsWildcard(pattern) {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
