// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/util"
)

//go:embed devices.yaml
var devicesYAML []byte

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// rawTable is the YAML-level representation of the registry file.
type rawTable struct {
	Version string     `yaml:"version" validate:"required"`
	Devices []rawEntry `yaml:"devices" validate:"required,min=1,dive"`
}

type rawEntry struct {
	Type      string       `yaml:"type" validate:"required"`
	Name      string       `yaml:"name,omitempty"`
	Platforms []string     `yaml:"platforms" validate:"required,min=1,dive,oneof=sensor binary_sensor switch light cover climate"`
	Channels  []rawChannel `yaml:"channels" validate:"dive"`
}

type rawChannel struct {
	Key         string           `yaml:"key" validate:"required"`
	Platform    string           `yaml:"platform" validate:"required,oneof=sensor binary_sensor switch light cover climate"`
	Also        []string         `yaml:"also,omitempty" validate:"omitempty,dive,oneof=sensor binary_sensor switch light cover climate"`
	Description string           `yaml:"description,omitempty"`
	Access      string           `yaml:"access,omitempty" validate:"omitempty,oneof=read write read_write"`
	DataType    string           `yaml:"data_type,omitempty" validate:"omitempty,oneof=integer float string bool"`
	Conversion  rawConversion    `yaml:"conversion,omitempty"`
	DeviceClass string           `yaml:"device_class,omitempty"`
	Unit        string           `yaml:"unit,omitempty"`
	StateClass  string           `yaml:"state_class,omitempty"`
	Enum        map[int64]string `yaml:"enum,omitempty"`
}

type rawConversion struct {
	Kind    string  `yaml:"kind,omitempty" validate:"omitempty,oneof=raw scaled ieee754 enum verbose"`
	Divisor float64 `yaml:"divisor,omitempty" validate:"required_if=Kind scaled"`
}

// Default returns the registry built from the embedded device table. The
// table is parsed once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Load(devicesYAML)
	})
	return defaultReg, defaultErr
}

// Embedded returns the raw embedded device table
func Embedded() []byte {
	out := make([]byte, len(devicesYAML))
	copy(out, devicesYAML)
	return out
}

// LoadFile builds a registry from a YAML file on disk
func LoadFile(filePath string) (*Registry, error) {
	data, err := util.ReadFileSafely(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Load(data)
}

// Load parses and validates a registry table. Any invalid entry fails the
// whole load with a RegistryError.
func Load(data []byte) (*Registry, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewRegistryError("", "", fmt.Errorf("parsing registry YAML: %w", err))
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(raw); err != nil {
		return nil, validationToRegistryError(raw, err)
	}

	entries := make([]*DeviceMappingEntry, 0, len(raw.Devices))
	for i := range raw.Devices {
		entry, err := buildEntry(&raw.Devices[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	reg, err := New(raw.Version, entries...)
	if err != nil {
		return nil, apperrors.NewRegistryError("", "devices", err)
	}
	return reg, nil
}

func buildEntry(re *rawEntry) (*DeviceMappingEntry, error) {
	if err := checkPattern(re.Type); err != nil {
		return nil, apperrors.NewRegistryError(re.Type, "type", err)
	}

	platforms := make([]Platform, 0, len(re.Platforms))
	for _, p := range re.Platforms {
		platforms = append(platforms, Platform(p))
	}

	channels := make([]ChannelConfig, 0, len(re.Channels))
	for i := range re.Channels {
		rc := &re.Channels[i]
		field := fmt.Sprintf("channels[%d]", i)

		if err := checkPattern(rc.Key); err != nil {
			return nil, apperrors.NewRegistryError(re.Type, field+".key", err)
		}

		cfg, err := buildIOConfig(rc)
		if err != nil {
			return nil, apperrors.NewRegistryError(re.Type, field, err)
		}
		channels = append(channels, ChannelConfig{Pattern: rc.Key, Config: cfg})
	}

	entry, err := NewEntry(re.Type, re.Name, platforms, channels)
	if err != nil {
		return nil, apperrors.NewRegistryError(re.Type, "", err)
	}
	return entry, nil
}

func buildIOConfig(rc *rawChannel) (IOConfig, error) {
	conv := Conversion{Kind: ConversionKind(rc.Conversion.Kind), Divisor: rc.Conversion.Divisor}
	if conv.Kind == "" {
		conv.Kind = ConversionRaw
	}
	if conv.Kind != ConversionScaled && conv.Divisor != 0 {
		return IOConfig{}, fmt.Errorf("divisor is only valid for scaled conversion")
	}
	if conv.Kind == ConversionEnum && len(rc.Enum) == 0 {
		return IOConfig{}, fmt.Errorf("enum conversion requires an enum table")
	}

	cfg := IOConfig{
		Description: rc.Description,
		Access:      Access(rc.Access),
		DataType:    DataType(rc.DataType),
		Conversion:  conv,
		DeviceClass: rc.DeviceClass,
		Unit:        rc.Unit,
		StateClass:  rc.StateClass,
		Platforms:   []Platform{Platform(rc.Platform)},
	}
	if len(rc.Enum) > 0 {
		cfg.EnumTable = make(map[int64]string, len(rc.Enum))
		for code, label := range rc.Enum {
			cfg.EnumTable[code] = label
		}
	}
	if cfg.Access == "" {
		cfg.Access = AccessRead
	}
	if cfg.DataType == "" {
		cfg.DataType = conv.Kind.DefaultDataType()
	}

	for _, extra := range rc.Also {
		p := Platform(extra)
		if slices.Contains(cfg.Platforms, p) {
			return IOConfig{}, fmt.Errorf("platform %q tagged twice", p)
		}
		cfg.Platforms = append(cfg.Platforms, p)
	}
	return cfg, nil
}

func checkPattern(pattern string) error {
	if !IsWildcard(pattern) {
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("malformed pattern %q: %w", pattern, err)
	}
	return nil
}

// validationToRegistryError reports the first failed validation rule
func validationToRegistryError(raw rawTable, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewRegistryError("", "", err)
	}

	fe := verrs[0]
	typePattern := ""
	var idx int
	if _, scanErr := fmt.Sscanf(fe.Namespace(), "rawTable.Devices[%d]", &idx); scanErr == nil && idx < len(raw.Devices) {
		typePattern = raw.Devices[idx].Type
	}
	return apperrors.NewRegistryError(typePattern, fe.Namespace(),
		fmt.Errorf("failed %q rule (value=%v)", fe.Tag(), fe.Value()))
}

// Encode writes a registry back in the file format Load reads
func Encode(r *Registry) ([]byte, error) {
	raw := rawTable{Version: r.Version()}
	for _, e := range r.entries {
		re := rawEntry{Type: e.TypePattern(), Name: e.Name()}
		for _, p := range e.platforms {
			re.Platforms = append(re.Platforms, string(p))
		}
		for _, ch := range e.channels {
			re.Channels = append(re.Channels, encodeChannel(ch))
		}
		raw.Devices = append(raw.Devices, re)
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding registry: %w", err)
	}
	return out, nil
}

func encodeChannel(ch ChannelConfig) rawChannel {
	cfg := ch.Config
	rc := rawChannel{
		Key:         ch.Pattern,
		Description: cfg.Description,
		Access:      string(cfg.Access),
		DataType:    string(cfg.DataType),
		Conversion:  rawConversion{Kind: string(cfg.Conversion.Kind), Divisor: cfg.Conversion.Divisor},
		DeviceClass: cfg.DeviceClass,
		Unit:        cfg.Unit,
		StateClass:  cfg.StateClass,
	}
	if len(cfg.Platforms) > 0 {
		rc.Platform = string(cfg.Platforms[0])
		for _, p := range cfg.Platforms[1:] {
			rc.Also = append(rc.Also, string(p))
		}
	}
	if len(cfg.EnumTable) > 0 {
		rc.Enum = make(map[int64]string, len(cfg.EnumTable))
		for k, v := range cfg.EnumTable {
			rc.Enum[k] = v
		}
	}
	return rc
}
