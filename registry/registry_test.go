// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
)

func newDevice(typeID string, keys ...string) *device.DeviceDescriptor {
	dev := &device.DeviceDescriptor{
		TypeID:   typeID,
		HubID:    "hub1",
		DeviceID: "dev1",
		Channels: make(map[string]device.RawIORecord, len(keys)),
	}
	for _, k := range keys {
		dev.Channels[k] = device.RawIORecord{HasVal: true}
	}
	return dev
}

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Default()
	require.NoError(t, err)
	return reg
}

func TestDefault(t *testing.T) {
	reg := defaultRegistry(t)

	assert.Equal(t, "2025.06.1", reg.Version())
	assert.Equal(t, 12, reg.Len())

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, reg, again, "embedded table should be parsed once")
}

func TestRegistry_Lookup(t *testing.T) {
	reg := defaultRegistry(t)

	tests := []struct {
		typeID      string
		wantPattern string
		wantFound   bool
	}{
		{"SL_SC_THL", "SL_SC_THL", true},
		{"SL_OE_3C", "SL_OE_3C", true},
		{"SL_SW_IF3", "SL_SW_IF*", true},
		{"SL_SW_RC", "SL_SW_*", true},
		{"SL_SW_IF", "SL_SW_IF*", true},
		{"SL_UNKNOWN_X", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.typeID, func(t *testing.T) {
			entry, ok := reg.Lookup(tt.typeID)
			assert.Equal(t, tt.wantFound, ok)
			if tt.wantFound {
				assert.Equal(t, tt.wantPattern, entry.TypePattern())
			} else {
				assert.Nil(t, entry)
			}
			assert.Equal(t, tt.wantFound, reg.Supported(tt.typeID))
		})
	}
}

func TestRegistry_LookupRegistrationOrder(t *testing.T) {
	chans := []ChannelConfig{{Pattern: "P1", Config: withPlatforms(DefaultIOConfig(), PlatformSwitch)}}
	broad, err := NewEntry("SL_*", "broad", []Platform{PlatformSwitch}, chans)
	require.NoError(t, err)
	narrow, err := NewEntry("SL_SW_*", "narrow", []Platform{PlatformSwitch}, chans)
	require.NoError(t, err)
	exact, err := NewEntry("SL_SW_X", "exact", []Platform{PlatformSwitch}, chans)
	require.NoError(t, err)

	reg, err := New("t", broad, narrow, exact)
	require.NoError(t, err)

	e, ok := reg.Lookup("SL_SW_Y")
	require.True(t, ok)
	assert.Equal(t, "broad", e.Name(), "first registered wildcard wins")

	e, ok = reg.Lookup("SL_SW_X")
	require.True(t, ok)
	assert.Equal(t, "exact", e.Name(), "exact match beats every wildcard")

	_, err = New("t", exact, exact)
	assert.Error(t, err)
	_, err = New("t", broad, broad)
	assert.Error(t, err)
}

func TestRegistry_LookupDeterministic(t *testing.T) {
	reg := defaultRegistry(t)

	for _, typeID := range []string{"SL_SC_THL", "SL_SW_IF2", "SL_UNKNOWN_X"} {
		first, ok1 := reg.Lookup(typeID)
		second, ok2 := reg.Lookup(typeID)
		assert.Equal(t, ok1, ok2)
		assert.Same(t, first, second)
	}
}

func TestExpand(t *testing.T) {
	reg := defaultRegistry(t)

	tests := []struct {
		name string
		dev  *device.DeviceDescriptor
		want []string
	}{
		{
			name: "wildcard channels",
			dev:  newDevice("SL_P_SW", "P3", "P1", "P2", "X"),
			want: []string{"P1", "P2", "P3"},
		},
		{
			name: "literal channels only when present",
			dev:  newDevice("SL_SC_THL", "T", "H", "EXTRA"),
			want: []string{"H", "T"},
		},
		{
			name: "single character glob",
			dev:  newDevice("SL_SW_IF3", "L1", "L2", "L3", "L10"),
			want: []string{"L1", "L2", "L3"},
		},
		{
			name: "several wildcard patterns",
			dev:  newDevice("SL_SW_NS2", "L1", "L2", "P1"),
			want: []string{"L1", "L2", "P1"},
		},
		{
			name: "nothing matches",
			dev:  newDevice("SL_SC_THL", "Q"),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := reg.Lookup(tt.dev.TypeID)
			require.True(t, ok)
			got := Expand(entry, tt.dev)
			assert.Equal(t, tt.want, got)
			for _, k := range got {
				assert.True(t, tt.dev.HasChannel(k), "expanded key %q not on device", k)
			}
		})
	}

	assert.Nil(t, Expand(nil, newDevice("SL_P_SW", "P1")))
}

func TestExpand_SubsetProperty(t *testing.T) {
	reg := defaultRegistry(t)
	keys := []string{"P1", "P2", "P9", "L1", "L22", "T", "H", "Z", "V", "G", "M", "[", "*"}

	for _, entry := range reg.Entries() {
		for i := range keys {
			dev := newDevice("x", keys[:i]...)
			for _, k := range Expand(entry, dev) {
				assert.True(t, dev.HasChannel(k), "entry %s invented key %q", entry.TypePattern(), k)
			}
		}
	}
}

func TestResolvePlatform(t *testing.T) {
	reg := defaultRegistry(t)

	plug := newDevice("SL_OE_3C", "P1", "P2", "P3")
	entry, ok := reg.Lookup(plug.TypeID)
	require.True(t, ok)

	assert.Equal(t, []string{"P1"}, ResolvePlatform(entry, plug, PlatformSwitch))
	assert.Equal(t, []string{"P2", "P3"}, ResolvePlatform(entry, plug, PlatformSensor))
	assert.Empty(t, ResolvePlatform(entry, plug, PlatformClimate))

	dimmer := newDevice("SL_SW_DM1", "P1", "P2")
	entry, ok = reg.Lookup(dimmer.TypeID)
	require.True(t, ok)
	assert.Equal(t, []string{"P1", "P2"}, ResolvePlatform(entry, dimmer, PlatformLight))
	assert.Equal(t, []string{"P2"}, ResolvePlatform(entry, dimmer, PlatformSensor), "only explicitly tagged channels join a second platform")
}

func TestResolvePlatform_Exclusivity(t *testing.T) {
	reg := defaultRegistry(t)
	dev := newDevice("", "P1", "P2", "P3", "P4", "P5", "P6", "T", "H", "L1", "G", "M", "V", "Z")

	for _, entry := range reg.Entries() {
		for _, p := range AllPlatforms {
			if entry.Supports(p) {
				continue
			}
			assert.Empty(t, ResolvePlatform(entry, dev, p), "entry %s leaked channels into %s", entry.TypePattern(), p)
		}
	}
}

func TestEntityPlan(t *testing.T) {
	reg := defaultRegistry(t)

	plan := reg.EntityPlan(newDevice("SL_CP_AIR", "P1", "P2", "P3", "P4", "P5", "P6"))
	assert.Equal(t, map[Platform][]string{
		PlatformClimate: {"P1", "P2", "P3", "P4", "P5"},
		PlatformSensor:  {"P6"},
	}, plan)

	// Unsupported device: no platforms, no entities, no error.
	unknown := newDevice("SL_UNKNOWN_X", "P1", "T")
	assert.Empty(t, reg.EntityPlan(unknown))
	_, ok := reg.Lookup(unknown.TypeID)
	assert.False(t, ok)
	for _, p := range AllPlatforms {
		assert.Empty(t, ResolvePlatform(nil, unknown, p))
	}

	assert.Empty(t, reg.EntityPlan(nil))
}

func TestRegistry_Resolve(t *testing.T) {
	reg := defaultRegistry(t)
	thl := newDevice("SL_SC_THL", "T", "H", "X")

	cfg := reg.Resolve(thl, "T")
	assert.Equal(t, Scaled(10), cfg.Conversion)
	assert.Equal(t, DataTypeFloat, cfg.DataType)
	assert.Equal(t, AccessRead, cfg.Access)
	assert.Equal(t, "temperature", cfg.DeviceClass)
	assert.Equal(t, "°C", cfg.Unit)
	assert.Equal(t, "measurement", cfg.StateClass)

	assert.Equal(t, DefaultIOConfig(), reg.Resolve(thl, "X"), "unconfigured channel falls back to passthrough")
	assert.Equal(t, DefaultIOConfig(), reg.Resolve(newDevice("SL_UNKNOWN_X", "T"), "T"))
	assert.Equal(t, DefaultIOConfig(), reg.Resolve(nil, "T"))

	air := reg.Resolve(newDevice("SL_CP_AIR", "P2"), "P2")
	assert.Equal(t, ConversionEnum, air.Conversion.Kind)
	assert.Equal(t, DataTypeString, air.DataType)
	assert.Equal(t, "heat", air.EnumTable[1])
}

func TestRegistry_ResolveIdempotent(t *testing.T) {
	reg := defaultRegistry(t)
	dev := newDevice("SL_CP_AIR", "P2")

	first := reg.Resolve(dev, "P2")
	first.EnumTable[0] = "mutated"
	first.Platforms[0] = PlatformCover

	second := reg.Resolve(dev, "P2")
	third := reg.Resolve(dev, "P2")
	assert.Equal(t, second, third)
	assert.Equal(t, "cool", second.EnumTable[0], "callers must not be able to mutate the registry")
	assert.Equal(t, PlatformClimate, second.Platforms[0])
}

func TestRegistry_ResolveLiteralOverWildcard(t *testing.T) {
	relay := withPlatforms(DefaultIOConfig(), PlatformSwitch)
	relay.DataType = DataTypeBool

	meter := withPlatforms(DefaultIOConfig(), PlatformSensor)
	meter.Conversion = IEEE754()
	meter.DataType = DataTypeFloat

	entry, err := NewEntry("SL_TEST", "", []Platform{PlatformSwitch, PlatformSensor}, []ChannelConfig{
		{Pattern: "P*", Config: relay},
		{Pattern: "P9", Config: meter},
	})
	require.NoError(t, err)
	reg, err := New("t", entry)
	require.NoError(t, err)

	dev := newDevice("SL_TEST", "P1", "P9")
	assert.Equal(t, IEEE754(), reg.Resolve(dev, "P9").Conversion)
	assert.Equal(t, DataTypeBool, reg.Resolve(dev, "P1").DataType)
	assert.Equal(t, []string{"P1"}, ResolvePlatform(entry, dev, PlatformSwitch))
	assert.Equal(t, []string{"P9"}, ResolvePlatform(entry, dev, PlatformSensor))
}

func TestEntry_IOConfigs(t *testing.T) {
	meter := withPlatforms(DefaultIOConfig(), PlatformSensor)
	meter.EnumTable = map[int64]string{0: "off"}

	entry, err := NewEntry("SL_TEST", "", []Platform{PlatformSensor}, []ChannelConfig{
		{Pattern: "P*", Config: withPlatforms(DefaultIOConfig(), PlatformSensor)},
		{Pattern: "P9", Config: meter},
	})
	require.NoError(t, err)

	configs := entry.IOConfigs()
	require.Len(t, configs, 2)
	assert.Contains(t, configs, "P*")
	assert.Equal(t, meter, configs["P9"])

	configs["P9"].EnumTable[0] = "changed"
	delete(configs, "P*")
	assert.Equal(t, "off", entry.IOConfigs()["P9"].EnumTable[0], "callers get copies")
	assert.Len(t, entry.IOConfigs(), 2)
}

func TestNewEntry_Errors(t *testing.T) {
	sensor := withPlatforms(DefaultIOConfig(), PlatformSensor)

	tests := []struct {
		name      string
		pattern   string
		platforms []Platform
		channels  []ChannelConfig
	}{
		{"empty type", "", []Platform{PlatformSensor}, nil},
		{"unknown platform", "X", []Platform{"lock"}, nil},
		{"duplicate channel", "X", []Platform{PlatformSensor}, []ChannelConfig{{"T", sensor}, {"T", sensor}}},
		{"empty channel pattern", "X", []Platform{PlatformSensor}, []ChannelConfig{{"", sensor}}},
		{"channel without platform", "X", []Platform{PlatformSensor}, []ChannelConfig{{"T", DefaultIOConfig()}}},
		{"channel outside platform set", "X", []Platform{PlatformSwitch}, []ChannelConfig{{"T", sensor}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntry(tt.pattern, "", tt.platforms, tt.channels)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid yaml",
			yaml: "version: [",
		},
		{
			name: "missing version",
			yaml: `
devices:
  - type: A
    platforms: [sensor]
`,
		},
		{
			name: "no devices",
			yaml: `version: "1"`,
		},
		{
			name: "unknown entry platform",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [lock]
`,
		},
		{
			name: "scaled without divisor",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: T
        platform: sensor
        conversion: {kind: scaled}
`,
		},
		{
			name: "divisor on raw conversion",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: T
        platform: sensor
        conversion: {kind: raw, divisor: 10}
`,
		},
		{
			name: "enum without table",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [climate]
    channels:
      - key: P2
        platform: climate
        conversion: {kind: enum}
`,
		},
		{
			name: "unknown conversion kind",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: T
        platform: sensor
        conversion: {kind: bcd}
`,
		},
		{
			name: "channel platform outside entry",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: P1
        platform: switch
`,
		},
		{
			name: "also outside entry",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [light]
    channels:
      - key: P1
        platform: light
        also: [sensor]
`,
		},
		{
			name: "also repeats platform",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [light]
    channels:
      - key: P1
        platform: light
        also: [light]
`,
		},
		{
			name: "malformed channel glob",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: "P["
        platform: sensor
`,
		},
		{
			name: "duplicate exact type",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
  - type: A
    platforms: [sensor]
`,
		},
		{
			name: "duplicate channel key",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: T
        platform: sensor
      - key: T
        platform: sensor
`,
		},
		{
			name: "bad access",
			yaml: `
version: "1"
devices:
  - type: A
    platforms: [sensor]
    channels:
      - key: T
        platform: sensor
        access: sometimes
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, apperrors.IsRegistryError(err), "got %T: %v", err, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidRegistry))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	reg, err := Load([]byte(`
version: "test"
devices:
  - type: A
    platforms: [sensor, climate]
    channels:
      - key: T
        platform: sensor
      - key: P1
        platform: climate
        conversion: {kind: ieee754}
      - key: P2
        platform: climate
        conversion: {kind: verbose}
`))
	require.NoError(t, err)

	dev := newDevice("A", "T", "P1", "P2")
	assert.Equal(t, DataTypeInteger, reg.Resolve(dev, "T").DataType)
	assert.Equal(t, AccessRead, reg.Resolve(dev, "T").Access)
	assert.Equal(t, Raw(), reg.Resolve(dev, "T").Conversion)
	assert.Equal(t, DataTypeFloat, reg.Resolve(dev, "P1").DataType)
	assert.Equal(t, DataTypeString, reg.Resolve(dev, "P2").DataType)
}

func TestEncode_RoundTrip(t *testing.T) {
	reg := defaultRegistry(t)

	data, err := Encode(reg)
	require.NoError(t, err)

	reloaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, reg, reloaded)

	again, err := Encode(reloaded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	require.NoError(t, os.WriteFile(path, Embedded(), 0o600))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaultRegistry(t), reg)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	reg := defaultRegistry(t)
	dev := newDevice("SL_SW_IF3", "L1", "L2", "L3")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				plan := reg.EntityPlan(dev)
				if len(plan[PlatformSwitch]) != 3 {
					t.Errorf("unexpected plan %v", plan)
					return
				}
				_ = reg.Resolve(dev, "L2")
			}
		}()
	}
	wg.Wait()
}

func withPlatforms(cfg IOConfig, platforms ...Platform) IOConfig {
	cfg.Platforms = platforms
	return cfg
}
