// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/registry"
)

const validConfigYAML = `
hub:
  broker: tcp://localhost:1883
influxdb:
  url: http://localhost:8086
  token: test-token-12345
  organization: home
  bucket: lifesmart
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestPerformHealthCheck_MissingConfig(t *testing.T) {
	if code := performHealthCheck(filepath.Join(t.TempDir(), "missing.yaml")); code != 1 {
		t.Errorf("performHealthCheck() = %d, want 1", code)
	}
}

func TestPerformHealthCheck_UnreachableInfluxDB(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "http://127.0.0.1:1")
	path := writeFile(t, "config.yaml", validConfigYAML)
	if code := performHealthCheck(path); code != 1 {
		t.Errorf("performHealthCheck() = %d, want 1", code)
	}
}

func TestPerformConfigValidation(t *testing.T) {
	t.Setenv("LIFESMART_REGISTRY_PATH", "")

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"valid", validConfigYAML, 0},
		{"unknown section", validConfigYAML + "notifications:\n  webhook: x\n", 1},
		{"missing broker", "influxdb:\n  url: http://localhost:8086\n  token: test-token-12345\n  organization: home\n  bucket: lifesmart\n", 1},
		{"bad registry path", validConfigYAML + "registry:\n  path: /nonexistent/devices.yaml\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.yaml", tt.content)
			if got := performConfigValidation(path); got != tt.want {
				t.Errorf("performConfigValidation() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPerformRegistryDump_Embedded(t *testing.T) {
	t.Setenv("LIFESMART_REGISTRY_PATH", "")

	var out bytes.Buffer
	if code := performRegistryDump(filepath.Join(t.TempDir(), "missing.yaml"), &out); code != 0 {
		t.Fatalf("performRegistryDump() = %d, want 0", code)
	}

	dumped, err := registry.Load(out.Bytes())
	if err != nil {
		t.Fatalf("dumped registry does not load: %v", err)
	}
	embedded, err := registry.Default()
	if err != nil {
		t.Fatalf("embedded registry: %v", err)
	}
	if dumped.Len() != embedded.Len() {
		t.Fatalf("dumped %d entries, want %d", dumped.Len(), embedded.Len())
	}

	for i, want := range embedded.Entries() {
		got := dumped.Entries()[i]
		if got.TypePattern() != want.TypePattern() {
			t.Fatalf("entry %d: type %q, want %q", i, got.TypePattern(), want.TypePattern())
		}
		if !reflect.DeepEqual(got.IOConfigs(), want.IOConfigs()) {
			t.Errorf("%s: channel configs changed after dump", want.TypePattern())
		}
	}
}

func TestPerformRegistryDump_FromConfig(t *testing.T) {
	t.Setenv("LIFESMART_REGISTRY_PATH", "")

	table := `version: "test-1"
devices:
  - type: SL_SW_IF1
    name: Single switch
    platforms: [switch]
    channels:
      - key: L1
        platform: switch
        data_type: bool
`
	regPath := writeFile(t, "devices.yaml", table)
	cfgPath := writeFile(t, "config.yaml", validConfigYAML+"registry:\n  path: "+regPath+"\n")

	var out bytes.Buffer
	if code := performRegistryDump(cfgPath, &out); code != 0 {
		t.Fatalf("performRegistryDump() = %d, want 0", code)
	}

	dumped, err := registry.Load(out.Bytes())
	if err != nil {
		t.Fatalf("dumped registry does not load: %v", err)
	}
	if dumped.Version() != "test-1" || dumped.Len() != 1 {
		t.Errorf("dumped version=%q entries=%d, want test-1 and 1", dumped.Version(), dumped.Len())
	}
}

func TestPerformRegistryDump_InvalidTable(t *testing.T) {
	regPath := writeFile(t, "devices.yaml", "devices: [{type: \"\"}]\n")
	t.Setenv("LIFESMART_REGISTRY_PATH", regPath)

	var out bytes.Buffer
	if code := performRegistryDump(filepath.Join(t.TempDir(), "missing.yaml"), &out); code != 1 {
		t.Errorf("performRegistryDump() = %d, want 1", code)
	}
}
