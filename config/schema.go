// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/util"
)

//go:embed schema.json
var schemaJSON []byte

// ValidateWithSchema validates a configuration file against the embedded
// JSON schema. Unlike Load it checks the file as written: environment
// overrides and defaults are not applied.
func ValidateWithSchema(configPath string) error {
	data, err := util.ReadFileSafely(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return ValidateSchemaBytes(data)
}

// ValidateSchemaBytes validates YAML (or JSON) configuration data against
// the embedded schema
func ValidateSchemaBytes(data []byte) error {
	var configObj interface{}
	if err := yaml.Unmarshal(data, &configObj); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if configObj == nil {
		configObj = map[string]interface{}{}
	}

	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}
	return nil
}

// formatValidationErrors formats JSON schema validation errors into a readable message
func formatValidationErrors(errs []gojsonschema.ResultError) error {
	if len(errs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation errors:\n")
	for i, err := range errs {
		fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, err.Field(), err.Description())
	}
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, b.String())
}

// GetSchemaJSON returns the embedded JSON schema as a string.
func GetSchemaJSON() string {
	return string(schemaJSON)
}
