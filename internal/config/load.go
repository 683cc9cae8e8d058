package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint is the schema major version this build
// understands.
const SupportedSchemaVersionConstraint = "v1"

// Load validates configYAML against the embedded schema, decodes it strictly,
// checks schemaVersion compatibility and runs logical validation.
func Load(configYAML []byte, filePathHint string) (*Config, error) {
	if len(bytes.TrimSpace(configYAML)) == 0 {
		return nil, bridgeerrors.NewConfigError("configuration content cannot be empty", nil)
	}

	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, bridgeerrors.NewConfigError(fmt.Sprintf("configuration '%s' failed schema validation", filePathHint), err)
	}

	var cfg Config
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, bridgeerrors.NewConfigError(fmt.Sprintf("failed to parse configuration YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	version := cfg.SchemaVersion
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return nil, bridgeerrors.NewValidationError(fmt.Sprintf("configuration '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, cfg.SchemaVersion), nil)
	}
	if semver.Major(version) != SupportedSchemaVersionConstraint {
		return nil, bridgeerrors.NewValidationError(
			fmt.Sprintf("configuration '%s' schemaVersion '%s' is not compatible with requirement '%s'",
				filePathHint, cfg.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		messages := make([]string, 0, len(errs))
		for _, vErr := range errs {
			messages = append(messages, vErr.Error())
		}
		combined := fmt.Sprintf("configuration '%s' has %d validation error(s):\n- %s",
			filePathHint, len(messages), strings.Join(messages, "\n- "))
		return nil, bridgeerrors.NewValidationError(combined, errs[0])
	}
	return &cfg, nil
}

// LoadFromFile reads and loads the configuration at filePath.
func LoadFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, bridgeerrors.NewConfigError("configuration file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, bridgeerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, bridgeerrors.NewConfigError(fmt.Sprintf("failed to read configuration file '%s'", absPath), err)
	}
	return Load(content, absPath)
}

// yamlUnmarshalStrict rejects fields that Config does not declare.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
