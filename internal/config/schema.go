package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed cncbridge_schema_v1.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = bridgeerrors.NewConfigError("embedded schema 'cncbridge_schema_v1.json' is empty", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = bridgeerrors.NewConfigError("failed to compile embedded schema 'cncbridge_schema_v1.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema checks a YAML document against the embedded v1 schema.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := yaml.Unmarshal(documentYAML, &doc); err != nil {
		return bridgeerrors.NewConfigError("failed to parse configuration YAML for schema validation", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return bridgeerrors.NewConfigError("schema validation process failed", err)
	}
	if result.Valid() {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration failed JSON schema validation:")
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" || field == "" {
			field = desc.Context().String()
		}
		fmt.Fprintf(&b, "\n  - Field '%s': %s", field, desc.Description())
	}
	return bridgeerrors.NewValidationError(b.String(), nil)
}
