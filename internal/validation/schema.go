// Package validation checks analysis configuration documents.
package validation

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/stanstork/uxlens-api/internal/apperr"
)

//go:embed analysis_config.schema.json
var analysisConfigSchema []byte

type ConfigValidator struct {
	schema *gojsonschema.Schema
}

// NewConfigValidator compiles the embedded analysis configuration schema.
func NewConfigValidator() (*ConfigValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(analysisConfigSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return &ConfigValidator{schema: schema}, nil
}

// Validate accepts an empty or null document as an empty configuration.
func (v *ConfigValidator) Validate(doc []byte) error {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return apperr.Validation("configuration is not valid JSON: %v", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return apperr.Validation("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
