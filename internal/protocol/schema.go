package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// EnvelopeSchema describes every frame either side may send
var EnvelopeSchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "enum": ["get", "update", "getState"]},
		"payload": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "pattern": "^[0-9a-f]{16}$"},
				"binary": {"type": ["string", "null"]},
				"encoding": {"type": "string", "enum": ["base64"]}
			}
		},
		"clients": {"type": "integer", "minimum": 0}
	}
}`)

var compiledSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(EnvelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid envelope schema: %v", err))
	}
	compiledSchema = s
}

// ValidationError represents a schema validation error
type ValidationError struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidateFrame checks raw JSON against EnvelopeSchema
func ValidateFrame(data []byte) error {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, len(result.Errors()))
	for i, e := range result.Errors() {
		msgs[i] = ValidationError{Field: e.Field(), Description: e.Description()}.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(msgs, "; "))
}
