package client

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/google/jsonschema-go/jsonschema"
)

// validateAgainstSchema checks a decoded value against a raw JSON Schema.
// An empty schema accepts everything.
func validateAgainstSchema(schemaRaw json.RawMessage, instance interface{}) error {
	if len(schemaRaw) == 0 {
		return nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(schemaRaw, &s); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	if instance == nil {
		instance = map[string]interface{}{}
	}
	return resolved.Validate(instance)
}
