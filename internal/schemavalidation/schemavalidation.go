// Package schemavalidation compiles the JSON schemas embedded in scanwedge
// and validates documents against them.
package schemavalidation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compile compiles schema, registered under url so error messages can name
// it.
func Compile(url string, schema []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// MustCompile is Compile for schemas that ship with the binary.
func MustCompile(url string, schema []byte) *jsonschema.Schema {
	s, err := Compile(url, schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate validates a JSON document.
func Validate(s *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}
	return s.Validate(instance)
}

// ValidateValue validates a decoded document of any origin, e.g. YAML, by
// round-tripping it through JSON.
func ValidateValue(s *jsonschema.Schema, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	return Validate(s, data)
}
