// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// structuralValidator enforces a JSON Schema against request params by
// round-tripping the params through a dynamically generated Go struct.
// Decoding into a concrete struct catches type mismatches (a string where
// an integer is declared) that a map[string]any decode alone would let
// through silently.
type structuralValidator struct {
	types *schemaTypeBuilder
}

func newStructuralValidator() *structuralValidator {
	return &structuralValidator{types: newSchemaTypeBuilder()}
}

// ValidationFailure wraps the stage and schema context in which params
// validation broke down.
type ValidationFailure struct {
	Stage    string
	Schema   *jsonschema.Schema
	Resolved *jsonschema.Resolved
	Params   json.RawMessage
	Err      error
}

func (f *ValidationFailure) Error() string {
	return fmt.Sprintf("mcp: params validation failed at %s: %v", f.Stage, f.Err)
}

func (f *ValidationFailure) Unwrap() error { return f.Err }

func fail(stage string, schema *jsonschema.Schema, resolved *jsonschema.Resolved, params json.RawMessage, err error) *ValidationFailure {
	return &ValidationFailure{Stage: stage, Schema: schema, Resolved: resolved, Params: params, Err: err}
}

// sharedValidator backs [applySchema]; the type cache inside it makes
// repeated validations of the same schema cheap.
var sharedValidator = newStructuralValidator()

// applySchema validates params against resolved, applies schema defaults,
// and returns the normalized JSON. A nil resolved schema passes params
// through untouched.
func applySchema(params json.RawMessage, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	return sharedValidator.normalize(params, resolved)
}

// applySchemaMapBased is the map-only predecessor of [applySchema]: it
// skips the schema-derived typed decode, so type mismatches that JSON
// number conversion papers over are not caught. Kept as the reference
// implementation that applySchema's behavior is checked against.
func applySchemaMapBased(params json.RawMessage, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	if resolved == nil {
		return params, nil
	}
	fields := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, fail("decode-map", resolved.Schema(), resolved, params, fmt.Errorf("decoding params as a map: %w", err))
		}
	}
	if err := resolved.ApplyDefaults(&fields); err != nil {
		return nil, fail("defaults", resolved.Schema(), resolved, params, err)
	}
	if err := resolved.Validate(&fields); err != nil {
		return nil, fail("validate", resolved.Schema(), resolved, params, err)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fail("encode", resolved.Schema(), resolved, params, fmt.Errorf("encoding normalized params: %w", err))
	}
	return out, nil
}

// normalize validates params against resolved, applies any schema defaults,
// and returns the resulting JSON. A nil resolved schema is a no-op: params
// passes through untouched.
//
// The flow is: decode into a struct shaped by the schema (catches type
// errors), decode again into a plain map (preserves fields the struct type
// couldn't represent), apply defaults to the map, validate the map, then
// re-encode.
func (v *structuralValidator) normalize(params json.RawMessage, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	if resolved == nil {
		return params, nil
	}

	schema := resolved.Schema()
	if schema == nil {
		return nil, fail("schema-extraction", nil, resolved, params, fmt.Errorf("resolved schema has no underlying definition"))
	}

	goType, err := v.types.BuildType(schema)
	if err != nil {
		return nil, fail("type-synthesis", schema, resolved, params, err)
	}

	fields := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, fail("decode-map", schema, resolved, params, fmt.Errorf("decoding params as a map: %w", err))
		}

		typed := reflect.New(goType).Interface()
		if err := json.Unmarshal(params, typed); err != nil {
			return nil, fail("decode-typed", schema, resolved, params, fmt.Errorf("decoding params against the schema-derived type: %w", err))
		}
	}

	if err := resolved.ApplyDefaults(&fields); err != nil {
		return nil, fail("defaults", schema, resolved, params, err)
	}
	if err := resolved.Validate(&fields); err != nil {
		return nil, fail("validate", schema, resolved, params, err)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fail("encode", schema, resolved, params, fmt.Errorf("encoding normalized params: %w", err))
	}
	return out, nil
}
