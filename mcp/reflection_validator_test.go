// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func mustResolve(t *testing.T, schemaJSON string) *jsonschema.Resolved {
	t.Helper()
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	return resolved
}

func TestNewStructuralValidator(t *testing.T) {
	v := newStructuralValidator()
	if v == nil {
		t.Fatal("newStructuralValidator returned nil")
	}
	if v.types == nil {
		t.Fatal("structuralValidator.types is nil")
	}
}

func TestValidationFailureWraps(t *testing.T) {
	cause := errors.New("boom")
	f := &ValidationFailure{Stage: "decode-map", Err: cause}

	msg := f.Error()
	if !strings.Contains(msg, "decode-map") {
		t.Errorf("error message missing stage: %s", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Errorf("error message missing cause: %s", msg)
	}
	if f.Unwrap() != cause {
		t.Error("Unwrap did not return the wrapped cause")
	}
}

func TestStructuralValidatorNormalize_NoSchemaPassesThrough(t *testing.T) {
	v := newStructuralValidator()
	params := json.RawMessage(`{"anything": "goes"}`)

	out, err := v.normalize(params, nil)
	if err != nil {
		t.Fatalf("normalize with nil resolved schema: %v", err)
	}
	if string(out) != string(params) {
		t.Errorf("expected params unchanged, got: %s", out)
	}
}

func TestStructuralValidatorNormalize_AcceptsMatchingTypes(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer"}
		},
		"required": ["name"]
	}`)

	out, err := v.normalize(json.RawMessage(`{"name": "Ada", "age": 30}`), resolved)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal normalized output: %v", err)
	}
	if fields["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", fields["name"])
	}
	if fields["age"] != float64(30) {
		t.Errorf("age = %v, want 30", fields["age"])
	}
}

func TestStructuralValidatorNormalize_FillsDefaults(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"tier": {"type": "string", "default": "free"}
		},
		"required": ["name"]
	}`)

	out, err := v.normalize(json.RawMessage(`{"name": "Ada"}`), resolved)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal normalized output: %v", err)
	}
	if fields["tier"] != "free" {
		t.Errorf("tier = %v, want the schema default \"free\"", fields["tier"])
	}
}

func TestStructuralValidatorNormalize_RejectsMissingRequired(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 0}
		},
		"required": ["name"]
	}`)

	out, err := v.normalize(json.RawMessage(`{"age": 30}`), resolved)
	if err == nil {
		t.Fatalf("expected validation failure for missing required field, got: %s", out)
	}

	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got: %T", err)
	}
	if vf.Stage != "validate" {
		t.Errorf("Stage = %q, want \"validate\"", vf.Stage)
	}
}

func TestStructuralValidatorNormalize_RejectsMalformedJSON(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"}
		}
	}`)

	_, err := v.normalize(json.RawMessage(`{"name": "Ada", "broken": }`), resolved)
	if err == nil {
		t.Fatal("expected a failure for malformed JSON")
	}

	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got: %T", err)
	}
	if vf.Stage != "decode-map" {
		t.Errorf("Stage = %q, want \"decode-map\"", vf.Stage)
	}
}

func TestStructuralValidatorNormalize_EmptyParamsStillGetDefaults(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"tier": {"type": "string", "default": "free"}
		}
	}`)

	out, err := v.normalize(json.RawMessage(``), resolved)
	if err != nil {
		t.Fatalf("normalize with empty params: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal normalized output: %v", err)
	}
	if fields["tier"] != "free" {
		t.Errorf("tier = %v, want the schema default \"free\"", fields["tier"])
	}
}

func TestStructuralValidatorNormalize_NestedObjectRoundtrips(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{
		"type": "object",
		"properties": {
			"owner": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"email": {"type": "string"}
				},
				"required": ["name"]
			}
		},
		"required": ["owner"]
	}`)

	out, err := v.normalize(json.RawMessage(`{"owner": {"name": "Ada", "email": "ada@example.com"}}`), resolved)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal normalized output: %v", err)
	}
	owner, ok := fields["owner"].(map[string]any)
	if !ok {
		t.Fatalf("owner = %T, want map[string]any", fields["owner"])
	}
	if owner["name"] != "Ada" {
		t.Errorf("owner.name = %v, want Ada", owner["name"])
	}
	if owner["email"] != "ada@example.com" {
		t.Errorf("owner.email = %v, want ada@example.com", owner["email"])
	}
}

func TestStructuralValidatorNormalize_UnbuildableSchemaTypeFails(t *testing.T) {
	v := newStructuralValidator()
	resolved := mustResolve(t, `{"type": "null"}`)

	_, err := v.normalize(json.RawMessage(`null`), resolved)
	if err == nil {
		t.Fatal("expected a failure for a schema type synthesis can't build")
	}

	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got: %T", err)
	}
	if vf.Stage != "type-synthesis" {
		t.Errorf("Stage = %q, want \"type-synthesis\"", vf.Stage)
	}
}
