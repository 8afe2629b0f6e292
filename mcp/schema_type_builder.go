// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaTypeBuilder synthesizes a Go reflect.Type from a JSON Schema, so
// params can be decoded straight into a struct shaped by the tool's
// declared schema rather than a loosely typed map. Built types are cached
// by schema shape since tool schemas rarely change between calls.
type schemaTypeBuilder struct {
	mu    sync.RWMutex
	built map[string]reflect.Type
}

func newSchemaTypeBuilder() *schemaTypeBuilder {
	return &schemaTypeBuilder{built: make(map[string]reflect.Type)}
}

// BuildType returns the Go type corresponding to schema, building and
// caching it on first use.
func (b *schemaTypeBuilder) BuildType(schema *jsonschema.Schema) (reflect.Type, error) {
	if schema == nil {
		return nil, fmt.Errorf("mcp: cannot synthesize a type from a nil schema")
	}

	key := shapeKey(schema)

	b.mu.RLock()
	typ, ok := b.built[key]
	b.mu.RUnlock()
	if ok {
		return typ, nil
	}

	typ, err := b.synthesize(schema)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.built[key] = typ
	b.mu.Unlock()
	return typ, nil
}

func (b *schemaTypeBuilder) synthesize(schema *jsonschema.Schema) (reflect.Type, error) {
	switch schema.Type {
	case "string":
		return reflect.TypeOf(""), nil
	case "number":
		return reflect.TypeOf(float64(0)), nil
	case "integer":
		return reflect.TypeOf(int64(0)), nil
	case "boolean":
		return reflect.TypeOf(false), nil
	case "object":
		return b.structOf(schema)
	case "array":
		return b.sliceOf(schema)
	default:
		return nil, fmt.Errorf("mcp: cannot synthesize a type for schema kind %q", schema.Type)
	}
}

// structOf builds an anonymous struct type with one field per schema
// property, named in PascalCase and tagged back to the original JSON name.
// Fields absent from the required list get a pointer type so their zero
// value is distinguishable from "not present".
func (b *schemaTypeBuilder) structOf(schema *jsonschema.Schema) (reflect.Type, error) {
	if schema.Type != "object" {
		return nil, fmt.Errorf("mcp: structOf called on a %q schema, not object", schema.Type)
	}

	required := map[string]bool{}
	for _, name := range schema.Required {
		required[name] = true
	}

	var fields []reflect.StructField
	for propName, propSchema := range schema.Properties {
		fieldType, err := b.synthesize(propSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp: field %q: %w", propName, err)
		}
		if !required[propName] {
			fieldType = reflect.PointerTo(fieldType)
		}
		fields = append(fields, reflect.StructField{
			Name: goFieldName(propName),
			Type: fieldType,
			Tag:  jsonFieldTag(propName, required[propName]),
		})
	}
	return reflect.StructOf(fields), nil
}

func (b *schemaTypeBuilder) sliceOf(schema *jsonschema.Schema) (reflect.Type, error) {
	if schema.Items == nil {
		return reflect.TypeOf([]any{}), nil
	}
	elem, err := b.synthesize(schema.Items)
	if err != nil {
		return nil, fmt.Errorf("mcp: array element: %w", err)
	}
	return reflect.SliceOf(elem), nil
}

// goFieldName turns a snake_case (or already PascalCase) JSON property
// name into an exported Go struct field name.
func goFieldName(propName string) string {
	var out strings.Builder
	for _, part := range strings.Split(propName, "_") {
		if part == "" {
			continue
		}
		out.WriteString(strings.ToUpper(part[:1]))
		out.WriteString(part[1:])
	}
	name := out.String()
	if name == "" || name[0] < 'A' || name[0] > 'Z' {
		name = "Field" + name
	}
	return name
}

func jsonFieldTag(propName string, required bool) reflect.StructTag {
	tag := propName
	if !required {
		tag += ",omitempty"
	}
	return reflect.StructTag(fmt.Sprintf(`json:"%s"`, tag))
}

// shapeKey returns a string uniquely identifying schema's structural
// shape (type, property names/types, required set), used as a cache key
// so structurally identical schemas share one synthesized type.
func shapeKey(schema *jsonschema.Schema) string {
	var b strings.Builder
	writeShapeKey(&b, schema)
	return b.String()
}

func writeShapeKey(b *strings.Builder, schema *jsonschema.Schema) {
	b.WriteString(schema.Type)
	switch {
	case schema.Type == "object":
		b.WriteByte('{')
		for _, name := range slices.Sorted(maps.Keys(schema.Properties)) {
			b.WriteString(name)
			b.WriteByte(':')
			writeShapeKey(b, schema.Properties[name])
			b.WriteByte(';')
		}
		b.WriteString("req:")
		for _, name := range schema.Required {
			b.WriteString(name)
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case schema.Type == "array" && schema.Items != nil:
		b.WriteByte('[')
		writeShapeKey(b, schema.Items)
		b.WriteByte(']')
	}
}
