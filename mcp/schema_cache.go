// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaCache shares resolved input/output schemas across AddTool calls.
// A server that's reconstructed per request (the common shape for a
// stateless deployment behind a load balancer) would otherwise redo
// reflection-based schema generation and jsonschema resolution on every
// single request; wiring the same cache into [ServerOptions.SchemaCache]
// across those short-lived servers turns that into a one-time cost.
//
// Two lookup paths are kept because tool registration has two shapes:
// schemas generated from a Go type via reflection are keyed by
// reflect.Type, while schemas an integrator hands in directly (the
// "bring your own jsonschema.Schema" pattern) are keyed by the schema's
// own pointer identity, since that pointer is expected to stay stable
// across registrations.
type schemaCache struct {
	byType   sync.Map // reflect.Type -> *cachedSchema
	bySchema sync.Map // *jsonschema.Schema -> *jsonschema.Resolved
}

type cachedSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewSchemaCache returns an empty, concurrency-safe, unbounded schema
// cache for use with [ServerOptions.SchemaCache].
func NewSchemaCache() *schemaCache {
	return &schemaCache{}
}

func (c *schemaCache) getByType(t reflect.Type) (*jsonschema.Schema, *jsonschema.Resolved, bool) {
	v, ok := c.byType.Load(t)
	if !ok {
		return nil, nil, false
	}
	cs := v.(*cachedSchema)
	return cs.schema, cs.resolved, true
}

func (c *schemaCache) setByType(t reflect.Type, schema *jsonschema.Schema, resolved *jsonschema.Resolved) {
	c.byType.Store(t, &cachedSchema{schema: schema, resolved: resolved})
}

func (c *schemaCache) getBySchema(schema *jsonschema.Schema) (*jsonschema.Resolved, bool) {
	v, ok := c.bySchema.Load(schema)
	if !ok {
		return nil, false
	}
	return v.(*jsonschema.Resolved), true
}

func (c *schemaCache) setBySchema(schema *jsonschema.Schema, resolved *jsonschema.Resolved) {
	c.bySchema.Store(schema, resolved)
}
