// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// A ToolHandler handles a call to tools/call. The request's
// Params.Arguments holds the raw JSON arguments; the handler is
// responsible for decoding them (the generic [AddTool] free function
// layers typed decoding and validation on top of this).
type ToolHandler func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)

// A serverTool is a tool definition that is bound to a tool handler.
type serverTool struct {
	tool    *Tool
	handler ToolHandler
	// Resolved tool schemas, set at registration.
	inputResolved, outputResolved *jsonschema.Resolved
}

// A TypedToolHandler handles a call to tools/call with typed arguments and results.
type TypedToolHandler[In, Out any] func(context.Context, *CallToolRequest, In) (*CallToolResult, Out, error)

// resolveSchema resolves schema, consulting and populating cache by the
// schema's pointer identity. Tool authors who hold onto the same *Tool (or
// reuse a *Schema) across many AddTool calls benefit from this even
// without a Go type to key on.
func resolveSchema(schema *jsonschema.Schema, cache *schemaCache) (*jsonschema.Resolved, error) {
	if cache != nil {
		if resolved, ok := cache.getBySchema(schema); ok {
			return resolved, nil
		}
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.setBySchema(schema, resolved)
	}
	return resolved, nil
}

// setSchema fills in *schemaField and *resolvedField for a typed tool
// parameter of type T. If *schemaField already holds a *jsonschema.Schema
// (the tool author supplied one explicitly), it is resolved and cached by
// pointer identity. Otherwise a schema is generated by reflecting over T
// and cached by reflect.Type, so repeated registration of tools sharing
// the same Go argument type (the common case for a stateless server that
// re-registers its tools on every request) skips reflection entirely
// after the first hit.
func setSchema[T any](schemaField *any, resolvedField **jsonschema.Resolved, cache *schemaCache) (*jsonschema.Schema, error) {
	if *schemaField != nil {
		schema := (*schemaField).(*jsonschema.Schema)
		resolved, err := resolveSchema(schema, cache)
		if err != nil {
			return nil, err
		}
		*resolvedField = resolved
		return schema, nil
	}

	rt := reflect.TypeFor[T]()
	if cache != nil {
		if schema, resolved, ok := cache.getByType(rt); ok {
			*schemaField = schema
			*resolvedField = resolved
			return schema, nil
		}
	}

	var schema *jsonschema.Schema
	var err error
	if rt == reflect.TypeFor[any]() {
		// There is nothing to reflect over; accept any JSON object.
		schema = &jsonschema.Schema{Type: "object"}
	} else {
		schema, err = jsonschema.For[T](nil)
		if err != nil {
			return nil, err
		}
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.setByType(rt, schema, resolved)
	}
	*schemaField = schema
	*resolvedField = resolved
	return schema, nil
}

// newRawServerTool binds t to a raw handler. Unlike the typed path, raw
// handlers see the arguments as they arrived; a nil input schema defaults
// to the empty object schema rather than failing, since there is no typed
// argument the author could have forgotten to describe.
func newRawServerTool(t *Tool, h ToolHandler, cache *schemaCache) (*serverTool, error) {
	st := &serverTool{tool: t}
	if t.InputSchema == nil {
		t.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	var err error
	st.inputResolved, err = resolveSchema(t.InputSchema, cache)
	if err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	if t.OutputSchema != nil {
		st.outputResolved, err = resolveSchema(t.OutputSchema, cache)
		if err != nil {
			return nil, fmt.Errorf("output schema: %w", err)
		}
	}
	st.handler = func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		args, err := applySchema(req.Params.Arguments, st.inputResolved)
		if err != nil {
			return &CallToolResult{
				Content: []Content{&TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		req.Params.Arguments = args
		return h(ctx, req)
	}
	return st, nil
}

// typedTool infers any missing schemas on t from In and Out, and returns t
// alongside a handler that unmarshals and validates arguments before
// invoking h, and validates and attaches structured output after. All
// failures -- inference, argument validation, handler errors, output
// validation -- are reported as errors; converting tool-execution errors
// into IsError results is the dispatch layer's job (see
// [ServerSession.callTool]), so that middleware observes the original
// error.
func typedTool[In, Out any](t *Tool, h TypedToolHandler[In, Out], cache *schemaCache) (*Tool, ToolHandler, *jsonschema.Resolved, error) {
	assertf(t.newArgs == nil, "newArgs is nil")
	t.newArgs = func() any { var x In; return &x }

	var inField any = t.InputSchema
	var inResolved *jsonschema.Resolved
	inSchema, err := setSchema[In](&inField, &inResolved, cache)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("input schema: %w", err)
	}
	if inSchema.Type != "object" {
		return nil, nil, nil, fmt.Errorf("tool %q: input schema must have type \"object\", got %q", t.Name, inSchema.Type)
	}
	t.InputSchema = inSchema

	var outResolved *jsonschema.Resolved
	if t.OutputSchema == nil && reflect.TypeFor[Out]() != reflect.TypeFor[any]() {
		var outField any
		outSchema, err := setSchema[Out](&outField, &outResolved, cache)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("output schema: %w", err)
		}
		if outSchema.Type != "object" {
			return nil, nil, nil, fmt.Errorf("tool %q: output schema must have type \"object\", got %q", t.Name, outSchema.Type)
		}
		t.OutputSchema = outSchema
	} else if t.OutputSchema != nil {
		outResolved, err = resolveSchema(t.OutputSchema, cache)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("output schema: %w", err)
		}
	}

	handler := func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		args := t.newArgs()
		if err := unmarshalSchema(req.Params.Arguments, inResolved, args); err != nil {
			return nil, err
		}
		res, out, err := h(ctx, req, *args.(*In))
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &CallToolResult{}
		}
		if t.OutputSchema != nil {
			if outResolved != nil {
				if err := outResolved.Validate(out); err != nil {
					return nil, fmt.Errorf("invalid structured content: %w", err)
				}
			}
			data, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("marshaling structured content: %w", err)
			}
			res.StructuredContent = json.RawMessage(data)
			if res.Content == nil {
				res.Content = []Content{&TextContent{Text: string(data)}}
			}
		}
		return res, nil
	}
	return t, handler, inResolved, nil
}

// toolForErr is [typedTool] without a schema cache: the error-returning
// core of the generic [AddTool], separated so inference and validation can
// be exercised without a server.
func toolForErr[In, Out any](t *Tool, h TypedToolHandler[In, Out]) (*Tool, ToolHandler, error) {
	tool, handler, _, err := typedTool(t, h, nil)
	return tool, handler, err
}

// newTypedServerTool creates a serverTool from a tool and a typed handler.
// If the tool doesn't have an input schema, it is inferred from In.
// If the tool doesn't have an output schema and Out != any, it is inferred from Out.
func newTypedServerTool[In, Out any](t *Tool, h TypedToolHandler[In, Out], cache *schemaCache) (*serverTool, error) {
	tool, handler, inResolved, err := typedTool(t, h, cache)
	if err != nil {
		return nil, err
	}
	return &serverTool{tool: tool, handler: handler, inputResolved: inResolved}, nil
}

// unmarshalSchema unmarshals data into v and validates the result according to
// the given resolved schema.
func unmarshalSchema(data json.RawMessage, resolved *jsonschema.Resolved, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	// Disallow unknown fields.
	// Otherwise, if the tool was built with a struct, the client could send extra
	// fields and json.Unmarshal would ignore them, so the schema would never get
	// a chance to declare the extra args invalid.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}

	if resolved != nil {
		if err := resolved.ApplyDefaults(v); err != nil {
			return fmt.Errorf("applying defaults from \n\t%s\nto\n\t%s:\n%w", schemaJSON(resolved.Schema()), data, err)
		}
		if err := resolved.Validate(v); err != nil {
			return fmt.Errorf("validating\n\t%s\nagainst\n\t %s:\n %w", data, schemaJSON(resolved.Schema()), err)
		}
	}
	return nil
}

// schemaJSON returns the JSON value for s as a string, or a string indicating an error.
func schemaJSON(s *jsonschema.Schema) string {
	m, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("<!%s>", err)
	}
	return string(m)
}
