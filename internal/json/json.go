// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package json wraps encoding/json with case-sensitive field matching.
//
// The standard library's Unmarshal falls back to a case-insensitive field
// match when no exact match is found, so `{"name": "x"}` silently populates
// a field tagged `json:"Name"`. Wire messages that carry attacker-controlled
// field names (tool arguments, resource params) shouldn't be able to smuggle
// a value past a differently-cased field this way, so this package strips
// any object key that isn't an exact match for the destination struct's
// field name or tag before handing the data to encoding/json.
package json

import (
	"encoding/json"
	"reflect"
)

// Unmarshal is encoding/json.Unmarshal, except object keys are matched
// against struct fields by exact name or tag only; a key that differs only
// in case from a field is dropped rather than matched, leaving that field at
// its zero value.
func Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return json.Unmarshal(data, v)
	}
	filtered, err := filterExactCase(data, rv.Type().Elem())
	if err != nil {
		// Malformed JSON, type mismatches, etc. are still encoding/json's to
		// report, so fall through to the real decode for a familiar error.
		return json.Unmarshal(data, v)
	}
	return json.Unmarshal(filtered, v)
}

// unmarshalerType lets a type opt out of field filtering: anything with
// its own UnmarshalJSON interprets the raw bytes itself.
var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// filterExactCase walks data alongside t, dropping any JSON object key that
// isn't an exact (case-sensitive) match for one of t's field names or json
// tags, and returns the re-marshaled result. Types outside of structs,
// slices, arrays, and maps of those are returned unchanged: there's nothing
// case-sensitive to filter in a string, number, or other scalar.
func filterExactCase(data []byte, t reflect.Type) ([]byte, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || reflect.PointerTo(t).Implements(unmarshalerType) || t.Implements(unmarshalerType) {
		return data, nil
	}

	switch t.Kind() {
	case reflect.Struct:
		return filterStruct(data, t)
	case reflect.Slice, reflect.Array:
		return filterSequence(data, t.Elem())
	case reflect.Map:
		return filterMapValues(data, t.Elem())
	default:
		return data, nil
	}
}

func filterStruct(data []byte, t reflect.Type) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not a JSON object (null, or a malformed document): leave it for
		// encoding/json to accept or reject as usual.
		return data, nil
	}

	fields := expectedFields(t)
	out := make(map[string]json.RawMessage, len(raw))
	for name, value := range raw {
		ft, ok := fields[name]
		if !ok {
			continue
		}
		filtered, err := filterExactCase(value, ft)
		if err != nil {
			return nil, err
		}
		out[name] = filtered
	}
	return json.Marshal(out)
}

func filterSequence(data []byte, elem reflect.Type) ([]byte, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return data, nil
	}
	out := make([]json.RawMessage, len(raw))
	for i, value := range raw {
		filtered, err := filterExactCase(value, elem)
		if err != nil {
			return nil, err
		}
		out[i] = filtered
	}
	return json.Marshal(out)
}

func filterMapValues(data []byte, elem reflect.Type) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return data, nil
	}
	out := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		filtered, err := filterExactCase(value, elem)
		if err != nil {
			return nil, err
		}
		out[key] = filtered
	}
	return json.Marshal(out)
}

// expectedFields maps the exact JSON name a field is addressed by (its tag
// name, or its Go name when untagged) to that field's type. Embedded fields
// are inlined the way encoding/json inlines them.
func expectedFields(t reflect.Type) map[string]reflect.Type {
	fields := make(map[string]reflect.Type)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue // unexported
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts := parseTag(tag)
		if name == "" && f.Anonymous {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				for k, v := range expectedFields(ft) {
					fields[k] = v
				}
				continue
			}
		}
		if name == "" {
			name = f.Name
		}
		_ = opts
		fields[name] = f.Type
	}
	return fields
}

func parseTag(tag string) (name string, opts string) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], tag[i+1:]
		}
	}
	return tag, ""
}
