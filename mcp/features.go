// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mcpkit/corekit/jsonrpc"
)

// A featureSet holds a registry of features (tools, prompts, resources,
// resource templates) keyed by a caller-supplied string, in the manner of
// the server's internal tool/prompt/resource tables. Keys needn't be
// inserted in order: paginateList always walks them in sorted order, so
// pagination is stable regardless of registration order or duplicate
// inserts.
type featureSet[T any] struct {
	keyFunc func(T) string

	mu   sync.Mutex
	byID map[string]T
}

// newFeatureSet returns a featureSet whose keys are produced by keyFunc.
func newFeatureSet[T any](keyFunc func(T) string) *featureSet[T] {
	return &featureSet[T]{
		keyFunc: keyFunc,
		byID:    make(map[string]T),
	}
}

// add inserts or replaces each of items, keyed by keyFunc.
func (s *featureSet[T]) add(items ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.byID[s.keyFunc(it)] = it
	}
}

// remove deletes the items with the given keys, if present.
func (s *featureSet[T]) remove(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.byID, k)
	}
}

// get returns the item with the given key, if any.
func (s *featureSet[T]) get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[key]
	return v, ok
}

// len reports the number of registered items.
func (s *featureSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// sortedKeys returns the feature set's keys, sorted.
func (s *featureSet[T]) sortedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := slices.Sorted(maps.Keys(s.byID))
	return keys
}

// above returns the subset of items whose key sorts strictly after cursor,
// in key order. An empty cursor selects every item.
func (s *featureSet[T]) above(cursor string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := slices.Sorted(maps.Keys(s.byID))
	var items []T
	for _, k := range keys {
		if k > cursor {
			items = append(items, s.byID[k])
		}
	}
	return items
}

// cursorParams is implemented by list-method Params types, letting
// paginateList read the client-supplied cursor generically.
type cursorParams interface {
	cursorPtr() *string
}

// cursorResult is implemented by list-method Result types, letting
// paginateList write the next-page cursor generically.
type cursorResult interface {
	nextCursorPtr() *string
}

// encodeCursor encodes key as an opaque pagination cursor. The wire format
// (gob, base64-encoded) is deliberately unremarkable: cursors are never
// inspected by callers, only echoed back.
func encodeCursor(key string) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeCursor decodes a cursor produced by [encodeCursor]. An empty string
// decodes to the empty key (the start of the list).
func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	var key string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&key); err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	return key, nil
}

// paginateList implements the pagination rule common to every list method
// (tools/list, prompts/list, resources/list, resources/templates/list):
// decode the cursor from params, gather the page of items from fs starting
// strictly after it, and set the page plus the next cursor on result using
// setItems.
func paginateList[F any, P cursorParams, R cursorResult](fs *featureSet[F], pageSize int, params P, result R, setItems func(R, []F)) (R, error) {
	var zero R
	cursor, err := decodeCursor(*params.cursorPtr())
	if err != nil {
		return zero, jsonrpc.ErrInvalidParams("invalid cursor: %v", err)
	}
	items := fs.above(cursor)
	if pageSize <= 0 {
		pageSize = 1000
	}
	var page []F
	var nextCursor string
	if len(items) > pageSize {
		page = items[:pageSize]
		last := fs.keyOf(page[len(page)-1])
		nextCursor, err = encodeCursor(last)
		if err != nil {
			return zero, jsonrpc.ErrInternal("encoding next cursor: %v", err)
		}
	} else {
		page = items
	}
	setItems(result, page)
	*result.nextCursorPtr() = nextCursor
	return result, nil
}

// keyOf reports the key used to store item, for use by callers (such as
// paginateList) that only have the item value, not its key.
func (s *featureSet[T]) keyOf(item T) string {
	return s.keyFunc(item)
}
