// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// assertf panics with a formatted message if cond is false. It is reserved
// for invariants that indicate a bug in corekit itself, never for
// validating caller input.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// newOpaqueToken returns a random, URL-safe token suitable for session and
// subscription identifiers. It carries no semantic meaning on its own.
func newOpaqueToken() string {
	return rand.Text()
}

// roundtripJSON re-encodes src as JSON and decodes the result into dst,
// which must be a pointer. It's used to convert between structurally
// compatible types (e.g. a generic params map and a typed struct) without
// hand-written field copying.
func roundtripJSON(src, dst any) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("mcp: marshal for roundtrip: %w", err)
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return fmt.Errorf("mcp: unmarshal for roundtrip: %w", err)
	}
	return nil
}
