// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"errors"
	"net/http"
)

// DefaultMaxBodyBytes caps POST request bodies accepted by the streamable
// HTTP transport when no explicit limit is configured.
const DefaultMaxBodyBytes int64 = 1_000_000

// effectiveMaxBodyBytes turns a configured limit into the value actually
// enforced: zero selects DefaultMaxBodyBytes, a negative value disables
// the limit entirely (returned as 0, on which the call sites skip
// http.MaxBytesReader), and a positive value passes through.
func effectiveMaxBodyBytes(configured int64) int64 {
	switch {
	case configured == 0:
		return DefaultMaxBodyBytes
	case configured < 0:
		return 0
	default:
		return configured
	}
}

func isMaxBytesError(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func writeRequestBodyTooLarge(w http.ResponseWriter) {
	// http.MaxBytesReader already poisons the connection so it can't be
	// reused, but ask the client to close it too.
	w.Header().Set("Connection", "close")
	http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
}
