// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import "encoding/json"

// Envelope is the superset of top-level JSON-RPC 2.0 message fields,
// used only to drive strict validation of a whole message.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// DecodeMessage validates data as one JSON-RPC message under the strict
// decoding rules (case-sensitive field names, no case-variant duplicate
// keys anywhere in the document) and returns the decoded envelope. Callers
// that need the full typed message model should use the jsonrpc package,
// which layers its message kinds on top of this validation.
func DecodeMessage(data []byte) (*Envelope, error) {
	var w Envelope
	if err := StrictUnmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
