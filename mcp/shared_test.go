// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/mcpkit/corekit/jsonrpc"
)

// latestProtocolVersion is the newest version this module speaks, under the
// name tests use for it.
const latestProtocolVersion = protocolVersion

// req builds a JSON-RPC request for tests; an id of 0 produces a
// notification-shaped request (no id). Marshaling failures panic, since
// they indicate a broken test fixture rather than a runtime condition.
func req(id int64, method string, params any) *JSONRPCRequest {
	r := &JSONRPCRequest{Method: method, Params: mustMarshalJSON(params)}
	if id > 0 {
		r.ID = jsonrpc.Int64ID(id)
	}
	return r
}

// resp builds a JSON-RPC response for tests.
func resp(id int64, result any, err *jsonrpc.Error) *JSONRPCResponse {
	return &JSONRPCResponse{
		ID:     jsonrpc.Int64ID(id),
		Result: mustMarshalJSON(result),
		Error:  err,
	}
}

func mustMarshalJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshaling %v: %v", v, err))
	}
	return data
}

// fileResourceHandler returns a resource read handler that serves files out
// of dir, keyed by the final path segment of the resource's URI. It exists
// to give tests a read handler backed by real files without each test
// standing up its own.
func fileResourceHandler(dir string) func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error) {
	return func(_ context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
		name := path.Base(req.Params.URI)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, ResourceNotFoundError(req.Params.URI)
		}
		return &ReadResourceResult{
			Contents: []*ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     string(data),
			}},
		}, nil
	}
}
