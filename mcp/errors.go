// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "github.com/mcpkit/corekit/jsonrpc"

// CodeResourceNotFound is the JSON-RPC error code returned when a
// resources/read request names a URI that no registered resource or
// resource template matches. It sits in the same server-error band as the
// jsonrpc package's protocol-level codes and collides with none of them.
const CodeResourceNotFound int64 = -32005

// ResourceNotFoundError returns the error a resource read handler should
// return when it cannot find the resource identified by uri.
func ResourceNotFoundError(uri string) error {
	return jsonrpc.NewError(CodeResourceNotFound, "resource not found: %s", uri)
}
