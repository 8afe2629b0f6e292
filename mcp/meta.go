// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "context"

// Meta holds the contents of a JSON-RPC "_meta" field: out-of-band metadata
// attached to a request, notification, or result. Every Params and Result
// type in this package embeds Meta anonymously, so GetMeta and SetMeta are
// available on all of them through method promotion.
type Meta map[string]any

// GetMeta returns the metadata map, which may be nil.
func (m Meta) GetMeta() Meta { return m }

// SetMeta replaces the metadata map.
func (m *Meta) SetMeta(v Meta) { *m = v }

// progressTokenKey is the reserved _meta key used to correlate progress
// notifications with the request that requested them.
const progressTokenKey = "progressToken"

// getProgressToken extracts the progress token from x's metadata, if any.
// x is typically a Params pointer; the type assertion lets a single helper
// serve every Params implementation without repeating the lookup logic in
// each GetProgressToken method.
func getProgressToken(x any) any {
	m, ok := x.(interface{ GetMeta() Meta })
	if !ok {
		return nil
	}
	meta := m.GetMeta()
	if meta == nil {
		return nil
	}
	return meta[progressTokenKey]
}

// setProgressToken stores t as the progress token in x's metadata.
func setProgressToken(x any, t any) {
	m, ok := x.(interface {
		GetMeta() Meta
		SetMeta(Meta)
	})
	if !ok {
		return
	}
	meta := m.GetMeta()
	if meta == nil {
		meta = Meta{}
	}
	meta[progressTokenKey] = t
	m.SetMeta(meta)
}

// Params is implemented by every *Params type: the argument of a JSON-RPC
// request or notification. isParams is unexported so that only types
// defined in this package can be Params.
type Params interface {
	isParams()
	GetMeta() Meta
	SetMeta(Meta)
}

// progressParams is implemented by Params types that carry a progress
// token, which is most but not all of them (e.g. [CompleteParams] does
// not). Callers that need to set a progress token on an arbitrary outgoing
// request should check for this interface rather than assume it.
type progressParams interface {
	GetProgressToken() any
	SetProgressToken(any)
}

// Result is implemented by every *Result type: the return value of a
// JSON-RPC request. isResult is unexported so that only types defined in
// this package can be a Result.
type Result interface {
	isResult()
}

// ServerRequest is the argument passed to a server-side request handler: a
// request or notification received by a [ServerSession], paired with the
// session that received it.
type ServerRequest[P Params] struct {
	// Session is the server session on which the request was received.
	Session *ServerSession
	// Params holds the request's parameters.
	Params P
}

// ClientRequest is the argument passed to a client-side request handler: a
// request or notification received by a [ClientSession], paired with the
// session that received it.
type ClientRequest[P Params] struct {
	// Session is the client session on which the request was received.
	Session *ClientSession
	// Params holds the request's parameters.
	Params P
}

// newServerRequest pairs params with the server session they belong to.
func newServerRequest[P Params](ss *ServerSession, params P) *ServerRequest[P] {
	return &ServerRequest[P]{Session: ss, Params: params}
}

// handleNotify sends method as a notification on the session carried by
// req, with req's params as the payload.
func handleNotify[P Params](ctx context.Context, method string, req *ServerRequest[P]) error {
	return req.Session.conn.notify(ctx, method, req.Params)
}
