// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
)

// Request is implemented by [ServerRequest] and [ClientRequest]: the
// argument passed to a [MethodHandler]. isRequest is unexported so that
// only types defined in this package can be a Request.
type Request interface {
	isRequest()
	// GetParams returns the request's parameters, for middleware that
	// operates on requests generically.
	GetParams() Params
}

func (*ServerRequest[P]) isRequest() {}
func (*ClientRequest[P]) isRequest() {}

func (r *ServerRequest[P]) GetParams() Params { return r.Params }
func (r *ClientRequest[P]) GetParams() Params { return r.Params }

// RequestParams is implemented by Params types that carry a progress
// token, which is most but not all of them. Middleware that wants to
// stamp a progress token on every outgoing request should check for this
// interface rather than assume it.
type RequestParams interface {
	Params
	GetProgressToken() any
	SetProgressToken(any)
}

// Session is implemented by [*ServerSession] and [*ClientSession], and
// exists so that code shared between the two (middleware tracing, for
// instance) can refer to "a session" generically.
type Session interface {
	isSession()
}

// A MethodHandler handles a JSON-RPC call for a single method: it is given
// the method name (for handlers shared across methods, such as logging
// middleware) and the typed [Request] wrapping the call's parameters, and
// returns the call's typed [Result].
//
// Handlers for notifications (which have no reply) still follow this
// signature; their returned Result is discarded.
type MethodHandler func(ctx context.Context, method string, req Request) (Result, error)

// A Middleware wraps a MethodHandler to add cross-cutting behavior --
// logging, tracing, rate limiting -- without the wrapped handler needing to
// know about it. Middlewares are composed in the order they are added. the
// first-added middleware is outermost.
type Middleware func(MethodHandler) MethodHandler

// addMiddleware returns h wrapped by each middleware in mw, applied so that
// mw[0] observes the call first (outermost).
func addMiddleware(h MethodHandler, mw []Middleware) MethodHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

