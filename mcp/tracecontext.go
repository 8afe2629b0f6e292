// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// TraceContext is the ambient, immutable request context threaded through
// dispatch: a trace/span id pair, optional parent span, the ids of the
// user and session (if any) the request is scoped to, and free-form
// baggage/metadata. It is never mutated in place -- [TraceContext.NewChild]
// and the With* helpers always return a new value.
type TraceContext struct {
	RequestID     string
	TraceID       string
	SpanID        string
	ParentSpanID  string
	UserID        string
	SessionID     string
	Baggage       map[string]string
	Metadata      map[string]any
}

type traceContextKey struct{}

// NewTraceContext creates a fresh root TraceContext: a new trace id, a new
// span id, and no parent.
func NewTraceContext() TraceContext {
	return TraceContext{
		RequestID: newSpanID(),
		TraceID:   newTraceID(),
		SpanID:    newSpanID(),
	}
}

// NewChild returns a TraceContext for a nested operation: it keeps the
// trace, user and session ids, records tc's span as the parent, and mints a
// fresh span id and request id.
func (tc TraceContext) NewChild() TraceContext {
	child := tc
	child.RequestID = newSpanID()
	child.ParentSpanID = tc.SpanID
	child.SpanID = newSpanID()
	return child
}

// WithBaggage returns a copy of tc with key=value added to its baggage.
func (tc TraceContext) WithBaggage(key, value string) TraceContext {
	child := tc
	child.Baggage = maps.Clone(tc.Baggage)
	if child.Baggage == nil {
		child.Baggage = make(map[string]string)
	}
	child.Baggage[key] = value
	return child
}

// WithMetadata returns a copy of tc with key=value added to its metadata.
func (tc TraceContext) WithMetadata(key string, value any) TraceContext {
	child := tc
	child.Metadata = maps.Clone(tc.Metadata)
	if child.Metadata == nil {
		child.Metadata = make(map[string]any)
	}
	child.Metadata[key] = value
	return child
}

// ContextWithTrace returns a context carrying tc, retrievable by
// [TraceFromContext].
func ContextWithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceFromContext returns the TraceContext carried by ctx, or a fresh root
// TraceContext if none was set.
func TraceFromContext(ctx context.Context) TraceContext {
	if tc, ok := ctx.Value(traceContextKey{}).(TraceContext); ok {
		return tc
	}
	return NewTraceContext()
}

// InjectHeaders writes tc onto an outbound HTTP header set, in the
// `traceparent` W3C-ish form plus the SDK's own x-request-id/x-user-id/
// x-session-id and baggage-* headers.
func (tc TraceContext) InjectHeaders(h http.Header) {
	if tc.TraceID != "" && tc.SpanID != "" {
		h.Set("traceparent", fmt.Sprintf("00-%s-%s-01", tc.TraceID, tc.SpanID))
	}
	if tc.RequestID != "" {
		h.Set("x-request-id", tc.RequestID)
	}
	if tc.UserID != "" {
		h.Set("x-user-id", tc.UserID)
	}
	if tc.SessionID != "" {
		h.Set("x-session-id", tc.SessionID)
	}
	for k, v := range tc.Baggage {
		h.Set("baggage-"+k, v)
	}
}

// ExtractHeaders parses an inbound HTTP header set into a TraceContext. A
// header set with no traceparent produces a TraceContext with a freshly
// minted trace and span id, as though it were the root of a new trace.
func ExtractHeaders(h http.Header) TraceContext {
	tc := TraceContext{
		RequestID: h.Get("x-request-id"),
		UserID:    h.Get("x-user-id"),
		SessionID: h.Get("x-session-id"),
	}
	if tp := h.Get("traceparent"); tp != "" {
		parts := strings.Split(tp, "-")
		if len(parts) >= 3 {
			tc.TraceID = parts[1]
			tc.SpanID = parts[2]
		}
	}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	if tc.SpanID == "" {
		tc.SpanID = newSpanID()
	}
	if tc.RequestID == "" {
		tc.RequestID = newSpanID()
	}
	for k := range h {
		lk := strings.ToLower(k)
		if rest, ok := strings.CutPrefix(lk, "baggage-"); ok {
			if tc.Baggage == nil {
				tc.Baggage = make(map[string]string)
			}
			tc.Baggage[rest] = h.Get(k)
		}
	}
	return tc
}

func newTraceID() string { return randHex(16) }
func newSpanID() string  { return randHex(8) }

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
