// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"testing"
)

func TestTraceContextHeaderRoundTrip(t *testing.T) {
	tc := NewTraceContext()
	tc.UserID = "u1"
	tc.SessionID = "s1"
	tc = tc.WithBaggage("tenant", "acme")

	h := make(http.Header)
	tc.InjectHeaders(h)

	if got, want := h.Get("traceparent"), "00-"+tc.TraceID+"-"+tc.SpanID+"-01"; got != want {
		t.Errorf("traceparent: got %q, want %q", got, want)
	}

	got := ExtractHeaders(h)
	if got.TraceID != tc.TraceID || got.SpanID != tc.SpanID {
		t.Errorf("extracted trace/span (%s, %s), want (%s, %s)", got.TraceID, got.SpanID, tc.TraceID, tc.SpanID)
	}
	if got.RequestID != tc.RequestID || got.UserID != "u1" || got.SessionID != "s1" {
		t.Errorf("extracted ids %+v don't match injected ones", got)
	}
	if got.Baggage["tenant"] != "acme" {
		t.Errorf("baggage: got %v", got.Baggage)
	}
}

func TestTraceContextExtractEmpty(t *testing.T) {
	// With no inbound headers, extraction mints a fresh root trace.
	got := ExtractHeaders(make(http.Header))
	if got.TraceID == "" || got.SpanID == "" || got.RequestID == "" {
		t.Errorf("empty extraction left ids unset: %+v", got)
	}
	if got.ParentSpanID != "" {
		t.Errorf("root context has a parent span: %q", got.ParentSpanID)
	}
}

func TestTraceContextChild(t *testing.T) {
	parent := NewTraceContext()
	parent.UserID = "u1"
	parent.SessionID = "s1"

	child := parent.NewChild()
	if child.TraceID != parent.TraceID {
		t.Errorf("child trace id %q, want parent's %q", child.TraceID, parent.TraceID)
	}
	if child.ParentSpanID != parent.SpanID {
		t.Errorf("child parent-span %q, want %q", child.ParentSpanID, parent.SpanID)
	}
	if child.SpanID == parent.SpanID {
		t.Error("child did not mint a fresh span id")
	}
	if child.UserID != "u1" || child.SessionID != "s1" {
		t.Error("child dropped user/session ids")
	}
}

func TestTraceContextImmutability(t *testing.T) {
	base := NewTraceContext().WithBaggage("k", "v1")

	// Deriving a new context never mutates the one it came from.
	derived := base.WithBaggage("k", "v2").WithMetadata("m", 1)
	if base.Baggage["k"] != "v1" {
		t.Errorf("base baggage mutated: %v", base.Baggage)
	}
	if derived.Baggage["k"] != "v2" || derived.Metadata["m"] != 1 {
		t.Errorf("derived context wrong: %+v", derived)
	}
	if len(base.Metadata) != 0 {
		t.Errorf("base metadata mutated: %v", base.Metadata)
	}
}

func TestTraceContextOnContext(t *testing.T) {
	tc := NewTraceContext()
	ctx := ContextWithTrace(context.Background(), tc)
	if got := TraceFromContext(ctx); got.TraceID != tc.TraceID {
		t.Errorf("got trace %q, want %q", got.TraceID, tc.TraceID)
	}

	// A bare context yields a usable root rather than a zero value.
	if got := TraceFromContext(context.Background()); got.TraceID == "" {
		t.Error("TraceFromContext minted no trace id for a bare context")
	}
}
