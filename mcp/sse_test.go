// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSSETransportRoundTrip(t *testing.T) {
	for _, closeServerFirst := range []bool{false, true} {
		t.Run(fmt.Sprintf("closeServerFirst=%t", closeServerFirst), func(t *testing.T) {
			ctx := context.Background()
			server := NewServer(testImpl, nil)
			AddTool(server, &Tool{Name: "greet"}, sayHi)

			sseHandler := NewSSEHandler(func(*http.Request) *Server { return server }, nil)

			serverSessions := make(chan *ServerSession, 1)
			sseHandler.onConnection = func(ss *ServerSession) {
				select {
				case serverSessions <- ss:
				default:
				}
			}
			httpServer := httptest.NewServer(sseHandler)
			defer httpServer.Close()

			var dialCount int64
			trackingClient := &http.Client{
				Transport: recordingRoundTripper(func(req *http.Request) (*http.Response, error) {
					atomic.AddInt64(&dialCount, 1)
					return http.DefaultTransport.RoundTrip(req)
				}),
			}

			clientTransport := &SSEClientTransport{
				Endpoint:   httpServer.URL,
				HTTPClient: trackingClient,
			}

			c := NewClient(testImpl, nil)
			cs, err := c.Connect(ctx, clientTransport, nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := cs.Ping(ctx, nil); err != nil {
				t.Fatal(err)
			}
			ss := <-serverSessions
			gotHi, err := cs.CallTool(ctx, &CallToolParams{
				Name:      "greet",
				Arguments: map[string]any{"Name": "friend"},
			})
			if err != nil {
				t.Fatal(err)
			}
			wantHi := &CallToolResult{
				Content: []Content{
					&TextContent{Text: "hi friend"},
				},
			}
			if diff := cmp.Diff(wantHi, gotHi, ctrCmpOpts...); diff != "" {
				t.Errorf("tools/call 'greet' mismatch (-want +got):\n%s", diff)
			}

			if atomic.LoadInt64(&dialCount) == 0 {
				t.Error("expected the configured HTTPClient to be used, but it wasn't")
			}

			t.Run("rejects malformed posts", func(t *testing.T) {
				msgEndpoint := cs.mcpConn.(*sseClientConn).msgEndpoint.String()

				cases := []struct {
					name             string
					body             string
					responseContains string
				}{
					{"unknown method", `{"jsonrpc":"2.0", "method":"not/a/method"}`, "not handled"},
					{"request missing id", `{"jsonrpc":"2.0", "method":"ping"}`, "missing id"},
				}
				for _, tc := range cases {
					t.Run(tc.name, func(t *testing.T) {
						resp, err := http.Post(msgEndpoint, "application/json", bytes.NewReader([]byte(tc.body)))
						if err != nil {
							t.Fatal(err)
						}
						defer resp.Body.Close()
						if got, want := resp.StatusCode, http.StatusBadRequest; got != want {
							t.Errorf("posting %q: got status %d, want %d", tc.body, got, want)
						}
						result, err := io.ReadAll(resp.Body)
						if err != nil {
							t.Fatalf("reading response: %v", err)
						}
						if !bytes.Contains(result, []byte(tc.responseContains)) {
							t.Errorf("response body does not contain %q:\n%s", tc.responseContains, string(result))
						}
					})
				}
			})

			// Closing either end must terminate the other.
			if closeServerFirst {
				cs.Close()
				ss.Wait()
			} else {
				ss.Close()
				cs.Wait()
			}
		})
	}
}

// recordingRoundTripper lets a test observe which requests flow through an
// *http.Client without replacing its actual transport behavior.
type recordingRoundTripper func(*http.Request) (*http.Response, error)

func (f recordingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSSEClientTransportConnect_HTTPErrors(t *testing.T) {
	tests := []struct {
		statusCode     int
		wantErrContain string
	}{
		{http.StatusUnauthorized, "Unauthorized"},
		{http.StatusForbidden, "Forbidden"},
		{http.StatusNotFound, "Not Found"},
		{http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, http.StatusText(tt.statusCode), tt.statusCode)
			}))
			defer httpServer.Close()

			clientTransport := &SSEClientTransport{Endpoint: httpServer.URL}

			c := NewClient(testImpl, nil)
			_, err := c.Connect(context.Background(), clientTransport, nil)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !bytes.Contains([]byte(err.Error()), []byte(tt.wantErrContain)) {
				t.Errorf("error message %q does not contain %q", err.Error(), tt.wantErrContain)
			}
		})
	}
}

// TestSSEHandlerAllowHeader verifies RFC 9110 §15.5.6 compliance: a 405
// response must carry an Allow header naming the methods this transport
// supports.
func TestSSEHandlerAllowHeader(t *testing.T) {
	server := NewServer(testImpl, nil)
	handler := NewSSEHandler(func(req *http.Request) *Server { return server }, nil)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	for _, method := range []string{"PUT", "PATCH", "DELETE", "OPTIONS"} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, httpServer.URL, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if got, want := resp.StatusCode, http.StatusMethodNotAllowed; got != want {
				t.Errorf("status code: got %d, want %d", got, want)
			}
			if got, want := resp.Header.Get("Allow"), "GET, POST"; got != want {
				t.Errorf("Allow header: got %q, want %q", got, want)
			}
		})
	}
}
