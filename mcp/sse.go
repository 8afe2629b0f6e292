// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mcpkit/corekit/jsonrpc"
)

// SSEHandlerOptions configures a [SSEHandler].
type SSEHandlerOptions struct {
	// MaxBodyBytes bounds the size of POST request bodies accepted by
	// sessions created through this handler; see [effectiveMaxBodyBytes]
	// for the zero/negative conventions.
	MaxBodyBytes int64
}

// SSEHandler is an http.Handler implementing the legacy (2024-11-05) MCP
// HTTP+SSE transport: a client opens a long-lived GET stream, learns where
// to POST messages from the stream's first event, and every subsequent
// client-to-server message is an independent POST to that endpoint while
// every server-to-client message arrives as an event on the GET stream.
//
// This predates the combined streamable HTTP transport ([StreamableHTTPHandler])
// and exists for clients that still speak the older protocol version.
type SSEHandler struct {
	getServer func(*http.Request) *Server
	opts      SSEHandlerOptions

	// onConnection, if set, is called with every [ServerSession] this
	// handler establishes, right after the GET stream is accepted.
	onConnection func(*ServerSession)

	mu       sync.Mutex
	sessions map[string]*SSEServerTransport
}

// NewSSEHandler returns a new [SSEHandler]. getServer is consulted for
// every new GET stream, and may return the same server for every request.
func NewSSEHandler(getServer func(*http.Request) *Server, opts *SSEHandlerOptions) *SSEHandler {
	h := &SSEHandler{
		getServer: getServer,
		sessions:  make(map[string]*SSEServerTransport),
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		h.serveGET(w, req)
	case http.MethodPost:
		h.servePOST(w, req)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (h *SSEHandler) serveGET(w http.ResponseWriter, req *http.Request) {
	id := newOpaqueToken()
	t := NewSSEServerTransport(id, "?sessionid="+url.QueryEscape(id))
	t.MaxBodyBytes = h.opts.MaxBodyBytes

	h.mu.Lock()
	h.sessions[id] = t
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}()

	server := h.getServer(req)
	ss, err := server.Connect(req.Context(), t, nil)
	if err != nil {
		http.Error(w, "failed connection", http.StatusInternalServerError)
		return
	}
	if h.onConnection != nil {
		h.onConnection(ss)
	}
	t.ServeHTTP(w, req)
}

func (h *SSEHandler) servePOST(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("sessionid")
	if id == "" {
		http.Error(w, "sessionid must be provided", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	t := h.sessions[id]
	h.mu.Unlock()
	if t == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	t.ServeHTTP(w, req)
}

// clientRequestMethods are the methods a client may send as a JSON-RPC
// request (i.e. one expecting a response, and therefore requiring an id).
var clientRequestMethods = map[string]bool{
	methodInitialize:            true,
	methodPing:                  true,
	methodListTools:             true,
	methodCallTool:              true,
	methodListPrompts:           true,
	methodGetPrompt:             true,
	methodListResources:         true,
	methodListResourceTemplates: true,
	methodReadResource:          true,
	methodSubscribe:             true,
	methodUnsubscribe:           true,
	methodSetLevel:              true,
	methodComplete:              true,
}

// clientNotificationMethods are the methods a client may send as a
// JSON-RPC notification (i.e. one with no id and no response).
var clientNotificationMethods = map[string]bool{
	notificationInitialized:      true,
	notificationCancelled:        true,
	notificationRootsListChanged: true,
}

// validateClientMessage rejects a POSTed message before it's handed to the
// session machinery, so the legacy transport's synchronous POST response
// can carry a useful error: once a message is pushed onto a session's
// incoming channel, any resulting error surfaces later, asynchronously, as
// an event on the GET stream.
func validateClientMessage(data []byte) error {
	var probe struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if probe.Method == "" {
		// Not a request or notification (e.g. a response to a server-initiated
		// call); nothing more to check here.
		return nil
	}
	hasID := len(probe.ID) > 0 && string(probe.ID) != "null"
	switch {
	case clientRequestMethods[probe.Method]:
		if !hasID {
			return fmt.Errorf("request %q missing id", probe.Method)
		}
	case clientNotificationMethods[probe.Method]:
		if hasID {
			return fmt.Errorf("notification %q must not have an id", probe.Method)
		}
	default:
		return fmt.Errorf("method %q not handled", probe.Method)
	}
	return nil
}

// SSEServerTransport is one session of the legacy HTTP+SSE transport: the
// [Transport] and [Connection] for a single client, reachable through
// [SSEHandler].
type SSEServerTransport struct {
	// MaxBodyBytes bounds POST request bodies sent to this session; see
	// [effectiveMaxBodyBytes] for the zero/negative conventions. Set once
	// before the transport is used, so it's safe to read without a lock.
	MaxBodyBytes int64

	id      string
	msgPath string // relative URL sent as the "endpoint" event's data

	incoming chan JSONRPCMessage // POST -> server
	outgoing chan JSONRPCMessage // server -> GET stream

	mu         sync.Mutex
	isDone     bool
	done       chan struct{}
	streamOpen bool
}

// NewSSEServerTransport returns a new [SSEServerTransport]. msgPath is the
// URL (relative to wherever the GET stream is served) that the client
// should POST messages to; it's sent as the data of the stream's first
// "endpoint" event.
func NewSSEServerTransport(sessionID, msgPath string) *SSEServerTransport {
	return &SSEServerTransport{
		id:       sessionID,
		msgPath:  msgPath,
		incoming: make(chan JSONRPCMessage, 10),
		outgoing: make(chan JSONRPCMessage, 10),
		done:     make(chan struct{}),
	}
}

// SessionID implements [SessionIDer].
func (t *SSEServerTransport) SessionID() string { return t.id }

// Connect implements the [Transport] interface.
func (t *SSEServerTransport) Connect(context.Context) (Connection, error) {
	return t, nil
}

func (t *SSEServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		t.serveGET(w, req)
	case http.MethodPost:
		t.servePOST(w, req)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (t *SSEServerTransport) serveGET(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	t.mu.Lock()
	if t.streamOpen {
		t.mu.Unlock()
		http.Error(w, "stream already open for this session", http.StatusBadRequest)
		return
	}
	t.streamOpen = true
	t.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := writeEvent(w, event{name: "endpoint", data: []byte(t.msgPath)}); err != nil {
		t.Close()
		return
	}
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			t.Close()
			return
		case <-t.done:
			return
		case msg := <-t.outgoing:
			data, err := jsonrpc.EncodeMessage(msg)
			if err != nil {
				continue
			}
			if _, err := writeEvent(w, event{name: "message", data: data}); err != nil {
				t.Close()
				return
			}
		}
	}
}

func (t *SSEServerTransport) servePOST(w http.ResponseWriter, req *http.Request) {
	limit := effectiveMaxBodyBytes(t.MaxBodyBytes)
	reader := req.Body
	if limit > 0 {
		reader = http.MaxBytesReader(w, req.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
		return
	}
	if err := validateClientMessage(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
		return
	}

	select {
	case t.incoming <- msg:
	case <-t.done:
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-req.Context().Done():
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Read implements the [Connection] interface.
func (t *SSEServerTransport) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Write implements the [Connection] interface.
func (t *SSEServerTransport) Write(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case t.outgoing <- msg:
		return nil
	case <-t.done:
		return fmt.Errorf("mcp: session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the [Connection] interface.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isDone {
		t.isDone = true
		close(t.done)
	}
	return nil
}

// SSEClientTransport is a [Transport] that speaks the client side of the
// legacy HTTP+SSE transport: it opens a GET stream to Endpoint, reads the
// per-session message-POST URL from the stream's first event, and POSTs
// every outgoing message there.
type SSEClientTransport struct {
	// Endpoint is the URL of the SSE stream to connect to.
	Endpoint string

	// HTTPClient is the HTTP client used for both the GET stream and the
	// message POSTs. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// ModifyRequest, if set, is called with every outgoing HTTP request
	// (the stream GET and each message POST) before it is sent.
	ModifyRequest func(*http.Request)
}

// Connect implements the [Transport] interface.
func (c *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.ModifyRequest != nil {
		c.ModifyRequest(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: connecting to SSE endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: SSE endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	base, err := url.Parse(c.Endpoint)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: parsing endpoint: %w", err)
	}

	conn := &sseClientConn{
		client:        client,
		body:          resp.Body,
		modifyRequest: c.ModifyRequest,
		ready:         make(chan struct{}),
		incoming:      make(chan []byte, 10),
		done:          make(chan struct{}),
	}
	go conn.readLoop(base)

	select {
	case <-conn.ready:
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
	conn.mu.Lock()
	gotEndpoint := conn.msgEndpoint != nil
	conn.mu.Unlock()
	if !gotEndpoint {
		err := conn.closeErr
		if err == nil {
			err = fmt.Errorf("mcp: SSE stream closed before endpoint event")
		}
		return nil, err
	}
	return conn, nil
}

// sseClientConn is the client side of one legacy SSE session: events read
// from the GET stream arrive as raw bytes on incoming (decoded lazily by
// Read, mirroring [streamableClientConn]), and Write POSTs directly to
// msgEndpoint.
type sseClientConn struct {
	client        *http.Client
	body          io.ReadCloser
	modifyRequest func(*http.Request)

	mu          sync.Mutex
	msgEndpoint *url.URL

	ready     chan struct{}
	readyOnce sync.Once

	incoming chan []byte

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func (c *sseClientConn) readLoop(base *url.URL) {
	defer close(c.incoming)
	for evt, err := range scanEvents(c.body) {
		if err != nil {
			if err == io.EOF {
				c.fail(nil)
			} else {
				c.fail(err)
			}
			return
		}
		switch evt.name {
		case "endpoint":
			ref, perr := url.Parse(strings.TrimSpace(string(evt.data)))
			if perr != nil {
				c.fail(fmt.Errorf("mcp: malformed endpoint event: %w", perr))
				return
			}
			c.mu.Lock()
			c.msgEndpoint = base.ResolveReference(ref)
			c.mu.Unlock()
			c.readyOnce.Do(func() { close(c.ready) })
		case "message":
			select {
			case c.incoming <- evt.data:
			case <-c.done:
				return
			}
		}
	}
}

func (c *sseClientConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
		c.body.Close()
	})
	c.readyOnce.Do(func() { close(c.ready) })
}

// Read implements the [Connection] interface.
func (c *sseClientConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, io.EOF
	case data, ok := <-c.incoming:
		if !ok {
			return nil, io.EOF
		}
		return jsonrpc.DecodeMessage(data)
	}
}

// Write implements the [Connection] interface.
func (c *sseClientConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	c.mu.Lock()
	endpoint := c.msgEndpoint
	c.mu.Unlock()
	if endpoint == nil {
		return fmt.Errorf("mcp: SSE message endpoint not yet known")
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.modifyRequest != nil {
		c.modifyRequest(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: posting message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mcp: message POST returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Close implements the [Connection] interface.
func (c *sseClientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.body.Close()
	})
	return nil
}
