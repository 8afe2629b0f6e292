// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/mcpkit/corekit/jsonrpc"
)

// ClientOptions configures a [Client]. The zero value is usable: a client
// with no options advertises only the roots capability (answering
// roots/list with an empty list) and rejects any other server request that
// needs a capability.
type ClientOptions struct {
	// Capabilities, if non-nil, overrides the capabilities computed from
	// which handlers below are set.
	Capabilities *ClientCapabilities

	// StrictCapabilities makes every outbound call check the server's
	// advertised capabilities before it is sent, failing locally with an
	// unsupported-capability error instead of round-tripping a request the
	// server is bound to reject.
	StrictCapabilities bool

	// CreateMessageHandler, if set, lets the server ask this client to
	// sample from an LLM and advertises sampling capability.
	CreateMessageHandler func(context.Context, *CreateMessageRequest) (*CreateMessageResult, error)

	// ElicitationHandler, if set, lets the server ask this client to elicit
	// additional information from the user.
	ElicitationHandler func(context.Context, *ElicitRequest) (*ElicitResult, error)

	// ElicitationCompleteHandler, if set, is called when an out-of-band
	// (URL-mode) elicitation the client started completes.
	ElicitationCompleteHandler func(context.Context, *ElicitationCompleteNotificationRequest)

	// ListRootsHandler, if set, lets the server ask this client for its
	// list of filesystem roots. The roots capability is advertised whether
	// or not it is set; without it, roots/list returns an empty list.
	ListRootsHandler func(context.Context, *ListRootsRequest) (*ListRootsResult, error)

	// ProgressNotificationHandler, if set, is called for every progress
	// notification the client receives, including those also delivered to
	// a per-call progress sink.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationClientRequest)

	// LoggingMessageHandler, if set, is called for every log message
	// notification sent by the server.
	LoggingMessageHandler func(context.Context, *LoggingMessageRequest)

	// ToolListChangedHandler, PromptListChangedHandler,
	// ResourceListChangedHandler and ResourceUpdatedHandler are called when
	// the server notifies the client that the corresponding list (or
	// resource) changed.
	ToolListChangedHandler     func(context.Context, *ToolListChangedRequest)
	PromptListChangedHandler   func(context.Context, *PromptListChangedRequest)
	ResourceListChangedHandler func(context.Context, *ResourceListChangedRequest)
	ResourceUpdatedHandler     func(context.Context, *ResourceUpdatedNotificationRequest)

	// InitializedHandler, if set, is called once the handshake completes
	// (i.e. once the client has sent notifications/initialized).
	InitializedHandler func(context.Context, *ClientSession)
}

// A Client connects to one or more MCP servers, each as a [ClientSession].
type Client struct {
	impl *Implementation
	opts ClientOptions

	mu          sync.Mutex
	receivingMW []Middleware
	sendingMW   []Middleware
}

// NewClient creates a new Client, identifying itself to servers with impl.
// opts may be nil to accept every default.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	o := ClientOptions{}
	if opts != nil {
		o = *opts
	}
	return &Client{impl: impl, opts: o}
}

// AddReceivingMiddleware wraps every inbound request this client handles
// (sampling, elicitation, roots) with the given middleware.
func (c *Client) AddReceivingMiddleware(mw ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivingMW = append(c.receivingMW, mw...)
}

// AddSendingMiddleware wraps every outbound call this client makes to a
// server with the given middleware.
func (c *Client) AddSendingMiddleware(mw ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendingMW = append(c.sendingMW, mw...)
}

func (c *Client) capabilities() *ClientCapabilities {
	if c.opts.Capabilities != nil {
		return c.opts.Capabilities.clone()
	}
	// Roots support is built in: every client answers roots/list (with an
	// empty list if no handler is configured), so it is always advertised.
	caps := &ClientCapabilities{}
	caps.RootsV2 = &RootCapabilities{ListChanged: true}
	caps.Roots.ListChanged = true
	if c.opts.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapabilities{}
	}
	if c.opts.ElicitationHandler != nil {
		caps.Elicitation = &ElicitationCapabilities{}
	}
	return caps
}

// Connect binds the client to a freshly-established transport connection
// and performs the initialize/initialized handshake, returning the ready
// [ClientSession]. opts is reserved for forward compatibility.
func (c *Client) Connect(ctx context.Context, t Transport, opts *ClientSessionOptions) (*ClientSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	cs := &ClientSession{
		client:  c,
		mcpConn: conn,
		conn:    newConnection(conn),
		done:    make(chan struct{}),
	}
	// Detach the read loop from the dial context: cancelling ctx after the
	// handshake must not tear down the session.
	go cs.run(context.WithoutCancel(ctx))

	initRes, err := cs.initialize(ctx)
	if err != nil {
		_ = cs.Close()
		return nil, err
	}
	if !slices.Contains(supportedProtocolVersions, initRes.ProtocolVersion) {
		_ = cs.Close()
		return nil, fmt.Errorf("mcp: server negotiated unsupported protocol version %q (we support %v)", initRes.ProtocolVersion, supportedProtocolVersions)
	}
	cs.mu.Lock()
	cs.serverCaps = initRes.Capabilities
	cs.serverInfo = initRes.ServerInfo
	cs.mu.Unlock()

	if err := cs.conn.notify(ctx, notificationInitialized, &InitializedParams{}); err != nil {
		_ = cs.Close()
		return nil, err
	}
	if h := c.opts.InitializedHandler; h != nil {
		h(ctx, cs)
	}
	return cs, nil
}

// ClientSessionOptions configures a single call to [Client.Connect]. It is
// currently empty and reserved for forward compatibility.
type ClientSessionOptions struct{}

// ClientSession is a single connection from a [Client] to one MCP server.
type ClientSession struct {
	client *Client
	// mcpConn is the raw transport-level Connection, before it's wrapped by
	// conn's request/response plumbing. Transports whose client side needs
	// to expose extra state (e.g. the legacy SSE transport's per-session
	// message-POST endpoint) do so through a type assertion on this field.
	mcpConn Connection
	conn    *connection

	mu         sync.Mutex
	serverCaps *ServerCapabilities
	serverInfo *Implementation

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	runErr    error
}

func (*ClientSession) isSession() {}

// ID returns the session identifier assigned by the transport (for
// streamable HTTP, the Mcp-Session-Id), or "" if the transport does not
// assign one.
func (cs *ClientSession) ID() string {
	if s, ok := cs.mcpConn.(SessionIDer); ok {
		return s.SessionID()
	}
	return ""
}

func (cs *ClientSession) run(ctx context.Context) {
	err := cs.conn.run(ctx, func(msg JSONRPCMessage) { cs.handle(ctx, msg) })
	cs.runErr = err
	close(cs.done)
}

// handle dispatches one inbound message. Server-to-client requests
// (sampling, roots, elicitation) can block for a long time -- a sampling
// handler may be waiting on a model -- so each runs in its own goroutine,
// leaving the read loop free to deliver responses, progress, and
// cancellation. Notifications are handled inline, in arrival order.
func (cs *ClientSession) handle(ctx context.Context, msg JSONRPCMessage) {
	switch m := msg.(type) {
	case *JSONRPCRequest:
		go cs.handleRequest(ctx, m)
	case *JSONRPCNotification:
		cs.handleNotification(ctx, m)
	}
}

func (cs *ClientSession) handleRequest(ctx context.Context, req *JSONRPCRequest) {
	reqCtx, cancel := context.WithCancel(ctx)
	idKey := req.ID.String()
	cs.activeMu.Lock()
	if cs.active == nil {
		cs.active = make(map[string]context.CancelFunc)
	}
	cs.active[idKey] = cancel
	cs.activeMu.Unlock()
	defer func() {
		cs.activeMu.Lock()
		delete(cs.active, idKey)
		cs.activeMu.Unlock()
		cancel()
	}()

	result, err := cs.dispatch(reqCtx, req.Method, req.Params)
	_ = cs.conn.reply(ctx, req.ID, result, err)
}

func (cs *ClientSession) handleNotification(ctx context.Context, n *JSONRPCNotification) {
	switch n.Method {
	case notificationCancelled:
		var p CancelledParams
		_ = remarshalRaw(n.Params, &p)
		key := jsonrpc.ID{}
		switch v := p.RequestID.(type) {
		case string:
			key = jsonrpc.StringID(v)
		case float64:
			key = jsonrpc.Int64ID(int64(v))
		}
		cs.activeMu.Lock()
		cancel := cs.active[key.String()]
		cs.activeMu.Unlock()
		if cancel != nil {
			cancel()
		}
	case notificationProgress:
		var p ProgressNotificationParams
		_ = remarshalRaw(n.Params, &p)
		cs.conn.dispatchProgress(&p)
		if h := cs.client.opts.ProgressNotificationHandler; h != nil {
			h(ctx, &ProgressNotificationClientRequest{Session: cs, Params: &p})
		}
	case notificationLoggingMessage:
		var p LoggingMessageParams
		_ = remarshalRaw(n.Params, &p)
		if h := cs.client.opts.LoggingMessageHandler; h != nil {
			h(ctx, &LoggingMessageRequest{Session: cs, Params: &p})
		}
	case notificationToolListChanged:
		if h := cs.client.opts.ToolListChangedHandler; h != nil {
			h(ctx, &ToolListChangedRequest{Session: cs, Params: &ToolListChangedParams{}})
		}
	case notificationPromptListChanged:
		if h := cs.client.opts.PromptListChangedHandler; h != nil {
			h(ctx, &PromptListChangedRequest{Session: cs, Params: &PromptListChangedParams{}})
		}
	case notificationResourceListChanged:
		if h := cs.client.opts.ResourceListChangedHandler; h != nil {
			h(ctx, &ResourceListChangedRequest{Session: cs, Params: &ResourceListChangedParams{}})
		}
	case notificationResourceUpdated:
		var p ResourceUpdatedNotificationParams
		_ = remarshalRaw(n.Params, &p)
		if h := cs.client.opts.ResourceUpdatedHandler; h != nil {
			h(ctx, &ResourceUpdatedNotificationRequest{Session: cs, Params: &p})
		}
	case notificationElicitationComplete:
		var p ElicitationCompleteParams
		_ = remarshalRaw(n.Params, &p)
		if h := cs.client.opts.ElicitationCompleteHandler; h != nil {
			h(ctx, &ElicitationCompleteNotificationRequest{Session: cs, Params: &p})
		}
	}
}

func (cs *ClientSession) dispatch(ctx context.Context, method string, raw []byte) (Result, error) {
	h := addMiddleware(cs.baseHandler, cs.client.receivingMiddleware())
	req, err := cs.buildRequest(method, raw)
	if err != nil {
		return nil, err
	}
	return h(ctx, method, req)
}

func (c *Client) receivingMiddleware() []Middleware {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Middleware(nil), c.receivingMW...)
}

func (c *Client) sendingMiddleware() []Middleware {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Middleware(nil), c.sendingMW...)
}

func (cs *ClientSession) buildRequest(method string, raw []byte) (Request, error) {
	switch method {
	case methodPing:
		p := &PingParams{}
		return &ClientRequest[*PingParams]{Session: cs, Params: p}, remarshalOrEmpty(raw, p)
	case methodCreateMessage:
		p := &CreateMessageParams{}
		return &CreateMessageRequest{Session: cs, Params: p}, remarshalOrEmpty(raw, p)
	case methodElicit:
		p := &ElicitParams{}
		return &ElicitRequest{Session: cs, Params: p}, remarshalOrEmpty(raw, p)
	case methodListRoots:
		p := &ListRootsParams{}
		return &ListRootsRequest{Session: cs, Params: p}, remarshalOrEmpty(raw, p)
	default:
		return nil, jsonrpc.ErrMethodNotFound(method)
	}
}

func (cs *ClientSession) baseHandler(ctx context.Context, method string, req Request) (Result, error) {
	switch method {
	case methodPing:
		return &emptyResult{}, nil
	case methodCreateMessage:
		if h := cs.client.opts.CreateMessageHandler; h != nil {
			return h(ctx, req.(*CreateMessageRequest))
		}
		return nil, jsonrpc.ErrUnsupportedCapability(method)
	case methodElicit:
		if h := cs.client.opts.ElicitationHandler; h != nil {
			return h(ctx, req.(*ElicitRequest))
		}
		return nil, jsonrpc.ErrUnsupportedCapability(method)
	case methodListRoots:
		if h := cs.client.opts.ListRootsHandler; h != nil {
			return h(ctx, req.(*ListRootsRequest))
		}
		// Roots are always advertised; a client with no handler simply has
		// none to report.
		return &ListRootsResult{}, nil
	}
	return nil, jsonrpc.ErrMethodNotFound(method)
}

func (cs *ClientSession) call(ctx context.Context, method string, params, result any, opts *callOpts) error {
	if cs.client.opts.StrictCapabilities {
		if err := cs.checkPeerCapability(method); err != nil {
			return err
		}
	}
	return cs.conn.call(ctx, method, params, result, opts)
}

// checkPeerCapability reports whether method's required capability was
// advertised by the server during the handshake. Before the handshake
// completes (serverCaps unset) every method passes, since initialize and
// ping are the only methods sent then.
func (cs *ClientSession) checkPeerCapability(method string) error {
	cs.mu.Lock()
	caps := cs.serverCaps
	cs.mu.Unlock()
	if caps == nil {
		return nil
	}
	ok := true
	switch method {
	case methodListTools, methodCallTool:
		ok = caps.Tools != nil
	case methodListPrompts, methodGetPrompt:
		ok = caps.Prompts != nil
	case methodListResources, methodListResourceTemplates, methodReadResource:
		ok = caps.Resources != nil
	case methodSubscribe, methodUnsubscribe:
		ok = caps.Resources != nil && caps.Resources.Subscribe
	case methodComplete:
		ok = caps.Completions != nil
	case methodSetLevel:
		ok = caps.Logging != nil
	}
	if !ok {
		return jsonrpc.ErrUnsupportedCapability(method)
	}
	return nil
}

func (cs *ClientSession) initialize(ctx context.Context) (*InitializeResult, error) {
	params := &InitializeParams{
		Capabilities:    cs.client.capabilities(),
		ClientInfo:      cs.client.impl,
		ProtocolVersion: protocolVersion,
	}
	var res InitializeResult
	if err := cs.call(ctx, methodInitialize, params, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// ServerCapabilities returns the capabilities the server advertised during
// the handshake.
func (cs *ClientSession) ServerCapabilities() *ServerCapabilities {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.serverCaps
}

// ServerInfo returns the server's self-reported [Implementation].
func (cs *ClientSession) ServerInfo() *Implementation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.serverInfo
}

// Ping sends a ping request to the server.
func (cs *ClientSession) Ping(ctx context.Context, p *PingParams) error {
	return cs.call(ctx, methodPing, p, nil, nil)
}

// ListTools lists the tools the server currently exposes.
func (cs *ClientSession) ListTools(ctx context.Context, p *ListToolsParams) (*ListToolsResult, error) {
	var res ListToolsResult
	if err := cs.call(ctx, methodListTools, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// CallTool invokes a tool on the server.
func (cs *ClientSession) CallTool(ctx context.Context, p *CallToolParams) (*CallToolResult, error) {
	var res CallToolResult
	if err := cs.call(ctx, methodCallTool, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListPrompts lists the prompts the server currently exposes.
func (cs *ClientSession) ListPrompts(ctx context.Context, p *ListPromptsParams) (*ListPromptsResult, error) {
	var res ListPromptsResult
	if err := cs.call(ctx, methodListPrompts, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPrompt resolves a prompt by name.
func (cs *ClientSession) GetPrompt(ctx context.Context, p *GetPromptParams) (*GetPromptResult, error) {
	var res GetPromptResult
	if err := cs.call(ctx, methodGetPrompt, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources lists the resources the server currently exposes.
func (cs *ClientSession) ListResources(ctx context.Context, p *ListResourcesParams) (*ListResourcesResult, error) {
	var res ListResourcesResult
	if err := cs.call(ctx, methodListResources, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResourceTemplates lists the resource templates the server currently
// exposes.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, p *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	var res ListResourceTemplatesResult
	if err := cs.call(ctx, methodListResourceTemplates, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadResource reads a resource by URI.
func (cs *ClientSession) ReadResource(ctx context.Context, p *ReadResourceParams) (*ReadResourceResult, error) {
	var res ReadResourceResult
	if err := cs.call(ctx, methodReadResource, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Subscribe subscribes to update notifications for a resource.
func (cs *ClientSession) Subscribe(ctx context.Context, p *SubscribeParams) error {
	return cs.call(ctx, methodSubscribe, p, nil, nil)
}

// Unsubscribe cancels a previous Subscribe.
func (cs *ClientSession) Unsubscribe(ctx context.Context, p *UnsubscribeParams) error {
	return cs.call(ctx, methodUnsubscribe, p, nil, nil)
}

// SetLoggingLevel asks the server to only send log messages at or above
// the given level.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, level LoggingLevel) error {
	return cs.call(ctx, methodSetLevel, &SetLoggingLevelParams{Level: level}, nil, nil)
}

// Complete asks the server for completion suggestions.
func (cs *ClientSession) Complete(ctx context.Context, p *CompleteParams) (*CompleteResult, error) {
	var res CompleteResult
	if err := cs.call(ctx, methodComplete, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close terminates the session's underlying connection.
func (cs *ClientSession) Close() error {
	cs.closeOnce.Do(func() {})
	return cs.conn.close()
}

// Wait blocks until the session's connection has closed, returning the
// error (if any) that caused it to close. A clean shutdown returns nil.
func (cs *ClientSession) Wait() error {
	<-cs.done
	if errors.Is(cs.runErr, ErrConnectionClosed) || errors.Is(cs.runErr, io.EOF) {
		return nil
	}
	return cs.runErr
}
