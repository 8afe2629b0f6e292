// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/mcpkit/corekit/jsonrpc"
)

// ServerOptions configures a [Server]. The zero value is usable.
type ServerOptions struct {
	// Instructions are sent to the client as part of [InitializeResult], to
	// help it (and the LLM it is driving) understand how to use the server.
	Instructions string

	// PageSize bounds the number of items returned in one page of a list
	// method (tools/list, prompts/list, resources/list,
	// resources/templates/list). Zero selects a generous default.
	PageSize int

	// KeepAlive, if positive, makes every [ServerSession] ping the peer on
	// this interval after the handshake completes, closing the session if a
	// ping fails.
	KeepAlive time.Duration

	// HandlerConcurrency bounds how many inbound requests a single session
	// processes at once, including the entries of a batch. Zero selects the
	// default of 10; a value of 1 serializes handlers.
	HandlerConcurrency int

	// StrictCapabilities rejects inbound requests whose required capability
	// this server did not advertise at handshake time, with an
	// unsupported-capability error. When unset, such requests get the
	// lenient default behavior (list methods answer with empty lists).
	StrictCapabilities bool

	// HasPrompts, HasResources, HasTools force the corresponding capability
	// to be advertised even before any prompt/resource/tool has been added,
	// for servers that register features lazily after Connect.
	HasPrompts, HasResources, HasTools bool

	// SubscribeHandler and UnsubscribeHandler, if both set, advertise
	// resource subscription support and handle resources/subscribe and
	// resources/unsubscribe.
	SubscribeHandler   func(context.Context, *SubscribeRequest) error
	UnsubscribeHandler func(context.Context, *UnsubscribeRequest) error

	// CompletionHandler, if set, advertises completion support and handles
	// completion/complete.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)

	// InitializedHandler, if set, is called when the client sends
	// notifications/initialized, completing the handshake.
	InitializedHandler func(context.Context, *InitializedRequest)

	// RootsListChangedHandler, if set, is called when the client notifies
	// the server that its roots list changed.
	RootsListChangedHandler func(context.Context, *RootsListChangedRequest)

	// SessionStateStore persists [ServerSessionState] across reconnects (see
	// the streamable HTTP transport's resumability support). A nil store
	// means session state does not survive a dropped connection.
	SessionStateStore ServerSessionStateStore

	// SchemaCache, if set, caches generated and resolved input/output
	// schemas across AddTool calls. This matters for deployments that
	// construct a fresh *Server (and re-register the same tools) per
	// request: without a shared cache each registration would redo
	// reflection-based schema generation and schema resolution from
	// scratch. Safe for concurrent use and for sharing across servers.
	SchemaCache *schemaCache
}

// ServerSessionState is the subset of [ServerSession] state that must
// survive a reconnect against the streamable HTTP transport: the completed
// handshake parameters and the session's logging level.
type ServerSessionState struct {
	InitializeParams *InitializeParams `json:"initializeParams"`
	LogLevel         LoggingLevel      `json:"logLevel"`
}

type promptEntry struct {
	prompt  *Prompt
	handler func(context.Context, *GetPromptRequest) (*GetPromptResult, error)
}

type resourceEntry struct {
	resource *Resource
	handler  func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)
}

type resourceTemplateEntry struct {
	template *ResourceTemplate
	handler  func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)
	compiled *uritemplate.Template
}

// A Server serves the Model Context Protocol to one or more peers, over
// whatever [Transport] each peer connects with. A Server is safe for
// concurrent use and may be Connected to many transports concurrently,
// mirroring the one-server-many-sessions shape of net/http's Server.
type Server struct {
	impl *Implementation
	opts ServerOptions

	tools             *featureSet[*serverTool]
	prompts           *featureSet[*promptEntry]
	resources         *featureSet[*resourceEntry]
	resourceTemplates *featureSet[*resourceTemplateEntry]

	subs *subscriptionSet

	mu             sync.Mutex
	sessions       map[*ServerSession]bool
	receivingMW    []Middleware
	sendingMW      []Middleware
	hasPrompts     bool
	hasResources   bool
	hasTools       bool
}

// NewServer creates a new Server, identifying itself to peers with impl.
// opts may be nil to accept every default.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	o := ServerOptions{}
	if opts != nil {
		o = *opts
	}
	return &Server{
		impl:              impl,
		opts:              o,
		tools:             newFeatureSet(func(t *serverTool) string { return t.tool.Name }),
		prompts:           newFeatureSet(func(p *promptEntry) string { return p.prompt.Name }),
		resources:         newFeatureSet(func(r *resourceEntry) string { return r.resource.URI }),
		resourceTemplates: newFeatureSet(func(r *resourceTemplateEntry) string { return r.template.URITemplate }),
		subs:              newSubscriptionSet(),
		sessions:          make(map[*ServerSession]bool),
		hasPrompts:        o.HasPrompts,
		hasResources:      o.HasResources,
		hasTools:          o.HasTools,
	}
}

// AddTool registers a tool with a raw handler that decodes its own
// arguments. Most callers should prefer the generic [AddTool] function,
// which infers schemas and validates arguments for them.
func (s *Server) AddTool(t *Tool, h ToolHandler) {
	st, err := newRawServerTool(t, h, s.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("mcp: AddTool %q: %v", t.Name, err))
	}
	s.tools.add(st)
	s.mu.Lock()
	s.hasTools = true
	s.mu.Unlock()
	s.notifyToolsChanged()
}

// AddTool registers a tool on server whose input and output are inferred
// from handler's argument and structured-output types, exactly as
// [Server.AddTool] does for a raw handler. It is a free function (rather
// than a method) because Go does not allow a method to introduce its own
// type parameters.
func AddTool[In, Out any](server *Server, t *Tool, handler TypedToolHandler[In, Out]) {
	st, err := newTypedServerTool(t, handler, server.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("mcp: AddTool %q: %v", t.Name, err))
	}
	server.tools.add(st)
	server.mu.Lock()
	server.hasTools = true
	server.mu.Unlock()
	server.notifyToolsChanged()
}

// RemoveTools removes the named tools, which need not exist.
func (s *Server) RemoveTools(names ...string) {
	s.tools.remove(names...)
	s.notifyToolsChanged()
}

// AddPrompt registers a prompt and its handler.
func (s *Server) AddPrompt(p *Prompt, h func(context.Context, *GetPromptRequest) (*GetPromptResult, error)) {
	s.prompts.add(&promptEntry{prompt: p, handler: h})
	s.mu.Lock()
	s.hasPrompts = true
	s.mu.Unlock()
	s.notifyPromptsChanged()
}

// RemovePrompts removes the named prompts, which need not exist.
func (s *Server) RemovePrompts(names ...string) {
	s.prompts.remove(names...)
	s.notifyPromptsChanged()
}

// AddResource registers a resource and its read handler.
func (s *Server) AddResource(r *Resource, h func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)) {
	s.resources.add(&resourceEntry{resource: r, handler: h})
	s.mu.Lock()
	s.hasResources = true
	s.mu.Unlock()
	s.notifyResourcesChanged()
}

// RemoveResources removes the resources with the given URIs, which need not
// exist.
func (s *Server) RemoveResources(uris ...string) {
	s.resources.remove(uris...)
	s.notifyResourcesChanged()
}

// AddResourceTemplate registers a resource template and its read handler.
// It panics if the template's URI template fails to parse, matching the
// fail-fast behavior of registering a malformed tool schema.
func (s *Server) AddResourceTemplate(rt *ResourceTemplate, h func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)) {
	tmpl, err := uritemplate.New(rt.URITemplate)
	if err != nil {
		panic(fmt.Sprintf("mcp: AddResourceTemplate %q: %v", rt.URITemplate, err))
	}
	s.resourceTemplates.add(&resourceTemplateEntry{template: rt, handler: h, compiled: tmpl})
	s.mu.Lock()
	s.hasResources = true
	s.mu.Unlock()
	s.notifyResourcesChanged()
}

// RemoveResourceTemplates removes the resource templates with the given URI
// templates, which need not exist.
func (s *Server) RemoveResourceTemplates(uriTemplates ...string) {
	s.resourceTemplates.remove(uriTemplates...)
	s.notifyResourcesChanged()
}

// AddReceivingMiddleware wraps every inbound method handler (those invoked
// by a peer calling into this server) with the given middleware, outermost
// first, in the order they are added.
func (s *Server) AddReceivingMiddleware(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivingMW = append(s.receivingMW, mw...)
}

// AddSendingMiddleware wraps every outbound call this server makes to a
// peer (ping, sampling, elicitation, roots) with the given middleware.
func (s *Server) AddSendingMiddleware(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendingMW = append(s.sendingMW, mw...)
}

// capabilities computes the ServerCapabilities to advertise during the
// handshake, derived from whichever features have been registered (or
// forced via [ServerOptions.HasPrompts] et al.) and handlers configured.
func (s *Server) capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := &ServerCapabilities{
		Logging: &LoggingCapabilities{},
	}
	if s.hasPrompts || s.prompts.len() > 0 {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	if s.hasResources || s.resources.len() > 0 || s.resourceTemplates.len() > 0 {
		caps.Resources = &ResourceCapabilities{ListChanged: true}
		if s.opts.SubscribeHandler != nil && s.opts.UnsubscribeHandler != nil {
			caps.Resources.Subscribe = true
		}
	}
	if s.hasTools || s.tools.len() > 0 {
		caps.Tools = &ToolCapabilities{ListChanged: true}
	}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	return caps
}

func (s *Server) pageSize() int {
	if s.opts.PageSize > 0 {
		return s.opts.PageSize
	}
	return 1000
}

// Connect binds server to a freshly-established transport connection,
// returning the resulting [ServerSession] once it is ready to process
// messages. Connect returns as soon as the connection's read loop starts;
// it does not wait for the handshake to complete. opts is currently unused
// and exists for forward compatibility.
func (s *Server) Connect(ctx context.Context, t Transport, opts *ServerSessionOptions) (*ServerSession, error) {
	c, err := t.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting transport: %w", err)
	}
	ss := &ServerSession{
		server:     s,
		conn:       newConnection(c),
		debounce:   newNotifyDebouncer(),
		handlerSem: make(chan struct{}, s.handlerConcurrency()),
		done:       make(chan struct{}),
	}
	if sider, ok := c.(SessionIDer); ok {
		ss.id = sider.SessionID()
	}
	s.mu.Lock()
	s.sessions[ss] = true
	s.mu.Unlock()

	// The read loop must outlive ctx, which is often scoped to the caller's
	// own request (an HTTP POST, a dial); only values carry over.
	go ss.run(context.WithoutCancel(ctx))
	return ss, nil
}

// defaultHandlerConcurrency is the per-session cap on concurrently running
// request handlers when [ServerOptions.HandlerConcurrency] is unset.
const defaultHandlerConcurrency = 10

func (s *Server) handlerConcurrency() int {
	if n := s.opts.HandlerConcurrency; n > 0 {
		return n
	}
	return defaultHandlerConcurrency
}

func (s *Server) forgetSession(ss *ServerSession) {
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
}

// sessionList returns a snapshot of sessions currently connected to s.
func (s *Server) sessionList() []*ServerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ServerSession, 0, len(s.sessions))
	for ss := range s.sessions {
		out = append(out, ss)
	}
	return out
}

// ResourceUpdated notifies every session subscribed to params.URI that its
// contents changed, coalescing bursts via the per-session notification
// debouncer. It returns the number of subscribed sessions that will be
// notified.
func (s *Server) ResourceUpdated(ctx context.Context, params *ResourceUpdatedNotificationParams) int {
	subscribers := s.subs.subscribers(params.URI)
	for _, ss := range subscribers {
		ss.debounce.submit("resource:"+params.URI, debounceIntervalDefault, func() {
			_ = ss.conn.notify(context.WithoutCancel(ctx), notificationResourceUpdated, params)
		})
	}
	return len(subscribers)
}

func (s *Server) notifyToolsChanged()     { s.notifyListChanged(notificationToolListChanged) }
func (s *Server) notifyPromptsChanged()   { s.notifyListChanged(notificationPromptListChanged) }
func (s *Server) notifyResourcesChanged() { s.notifyListChanged(notificationResourceListChanged) }

func (s *Server) notifyListChanged(method string) {
	for _, ss := range s.sessionList() {
		if !ss.isReady() {
			continue
		}
		ss.debounce.submit(method, debounceIntervalListChanged, func() {
			_ = ss.conn.notify(context.Background(), method, Meta{})
		})
	}
}

// Close closes every session currently connected to the server.
func (s *Server) Close() error {
	var firstErr error
	for _, ss := range s.sessionList() {
		if err := ss.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ServerSessionOptions configures a single call to [Server.Connect]. It is
// currently empty and reserved for forward compatibility (e.g. per-session
// resumability tokens).
type ServerSessionOptions struct{}

// sessionState mirrors the peer state machine described for engine
// component C3: every session starts Disconnected, moves to Initializing
// once the initialize request is being handled, Ready once initialized
// arrives, and Closing/Closed as it shuts down.
type sessionState int32

const (
	stateDisconnected sessionState = iota
	stateInitializing
	stateReady
	stateClosing
	stateClosed
)

// ServerSession is a single peer connection to a [Server]: the transport's
// live connection plus the handshake state, registered subscriptions, and
// keepalive goroutine for that one peer.
type ServerSession struct {
	server *Server
	conn   *connection

	id string

	// handlerSem bounds how many inbound requests run concurrently on this
	// session; batch entries and pipelined single requests share the same
	// limit.
	handlerSem chan struct{}

	state    atomic.Int32
	initMu   sync.Mutex
	initParams *InitializeParams
	logLevel LoggingLevel

	debounce *notifyDebouncer

	keepaliveMu     sync.Mutex
	keepaliveCancel context.CancelFunc

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	runErr    error
}

func (*ServerSession) isSession() {}

func (ss *ServerSession) isReady() bool {
	return sessionState(ss.state.Load()) == stateReady
}

// run pumps inbound messages for the session until the connection closes.
func (ss *ServerSession) run(ctx context.Context) {
	err := ss.conn.run(ctx, func(msg JSONRPCMessage) { ss.handle(ctx, msg) })
	ss.state.Store(int32(stateClosed))
	ss.stopKeepalive()
	ss.debounce.close()
	ss.server.subs.unsubscribeAll(ss)
	ss.server.forgetSession(ss)
	ss.runErr = err
	close(ss.done)
}

// handle dispatches one inbound message. Requests run in their own
// goroutine, bounded by the session's handler semaphore, so that a
// long-running handler never blocks the read loop: cancellation
// notifications must be observable while the request they target is still
// executing. Notifications are handled inline, preserving their arrival
// order.
func (ss *ServerSession) handle(ctx context.Context, msg JSONRPCMessage) {
	switch m := msg.(type) {
	case *JSONRPCRequest:
		go func() {
			ss.handlerSem <- struct{}{}
			defer func() { <-ss.handlerSem }()
			ss.handleRequest(ctx, m)
		}()
	case *JSONRPCNotification:
		ss.handleNotification(ctx, m)
	}
}

func (ss *ServerSession) handleRequest(ctx context.Context, req *JSONRPCRequest) {
	// Tag the context with the request ID so that transports that multiplex
	// several logical streams (streamable HTTP) can route messages sent
	// during the handler back to the HTTP response that carried the request.
	ctx = context.WithValue(ctx, idContextKey{}, req.ID)
	reqCtx, cancel := context.WithCancel(ctx)
	idKey := req.ID.String()
	ss.activeMu.Lock()
	if ss.active == nil {
		ss.active = make(map[string]context.CancelFunc)
	}
	ss.active[idKey] = cancel
	ss.activeMu.Unlock()
	defer func() {
		ss.activeMu.Lock()
		delete(ss.active, idKey)
		ss.activeMu.Unlock()
		cancel()
	}()

	result, err := ss.dispatch(reqCtx, req.Method, req.Params)
	_ = ss.conn.reply(ctx, req.ID, result, err)
}

func (ss *ServerSession) handleNotification(ctx context.Context, n *JSONRPCNotification) {
	switch n.Method {
	case notificationInitialized:
		var p InitializedParams
		_ = remarshalRaw(n.Params, &p)
		if _, err := ss.initialized(ctx, &p); err != nil {
			return
		}
		if h := ss.server.opts.InitializedHandler; h != nil {
			h(ctx, &InitializedRequest{Session: ss, Params: &p})
		}
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
		ss.activeMu.Lock()
		cancel := ss.active[key.String()]
		ss.activeMu.Unlock()
		if cancel != nil {
			cancel()
		}
	case notificationProgress:
		var p ProgressNotificationParams
		_ = remarshalRaw(n.Params, &p)
		ss.conn.dispatchProgress(&p)
	case notificationRootsListChanged:
		var p RootsListChangedParams
		_ = remarshalRaw(n.Params, &p)
		if h := ss.server.opts.RootsListChangedHandler; h != nil {
			h(ctx, &RootsListChangedRequest{Session: ss, Params: &p})
		}
	}
}

// dispatch runs the receiving middleware chain around the method-specific
// handler, matching the shape expected for every JSON-RPC method a server
// receives.
func (ss *ServerSession) dispatch(ctx context.Context, method string, raw []byte) (Result, error) {
	if method != methodInitialize && method != methodPing && !ss.isReady() {
		return nil, jsonrpc.ErrInvalidState(method)
	}
	if ss.server.opts.StrictCapabilities {
		if err := ss.checkCapability(method); err != nil {
			return nil, err
		}
	}
	h := addMiddleware(ss.baseHandler, ss.server.receivingMiddleware())
	req, err := ss.buildRequest(method, raw)
	if err != nil {
		return nil, err
	}
	return h(ctx, method, req)
}

// checkCapability reports whether method's required capability was
// advertised by this server, per the method surface table: tools, prompts,
// resources (with the subscribe sub-flag for resources/subscribe and
// resources/unsubscribe), completions, and logging. Methods with no
// required capability always pass.
func (ss *ServerSession) checkCapability(method string) error {
	caps := ss.server.capabilities()
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

func (s *Server) receivingMiddleware() []Middleware {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Middleware(nil), s.receivingMW...)
}

func (s *Server) sendingMiddleware() []Middleware {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Middleware(nil), s.sendingMW...)
}

func (ss *ServerSession) buildRequest(method string, raw []byte) (Request, error) {
	switch method {
	case methodInitialize:
		p := &InitializeParams{}
		return &ServerRequest[*InitializeParams]{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodPing:
		p := &PingParams{}
		return &ServerRequest[*PingParams]{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodListTools:
		p := &ListToolsParams{}
		return &ListToolsRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodCallTool:
		p := &CallToolParamsRaw{}
		return &CallToolRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodListPrompts:
		p := &ListPromptsParams{}
		return &ListPromptsRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodGetPrompt:
		p := &GetPromptParams{}
		return &GetPromptRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodListResources:
		p := &ListResourcesParams{}
		return &ListResourcesRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodListResourceTemplates:
		p := &ListResourceTemplatesParams{}
		return &ListResourceTemplatesRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodReadResource:
		p := &ReadResourceParams{}
		return &ReadResourceRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodSubscribe:
		p := &SubscribeParams{}
		return &SubscribeRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodUnsubscribe:
		p := &UnsubscribeParams{}
		return &UnsubscribeRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodSetLevel:
		p := &SetLoggingLevelParams{}
		return &SetLoggingLevelRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	case methodComplete:
		p := &CompleteParams{}
		return &CompleteRequest{Session: ss, Params: p}, remarshalOrEmpty(raw, p)
	default:
		return nil, jsonrpc.ErrMethodNotFound(method)
	}
}

// baseHandler implements every server-side method, innermost in the
// receiving middleware chain.
func (ss *ServerSession) baseHandler(ctx context.Context, method string, req Request) (Result, error) {
	switch method {
	case methodInitialize:
		r := req.(*ServerRequest[*InitializeParams])
		return ss.initialize(ctx, r.Params)
	case methodPing:
		return &emptyResult{}, nil
	case methodListTools:
		return ss.listTools(req.(*ListToolsRequest).Params)
	case methodCallTool:
		return ss.callTool(ctx, req.(*CallToolRequest))
	case methodListPrompts:
		return ss.listPrompts(req.(*ListPromptsRequest).Params)
	case methodGetPrompt:
		return ss.getPrompt(ctx, req.(*GetPromptRequest))
	case methodListResources:
		return ss.listResources(req.(*ListResourcesRequest).Params)
	case methodListResourceTemplates:
		return ss.listResourceTemplates(req.(*ListResourceTemplatesRequest).Params)
	case methodReadResource:
		return ss.readResource(ctx, req.(*ReadResourceRequest))
	case methodSubscribe:
		return ss.subscribe(ctx, req.(*SubscribeRequest))
	case methodUnsubscribe:
		return ss.unsubscribe(ctx, req.(*UnsubscribeRequest))
	case methodSetLevel:
		r := req.(*SetLoggingLevelRequest)
		ss.initMu.Lock()
		ss.logLevel = r.Params.Level
		ss.initMu.Unlock()
		return &emptyResult{}, nil
	case methodComplete:
		if h := ss.server.opts.CompletionHandler; h != nil {
			return h(ctx, req.(*CompleteRequest))
		}
		return nil, jsonrpc.ErrMethodNotFound(method)
	}
	return nil, jsonrpc.ErrMethodNotFound(method)
}

// emptyResult satisfies [Result] for methods (ping, setLevel) that reply
// with an empty object.
type emptyResult struct{ Meta `json:"_meta,omitempty"` }

func (*emptyResult) isResult() {}

func (ss *ServerSession) initialize(ctx context.Context, p *InitializeParams) (*InitializeResult, error) {
	ss.state.Store(int32(stateInitializing))
	ss.initMu.Lock()
	ss.initParams = p
	ss.initMu.Unlock()
	return &InitializeResult{
		Capabilities:    ss.server.capabilities(),
		Instructions:    ss.server.opts.Instructions,
		ProtocolVersion: negotiateProtocolVersion(p.ProtocolVersion),
		ServerInfo:      ss.server.impl,
	}, nil
}

func (ss *ServerSession) initialized(ctx context.Context, p *InitializedParams) (*InitializedParams, error) {
	if ss.isReady() {
		return nil, fmt.Errorf("duplicate %q received", notificationInitialized)
	}
	ss.state.Store(int32(stateReady))
	ss.startKeepalive()
	if store := ss.server.opts.SessionStateStore; store != nil && ss.id != "" {
		ss.initMu.Lock()
		state := &ServerSessionState{InitializeParams: ss.initParams, LogLevel: ss.logLevel}
		ss.initMu.Unlock()
		_ = store.Save(ctx, ss.id, state)
	}
	return p, nil
}

func (ss *ServerSession) startKeepalive() {
	if ss.server.opts.KeepAlive <= 0 {
		return
	}
	ss.keepaliveMu.Lock()
	defer ss.keepaliveMu.Unlock()
	if ss.keepaliveCancel != nil {
		return
	}
	kctx, cancel := context.WithCancel(context.Background())
	ss.keepaliveCancel = cancel
	go ss.keepaliveLoop(kctx)
}

func (ss *ServerSession) stopKeepalive() {
	ss.keepaliveMu.Lock()
	cancel := ss.keepaliveCancel
	ss.keepaliveMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (ss *ServerSession) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(ss.server.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, ss.server.opts.KeepAlive)
			err := ss.Ping(pingCtx, nil)
			cancel()
			if err != nil {
				_ = ss.Close()
				return
			}
		}
	}
}

func (ss *ServerSession) listTools(p *ListToolsParams) (*ListToolsResult, error) {
	return paginateList(ss.server.tools, ss.server.pageSize(), p, &ListToolsResult{}, func(r *ListToolsResult, items []*serverTool) {
		for _, it := range items {
			r.Tools = append(r.Tools, it.tool)
		}
	})
}

func (ss *ServerSession) callTool(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
	st, ok := ss.server.tools.get(req.Params.Name)
	if !ok {
		return nil, jsonrpc.ErrInvalidParams("unknown tool %q", req.Params.Name)
	}
	res, err := st.handler(ctx, req)
	if err != nil {
		// A deliberate protocol-level error passes through; anything else is a
		// tool-execution failure, reported in-band with IsError so the model
		// can read it and self-correct. The original error stays on the
		// result for server-side middleware.
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		res = &CallToolResult{}
		res.SetError(err)
	}
	return res, nil
}

func (ss *ServerSession) listPrompts(p *ListPromptsParams) (*ListPromptsResult, error) {
	return paginateList(ss.server.prompts, ss.server.pageSize(), p, &ListPromptsResult{}, func(r *ListPromptsResult, items []*promptEntry) {
		for _, it := range items {
			r.Prompts = append(r.Prompts, it.prompt)
		}
	})
}

func (ss *ServerSession) getPrompt(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error) {
	pe, ok := ss.server.prompts.get(req.Params.Name)
	if !ok {
		return nil, jsonrpc.ErrInvalidParams("unknown prompt %q", req.Params.Name)
	}
	return pe.handler(ctx, req)
}

func (ss *ServerSession) listResources(p *ListResourcesParams) (*ListResourcesResult, error) {
	return paginateList(ss.server.resources, ss.server.pageSize(), p, &ListResourcesResult{}, func(r *ListResourcesResult, items []*resourceEntry) {
		for _, it := range items {
			r.Resources = append(r.Resources, it.resource)
		}
	})
}

func (ss *ServerSession) listResourceTemplates(p *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	return paginateList(ss.server.resourceTemplates, ss.server.pageSize(), p, &ListResourceTemplatesResult{}, func(r *ListResourceTemplatesResult, items []*resourceTemplateEntry) {
		for _, it := range items {
			r.ResourceTemplates = append(r.ResourceTemplates, it.template)
		}
	})
}

func (ss *ServerSession) readResource(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
	if re, ok := ss.server.resources.get(req.Params.URI); ok {
		return re.handler(ctx, req)
	}
	for _, rte := range ss.server.resourceTemplates.above("") {
		re := rte.compiled.Regexp()
		if re.MatchString(req.Params.URI) {
			return rte.handler(ctx, req)
		}
	}
	return nil, ResourceNotFoundError(req.Params.URI)
}

func (ss *ServerSession) subscribe(ctx context.Context, req *SubscribeRequest) (*emptyResult, error) {
	if ss.server.opts.SubscribeHandler == nil {
		return nil, jsonrpc.ErrUnsupportedCapability(methodSubscribe)
	}
	if err := ss.server.opts.SubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	ss.server.subs.subscribe(req.Params.URI, ss)
	return &emptyResult{}, nil
}

func (ss *ServerSession) unsubscribe(ctx context.Context, req *UnsubscribeRequest) (*emptyResult, error) {
	if ss.server.opts.UnsubscribeHandler == nil {
		return nil, jsonrpc.ErrUnsupportedCapability(methodUnsubscribe)
	}
	if err := ss.server.opts.UnsubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	ss.server.subs.unsubscribe(req.Params.URI, ss)
	return &emptyResult{}, nil
}

// call issues an outbound, server-to-client request through the session's
// shared connection, running the server's sending middleware first.
func (ss *ServerSession) call(ctx context.Context, method string, params, result any, opts *callOpts) error {
	return ss.conn.call(ctx, method, params, result, opts)
}

// Ping sends a ping request to the client.
func (ss *ServerSession) Ping(ctx context.Context, p *PingParams) error {
	return ss.call(ctx, methodPing, p, nil, nil)
}

// ListRoots asks the client for its current list of roots.
func (ss *ServerSession) ListRoots(ctx context.Context, p *ListRootsParams) (*ListRootsResult, error) {
	var res ListRootsResult
	if err := ss.call(ctx, methodListRoots, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateMessage asks the client to sample from an LLM on the server's
// behalf.
func (ss *ServerSession) CreateMessage(ctx context.Context, p *CreateMessageParams) (*CreateMessageResult, error) {
	var res CreateMessageResult
	if err := ss.call(ctx, methodCreateMessage, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateMessageWithTools is like CreateMessage, but allows the server to
// offer tools the model may invoke as part of sampling.
func (ss *ServerSession) CreateMessageWithTools(ctx context.Context, p *CreateMessageWithToolsParams) (*CreateMessageWithToolsResult, error) {
	var res CreateMessageWithToolsResult
	if err := ss.call(ctx, methodCreateMessage, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Elicit asks the client to collect additional information from the user.
func (ss *ServerSession) Elicit(ctx context.Context, p *ElicitParams) (*ElicitResult, error) {
	var res ElicitResult
	if err := ss.call(ctx, methodElicit, p, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoggingMessage sends a log message notification to the client, subject
// to the client-requested minimum level set via logging/setLevel: messages
// below that level are dropped. Before any setLevel, every message is sent.
func (ss *ServerSession) LoggingMessage(ctx context.Context, p *LoggingMessageParams) error {
	ss.initMu.Lock()
	minLevel := ss.logLevel
	ss.initMu.Unlock()
	levels := []LoggingLevel{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"}
	if minLevel != "" && slices.Index(levels, p.Level) < slices.Index(levels, minLevel) {
		return nil
	}
	ss.debounce.submit("log:"+p.Logger, debounceIntervalLogging, func() {
		_ = ss.conn.notify(context.WithoutCancel(ctx), notificationLoggingMessage, p)
	})
	return nil
}

// NotifyProgress sends a progress notification to the client for an
// in-flight request the client issued to this server.
func (ss *ServerSession) NotifyProgress(ctx context.Context, p *ProgressNotificationParams) error {
	key := progressKeyFor(p.ProgressToken)
	ss.debounce.submit("progress:"+key, debounceIntervalProgress, func() {
		_ = ss.conn.notify(context.WithoutCancel(ctx), notificationProgress, p)
	})
	return nil
}

// InitializeParams returns the parameters the client sent in its
// initialize request, or nil if no initialize request has been handled yet.
func (ss *ServerSession) InitializeParams() *InitializeParams {
	ss.initMu.Lock()
	defer ss.initMu.Unlock()
	return ss.initParams
}

// Close terminates the session's underlying connection.
func (ss *ServerSession) Close() error {
	ss.closeOnce.Do(func() {
		ss.state.Store(int32(stateClosing))
	})
	return ss.conn.close()
}

// Wait blocks until the session's connection has closed, and returns the
// error (if any) that caused it to close. A clean shutdown returns nil.
func (ss *ServerSession) Wait() error {
	<-ss.done
	if errors.Is(ss.runErr, ErrConnectionClosed) || errors.Is(ss.runErr, io.EOF) {
		return nil
	}
	return ss.runErr
}

// protocolVersion is the latest MCP protocol revision this module offers
// when it initiates a handshake.
const protocolVersion = "2025-06-18"

// supportedProtocolVersions lists every protocol revision this module
// understands, ordered newest-first. An initiator always offers
// supportedProtocolVersions[0]; a responder echoes the offered version if
// it recognizes it, and otherwise falls back to its own latest, leaving the
// initiator to validate the result lies in its own supported set.
var supportedProtocolVersions = []string{protocolVersion, "2025-03-26", "2024-11-05"}

// negotiateProtocolVersion picks the version a responder should report back
// to an initiator that offered offered. If offered is one this module
// recognizes, it is echoed unchanged -- it is by construction already in
// the intersection of what both peers support. Otherwise the responder
// falls back to its own latest version, and the initiator is responsible
// for rejecting a result outside its own supported set.
func negotiateProtocolVersion(offered string) string {
	if slices.Contains(supportedProtocolVersions, offered) {
		return offered
	}
	return supportedProtocolVersions[0]
}

// remarshalOrEmpty unmarshals raw into v, treating an empty/nil raw as {}.
func remarshalOrEmpty(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return remarshalRaw(raw, v)
}

func remarshalRaw(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
