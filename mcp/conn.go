// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpkit/corekit/jsonrpc"
)

// ErrConnectionClosed is returned by session methods, and by pending calls,
// once the underlying connection has been closed.
var ErrConnectionClosed = errors.New("mcp: connection closed")

// ErrCancelled is returned by [connection.call] when its context is
// cancelled (as opposed to timing out) before a response arrives. The
// engine emits a single "notifications/cancelled" to the peer in this case;
// see [connection.call] for the at-most-once guarantee.
var ErrCancelled = errors.New("mcp: request cancelled")

// pendingCall is the bookkeeping kept for one in-flight outbound request: a
// completer channel, plus enough state to emit "notifications/cancelled" at
// most once if the caller's context ends before a response arrives.
type pendingCall struct {
	ch     chan *jsonrpc.Response
	method string
}

// connection is the JSON-RPC plumbing shared by [ServerSession] and
// [ClientSession]: it tracks calls awaiting a response and pumps incoming
// messages to a dispatch function. Sessions differ only in which methods
// they handle; the wire mechanics below are identical in both directions,
// mirroring the pending-request table used by golang.org/x/tools's
// jsonrpc2.Conn.
type connection struct {
	conn Connection

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[string]*pendingCall
	progress map[string]func(*ProgressNotificationParams)
	closed   bool
	closeErr error
	done     chan struct{}
}

func newConnection(c Connection) *connection {
	return &connection{
		conn:     c,
		pending:  make(map[string]*pendingCall),
		progress: make(map[string]func(*ProgressNotificationParams)),
		done:     make(chan struct{}),
	}
}

// callOpts carries the optional knobs accepted by [connection.call]: a
// progress sink keyed by the outgoing request's id (per the spec, the
// progress token defaults to the request id), and nothing else -- the
// deadline is carried by ctx itself, per Go convention.
type callOpts struct {
	onProgress func(*ProgressNotificationParams)
}

// defaultCallTimeout bounds a call whose context carries no deadline of
// its own.
const defaultCallTimeout = 60 * time.Second

// call sends a request and waits for its response, decoding the result into
// result (which may be nil to discard it).
//
// If ctx is done before a response arrives, call removes the pending entry,
// sends a single "notifications/cancelled" to the peer, and returns
// [ErrCancelled] for an explicit Cancel, or the error from
// [jsonrpc.ErrRequestTimeout] for a deadline. The engine tolerates a
// response arriving after this point -- it is simply dropped, satisfying
// the at-most-once completion guarantee (P2).
func (c *connection) call(ctx context.Context, method string, params, result any, opts *callOpts) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}
	data, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshaling params for %s: %w", method, err)
	}
	id := jsonrpc.Int64ID(c.nextID.Add(1))
	idKey := id.String()
	pc := &pendingCall{ch: make(chan *jsonrpc.Response, 1), method: method}

	c.mu.Lock()
	if c.closed {
		err := c.closeErrOrDefault()
		c.mu.Unlock()
		return err
	}
	c.pending[idKey] = pc
	if opts != nil && opts.onProgress != nil {
		c.progress[idKey] = opts.onProgress
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, idKey)
		delete(c.progress, idKey)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, &jsonrpc.Request{ID: id, Method: method, Params: data}); err != nil {
		return fmt.Errorf("writing %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		reason := "timeout"
		retErr := error(jsonrpc.ErrRequestTimeout(method))
		if errors.Is(ctx.Err(), context.Canceled) {
			reason = "cancelled"
			retErr = ErrCancelled
		}
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelNotifyGrace)
		defer cancel()
		_ = c.notify(notifyCtx, notificationCancelled, &CancelledParams{RequestID: id.Raw(), Reason: reason})
		return retErr
	case <-c.done:
		return c.closeErrOrDefault()
	case resp := <-pc.ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshaling %s result: %w", method, err)
			}
		}
		return nil
	}
}

// cancelNotifyGrace bounds how long call waits to deliver the
// "notifications/cancelled" courtesy notification once its context has
// already ended; the write uses a detached context so the cancellation
// itself is never blocked by ctx being done.
const cancelNotifyGrace = 2 * time.Second

// dispatchProgress delivers an inbound progress notification to the sink
// registered for its token, if the token matches a call's request id and a
// sink was registered. Unmatched tokens (e.g. a progress notification whose
// caller already gave up) are silently dropped.
func (c *connection) dispatchProgress(params *ProgressNotificationParams) {
	key := progressKeyFor(params.ProgressToken)
	c.mu.Lock()
	sink := c.progress[key]
	c.mu.Unlock()
	if sink != nil {
		sink(params)
	}
}

// progressKeyFor normalizes a progress token (a number or a string, per the
// spec) into the same string form used to key the pending table, since
// progress tokens default to the numeric request id.
func progressKeyFor(token any) string {
	switch t := token.(type) {
	case string:
		return jsonrpc.StringID(t).String()
	case float64:
		return jsonrpc.Int64ID(int64(t)).String()
	case int64:
		return jsonrpc.Int64ID(t).String()
	case int:
		return jsonrpc.Int64ID(int64(t)).String()
	default:
		return fmt.Sprint(t)
	}
}

func (c *connection) closeErrOrDefault() error {
	if c.closeErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, c.closeErr)
	}
	return ErrConnectionClosed
}

// notify sends a notification, for which no response is expected.
func (c *connection) notify(ctx context.Context, method string, params any) error {
	data, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshaling params for %s: %w", method, err)
	}
	return c.conn.Write(ctx, &jsonrpc.Notification{Method: method, Params: data})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// reply sends a response to an incoming request, carrying either result or
// resultErr (exactly one of which should be set).
func (c *connection) reply(ctx context.Context, id jsonrpc.ID, result any, resultErr error) error {
	resp := &jsonrpc.Response{ID: id}
	if resultErr != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(resultErr, &rpcErr) {
			rpcErr = jsonrpc.ErrInternal("%v", resultErr)
		}
		resp.Error = rpcErr
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		resp.Result = data
	}
	return c.conn.Write(ctx, resp)
}

// run reads messages from the connection until Read fails (typically because
// the connection was closed), dispatching requests and notifications to
// handleMsg and routing responses to their waiting caller.
func (c *connection) run(ctx context.Context, handleMsg func(msg jsonrpc.Message)) error {
	defer close(c.done)
	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.closeErr = err
			c.mu.Unlock()
			return err
		}
		if resp, ok := msg.(*jsonrpc.Response); ok {
			c.mu.Lock()
			pc, ok := c.pending[resp.ID.String()]
			c.mu.Unlock()
			if ok {
				pc.ch <- resp
			}
			continue
		}
		handleMsg(msg)
	}
}

func (c *connection) close() error {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if wasClosed {
		return nil
	}
	return c.conn.Close()
}
