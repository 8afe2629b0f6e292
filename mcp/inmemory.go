// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"io"
	"sync"
)

// inMemoryTransport is a [Transport] whose Connect simply hands back the
// single, pre-wired [Connection] it was built with. [NewInMemoryTransports]
// produces a connected pair, for tests that want a client and server talking
// to each other without a real network or subprocess in between.
type inMemoryTransport struct {
	conn Connection
}

func (t *inMemoryTransport) Connect(ctx context.Context) (Connection, error) {
	return t.conn, nil
}

// inMemoryConn is one end of an in-memory, in-process pipe carrying JSON-RPC
// messages: Write on one end delivers to Read on the other, via buffered
// channels so that neither side need read eagerly. Both ends share one
// closed signal, so closing either end closes the pipe for both.
type inMemoryConn struct {
	out chan<- JSONRPCMessage
	in  <-chan JSONRPCMessage

	closeOnce *sync.Once
	closed    chan struct{}
}

func newInMemoryPair() (*inMemoryConn, *inMemoryConn) {
	ab := make(chan JSONRPCMessage, 64)
	ba := make(chan JSONRPCMessage, 64)
	once, closed := new(sync.Once), make(chan struct{})
	a := &inMemoryConn{out: ab, in: ba, closeOnce: once, closed: closed}
	b := &inMemoryConn{out: ba, in: ab, closeOnce: once, closed: closed}
	return a, b
}

func (c *inMemoryConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *inMemoryConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case <-c.closed:
		return io.EOF
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *inMemoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// NewInMemoryTransports returns a connected pair of transports suitable for
// driving a [Client] and [Server] against each other in-process, with no
// real network or subprocess involved. The first is typically passed to
// [Client.Connect] and the second to [Server.Connect].
func NewInMemoryTransports() (Transport, Transport) {
	a, b := newInMemoryPair()
	return &inMemoryTransport{conn: a}, &inMemoryTransport{conn: b}
}
