// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mcpkit/corekit/jsonrpc"
)

// A StdioTransport is a [Transport] that communicates over stdin/stdout
// using length-prefixed framing: each message is preceded by a
// "Content-Length: <N>\r\n\r\n" header, followed by exactly N bytes of JSON.
type StdioTransport struct{}

// Connect implements the [Transport] interface.
func (*StdioTransport) Connect(ctx context.Context) (Connection, error) {
	return newIOConn(rwc{os.Stdin, os.Stdout}), nil
}

// An IOTransport is a [Transport] that communicates over an arbitrary
// io.ReadWriteCloser using the same length-prefixed framing as
// [StdioTransport]. It is useful for subprocess pipes and tests.
type IOTransport struct {
	RWC io.ReadWriteCloser
}

// Connect implements the [Transport] interface.
func (t *IOTransport) Connect(ctx context.Context) (Connection, error) {
	return newIOConn(t.RWC), nil
}

// rwc binds disjoint read and write streams (such as stdin and stdout) into
// a single io.ReadWriteCloser.
type rwc struct {
	rc io.ReadCloser
	wc io.WriteCloser
}

func (r rwc) Read(p []byte) (int, error)  { return r.rc.Read(p) }
func (r rwc) Write(p []byte) (int, error) { return r.wc.Write(p) }

func (r rwc) Close() error {
	if err := r.rc.Close(); err != nil {
		r.wc.Close()
		return err
	}
	return r.wc.Close()
}

// An ioConn is a [Connection] over an io.ReadWriteCloser, framing messages
// with a Content-Length header in the manner of the Language Server
// Protocol.
type ioConn struct {
	in io.ReadWriteCloser
	rd *bufio.Reader

	writeMu sync.Mutex // Write is called concurrently by replies and notifications
}

func newIOConn(rw io.ReadWriteCloser) *ioConn {
	return &ioConn{in: rw, rd: bufio.NewReader(rw)}
}

// Read implements the [Connection] interface. It parses header lines until
// the blank separator, then reads exactly Content-Length bytes of payload.
// A clean EOF before any header byte reports io.EOF; EOF mid-message is an
// error.
func (c *ioConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var contentLength int64
	firstLine := true
	for {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if firstLine && line == "" {
					return nil, io.EOF
				}
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("reading frame header: %w", err)
		}
		firstLine = false
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed frame header line %q", line)
		}
		if name == "Content-Length" {
			contentLength, err = strconv.ParseInt(strings.TrimSpace(value), 10, 32)
			if err != nil || contentLength <= 0 {
				return nil, fmt.Errorf("bad Content-Length %q", value)
			}
		}
		// Unknown headers are ignored.
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("frame is missing Content-Length")
	}
	data := make([]byte, contentLength)
	if _, err := io.ReadFull(c.rd, data); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return jsonrpc.DecodeMessage(data)
}

// Write implements the [Connection] interface.
func (c *ioConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.in, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	_, err = c.in.Write(data)
	return err
}

// Close implements the [Connection] interface.
func (c *ioConn) Close() error {
	return c.in.Close()
}
