// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ReconnectState is the state of a [ReconnectManager].
type ReconnectState int

const (
	ReconnectDisconnected ReconnectState = iota
	ReconnectConnecting
	ReconnectConnected
	ReconnectWaitingRetry
	ReconnectCircuitOpen
)

func (s ReconnectState) String() string {
	switch s {
	case ReconnectDisconnected:
		return "disconnected"
	case ReconnectConnecting:
		return "connecting"
	case ReconnectConnected:
		return "connected"
	case ReconnectWaitingRetry:
		return "waiting-retry"
	case ReconnectCircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by [ReconnectManager.Connect] when the circuit
// breaker is open and not yet due for a half-open probe.
var ErrCircuitOpen = errors.New("mcp: reconnect circuit open")

// ReconnectOptions configures a [ReconnectManager]. The zero value is
// usable: every field has a sensible default applied by
// [NewReconnectManager].
type ReconnectOptions struct {
	// InitialDelay is the delay before the first retry. Default 500ms.
	InitialDelay time.Duration
	// MaxDelay caps the computed backoff delay. Default 30s.
	MaxDelay time.Duration
	// GrowthFactor multiplies the delay after each failed attempt. Default 2.0.
	GrowthFactor float64
	// Jitter is the fractional jitter (0 to 1) applied to each computed delay.
	// Default 0.2 (+/-20%).
	Jitter float64
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit breaker. Default 5.
	FailureThreshold int
	// CircuitTimeout is how long the circuit stays open before a half-open
	// probe is allowed. Default 30s.
	CircuitTimeout time.Duration
	// SuccessThreshold is how long a connection must survive before the retry
	// counter resets to zero. Default 10s.
	SuccessThreshold time.Duration
	// MaxRetries caps the number of retry attempts; zero means unlimited.
	MaxRetries int
}

func (o *ReconnectOptions) setDefaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.GrowthFactor <= 1 {
		o.GrowthFactor = 2.0
	}
	if o.Jitter <= 0 {
		o.Jitter = 0.2
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.CircuitTimeout <= 0 {
		o.CircuitTimeout = 30 * time.Second
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 10 * time.Second
	}
}

// ReconnectManager wraps a connect function with exponential backoff,
// jitter, and a circuit breaker, for transports (streamable HTTP, WebSocket)
// that need to re-establish a dropped network connection. It does not
// itself own a connection loop: callers drive it by calling Connect
// whenever they detect a drop, and reporting the outcome is implicit in
// Connect's own return value.
type ReconnectManager struct {
	opts    ReconnectOptions
	connect func(context.Context) error

	mu              sync.Mutex
	state           ReconnectState
	attempt         int
	consecutiveFail int
	circuitOpenedAt time.Time
	connectedAt     time.Time
}

// NewReconnectManager returns a ReconnectManager that calls connect to
// (re)establish a connection. opts may be nil to accept every default.
func NewReconnectManager(connect func(context.Context) error, opts *ReconnectOptions) *ReconnectManager {
	o := ReconnectOptions{}
	if opts != nil {
		o = *opts
	}
	o.setDefaults()
	return &ReconnectManager{opts: o, connect: connect, state: ReconnectDisconnected}
}

// State returns the manager's current state.
func (m *ReconnectManager) State() ReconnectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// delayFor computes the backoff delay before retry attempt n (0-based),
// including jitter, capped at MaxDelay.
func (m *ReconnectManager) delayFor(n int) time.Duration {
	d := float64(m.opts.InitialDelay) * pow(m.opts.GrowthFactor, n)
	if max := float64(m.opts.MaxDelay); d > max {
		d = max
	}
	jitter := 1 + (rand.Float64()*2-1)*m.opts.Jitter
	return time.Duration(d * jitter)
}

func pow(base float64, n int) float64 {
	r := 1.0
	for range n {
		r *= base
	}
	return r
}

// Connect attempts to (re)establish the connection, honoring backoff delay
// and the circuit breaker. It blocks for the computed backoff delay (or
// returns early if ctx is done), then calls connect once.
//
// On success, the manager enters ReconnectConnected; the next Connect call
// resets the retry counter if that connection survived SuccessThreshold. On
// failure, the manager records the failure; once FailureThreshold
// consecutive failures accumulate, the circuit opens and further calls fail
// immediately with [ErrCircuitOpen] until CircuitTimeout elapses, at which
// point a single half-open probe is allowed.
func (m *ReconnectManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == ReconnectCircuitOpen {
		if time.Since(m.circuitOpenedAt) < m.opts.CircuitTimeout {
			m.mu.Unlock()
			return ErrCircuitOpen
		}
		// Half-open: allow exactly one probe through.
	}
	if !m.connectedAt.IsZero() {
		// The previous connection has dropped; reset the retry counter only
		// if it survived SuccessThreshold.
		if time.Since(m.connectedAt) >= m.opts.SuccessThreshold {
			m.attempt = 0
		}
		m.connectedAt = time.Time{}
	}
	if m.opts.MaxRetries > 0 && m.attempt >= m.opts.MaxRetries {
		m.mu.Unlock()
		return errors.New("mcp: max reconnect attempts exceeded")
	}
	attempt := m.attempt
	m.attempt++
	m.state = ReconnectConnecting
	m.mu.Unlock()

	if attempt > 0 {
		delay := m.delayFor(attempt - 1)
		m.mu.Lock()
		m.state = ReconnectWaitingRetry
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	err := m.connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.consecutiveFail++
		if m.consecutiveFail >= m.opts.FailureThreshold {
			m.state = ReconnectCircuitOpen
			m.circuitOpenedAt = time.Now()
		} else {
			m.state = ReconnectDisconnected
		}
		return err
	}
	m.state = ReconnectConnected
	m.consecutiveFail = 0
	m.connectedAt = time.Now()
	return nil
}

// NotifyDropped tells the manager that a previously-successful connection
// has dropped, so the next Connect call re-enters the backoff sequence
// rather than assuming a fresh start.
func (m *ReconnectManager) NotifyDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ReconnectConnected {
		m.state = ReconnectDisconnected
	}
}
