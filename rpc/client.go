package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Client is the gateway-facing entry point. It keeps one Connection per
// logical backend, created lazily on first use and reused for the process
// lifetime.
type Client struct {
	mu       sync.Mutex
	backends map[string]string // backend name -> host:port
	conns    map[string]*Connection
}

// NewClient builds a client for the given backend address table.
func NewClient(backends map[string]string) *Client {
	b := make(map[string]string, len(backends))
	for name, addr := range backends {
		b[name] = addr
	}
	return &Client{backends: b, conns: make(map[string]*Connection)}
}

// Call encodes payload, sends command to the named backend and waits up to
// timeout for the result. payload may be nil, a json.RawMessage, or any
// marshalable value.
func (c *Client) Call(ctx context.Context, backend, command string, payload any, timeout time.Duration) (json.RawMessage, error) {
	conn, err := c.connection(backend)
	if err != nil {
		return nil, err
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return conn.Call(ctx, command, raw, timeout)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := sonic.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}

func (c *Client) connection(backend string) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[backend]; ok {
		return conn, nil
	}
	addr, ok := c.backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	conn := NewConnection(backend, addr)
	c.conns[backend] = conn
	return conn, nil
}

// Close shuts down every open connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[string]*Connection)
	c.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}
