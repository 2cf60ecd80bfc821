package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultDialTimeout = 5 * time.Second
	initialBackoff     = 100 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

type call struct {
	id   uint64
	resp *Response
	err  error
	done chan *call
}

// finish delivers the call result. done is buffered so delivery never blocks
// even when the caller has already given up on the call.
func (c *call) finish() {
	c.done <- c
}

// Connection owns one persistent stream to a single backend and multiplexes
// concurrent calls over it through a correlation-id table. On stream failure
// every outstanding call fails with ConnectionLost and the connection redials
// with bounded exponential backoff; calls issued while disconnected fail fast
// with ConnectionUnavailable.
type Connection struct {
	backend     string
	addr        string
	dialTimeout time.Duration

	writeMu sync.Mutex // serializes frames on the socket

	mu      sync.Mutex // guards conn, seq, pending, closed
	conn    net.Conn
	seq     uint64
	pending map[uint64]*call
	closed  bool

	stop chan struct{}
}

// NewConnection starts the dial/read loop for the backend at addr and returns
// immediately; the first successful dial happens in the background.
func NewConnection(backend, addr string) *Connection {
	c := &Connection{
		backend:     backend,
		addr:        addr,
		dialTimeout: defaultDialTimeout,
		pending:     make(map[uint64]*call),
		stop:        make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Connection) run() {
	delay := initialBackoff
	for {
		conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
		if err != nil {
			log.WithFields(log.Fields{"backend": c.backend, "addr": c.addr, "retry_in": delay}).Warnf("dial failed: %v", err)
			select {
			case <-c.stop:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		log.WithFields(log.Fields{"backend": c.backend, "addr": c.addr}).Info("connected")
		delay = initialBackoff

		err = c.readLoop(conn)
		c.teardown(conn, err)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
	}
}

// readLoop decodes response frames until the stream fails. A malformed frame
// is fatal to this connection (triggering reconnect), never to the process.
func (c *Connection) readLoop(conn net.Conn) error {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return err
		}
		resp, err := decodeResponse(frame)
		if err != nil {
			return err
		}
		c.deliver(resp)
	}
}

// deliver fulfills the pending call matching the response's correlation id.
// Lookup and removal are a single critical section, so a call is fulfilled at
// most once; a response with no pending entry (late or stale) is discarded.
func (c *Connection) deliver(resp *Response) {
	c.mu.Lock()
	cl, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		log.WithFields(log.Fields{"backend": c.backend, "id": resp.ID}).Debug("discarding response with no pending call")
		return
	}
	cl.resp = resp
	cl.finish()
}

// teardown drops the failed socket and fails every outstanding call.
func (c *Connection) teardown(conn net.Conn, cause error) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	orphans := c.pending
	c.pending = make(map[uint64]*call)
	c.mu.Unlock()

	if !closed && cause != nil {
		log.WithFields(log.Fields{"backend": c.backend, "outstanding": len(orphans)}).Warnf("connection lost: %v", cause)
	}
	for _, cl := range orphans {
		cl.err = NewError(KindConnectionLost, "connection to %s lost", c.backend)
		cl.finish()
	}
}

// send registers a pending call under a fresh correlation id and writes the
// framed request. It does not wait for the response.
func (c *Connection) send(command string, payload json.RawMessage) (*call, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, NewError(KindConnectionUnavailable, "connection to %s is closed", c.backend)
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, NewError(KindConnectionUnavailable, "backend %s is unreachable", c.backend)
	}
	c.seq++
	cl := &call{id: c.seq, done: make(chan *call, 1)}
	c.pending[cl.id] = cl
	c.mu.Unlock()

	req := &Request{ID: cl.id, Command: command, Payload: payload}
	c.writeMu.Lock()
	err := writeFrame(conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(cl.id)
		return nil, NewError(KindConnectionLost, "write to %s failed: %v", c.backend, err)
	}
	return cl, nil
}

// abandon removes a pending entry; any response arriving for the id later is
// discarded by deliver.
func (c *Connection) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call issues command with payload and waits for the response, the timeout,
// or connection loss, whichever comes first. Business error outcomes are
// returned as *Error with the backend-reported kind.
func (c *Connection) Call(ctx context.Context, command string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	cl, err := c.send(command, payload)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-cl.done:
		if cl.err != nil {
			return nil, cl.err
		}
		if cl.resp.Outcome == outcomeError {
			kind := cl.resp.ErrorKind
			if kind == "" {
				kind = KindInternal
			}
			return nil, &Error{Kind: kind, Message: cl.resp.Message}
		}
		return cl.resp.Data, nil
	case <-timer.C:
		c.abandon(cl.id)
		return nil, NewError(KindTimeout, "%s did not answer %q within %v", c.backend, command, timeout)
	case <-ctx.Done():
		c.abandon(cl.id)
		return nil, ctx.Err()
	}
}

// Close stops the dial loop, drops the socket and fails outstanding calls.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	orphans := c.pending
	c.pending = make(map[uint64]*call)
	c.mu.Unlock()

	close(c.stop)
	if conn != nil {
		_ = conn.Close()
	}
	for _, cl := range orphans {
		cl.err = NewError(KindConnectionLost, "connection to %s closed", c.backend)
		cl.finish()
	}
	return nil
}
