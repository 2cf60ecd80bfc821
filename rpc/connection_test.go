package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"
)

// startServer runs a real Server on a loopback listener and returns its
// address.
func startServer(t *testing.T, register func(*Server)) string {
	t.Helper()
	srv := NewServer()
	if register != nil {
		register(srv)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return ln.Addr().String()
}

// startRawBackend gives the test full control over the byte stream.
func startRawBackend(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func waitReady(t *testing.T, c *Connection) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ready := c.conn != nil
		c.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection never became ready")
}

func echoHandler(ctx context.Context, payload json.RawMessage) (any, error) {
	return payload, nil
}

func TestConnectionResolvesOutOfOrderResponses(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, func(srv *Server) {
		srv.Register("slow", func(ctx context.Context, payload json.RawMessage) (any, error) {
			<-release
			return "slow-result", nil
		})
		srv.Register("fast", func(ctx context.Context, payload json.RawMessage) (any, error) {
			return "fast-result", nil
		})
	})

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c)

	var wg sync.WaitGroup
	var slowData, fastData json.RawMessage
	var slowErr, fastErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		slowData, slowErr = c.Call(context.Background(), "slow", nil, 5*time.Second)
	}()
	go func() {
		defer wg.Done()
		fastData, fastErr = c.Call(context.Background(), "fast", nil, 5*time.Second)
		close(release)
	}()
	wg.Wait()

	if fastErr != nil || string(fastData) != `"fast-result"` {
		t.Fatalf("fast call: %v %s", fastErr, fastData)
	}
	if slowErr != nil || string(slowData) != `"slow-result"` {
		t.Fatalf("slow call: %v %s", slowErr, slowData)
	}
}

func TestConnectionCallTimeoutDiscardsLateResponse(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, func(srv *Server) {
		srv.Register("stall", func(ctx context.Context, payload json.RawMessage) (any, error) {
			<-release
			return "late", nil
		})
		srv.Register("echo", echoHandler)
	})

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c)

	_, err := c.Call(context.Background(), "stall", nil, 50*time.Millisecond)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}

	// let the stalled handler answer now; the response has no pending call
	// left and must not disturb anything else
	close(release)

	data, err := c.Call(context.Background(), "echo", json.RawMessage(`"still fine"`), time.Second)
	if err != nil {
		t.Fatalf("call after timeout: %v", err)
	}
	if string(data) != `"still fine"` {
		t.Fatalf("unexpected data: %s", data)
	}

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected empty pending table, got %d entries", n)
	}
}

func TestConnectionUnavailableBeforeConnect(t *testing.T) {
	// nothing listens on this address
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Call(context.Background(), "anything", nil, 100*time.Millisecond)
	if !IsKind(err, KindConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
}

func TestConnectionLostFailsOutstandingAndReconnects(t *testing.T) {
	var mu sync.Mutex
	dropNext := true
	addr := startRawBackend(t, func(conn net.Conn) {
		for {
			frame, err := readFrame(conn)
			if err != nil {
				return
			}
			req, err := decodeRequest(frame)
			if err != nil {
				return
			}
			mu.Lock()
			drop := dropNext
			dropNext = false
			mu.Unlock()
			if drop {
				_ = conn.Close()
				return
			}
			_ = writeFrame(conn, &Response{ID: req.ID, Outcome: outcomeOK, Data: json.RawMessage(`"ok"`)})
		}
	})

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c)

	_, err := c.Call(context.Background(), "doomed", nil, 3*time.Second)
	if !IsKind(err, KindConnectionLost) {
		t.Fatalf("expected ConnectionLost, got %v", err)
	}

	// the connection redials in the background; a later call succeeds
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := c.Call(context.Background(), "retry", nil, time.Second)
		if err == nil {
			if string(data) != `"ok"` {
				t.Fatalf("unexpected data: %s", data)
			}
			return
		}
		if !IsKind(err, KindConnectionUnavailable) && !IsKind(err, KindConnectionLost) {
			t.Fatalf("unexpected error while reconnecting: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reconnected: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnectionDiscardsStaleResponse(t *testing.T) {
	addr := startRawBackend(t, func(conn net.Conn) {
		for {
			frame, err := readFrame(conn)
			if err != nil {
				return
			}
			req, err := decodeRequest(frame)
			if err != nil {
				return
			}
			// answer an id nobody asked for first, then the real one
			_ = writeFrame(conn, &Response{ID: req.ID + 1000, Outcome: outcomeOK, Data: json.RawMessage(`"stale"`)})
			_ = writeFrame(conn, &Response{ID: req.ID, Outcome: outcomeOK, Data: json.RawMessage(`"real"`)})
		}
	})

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c)

	data, err := c.Call(context.Background(), "cmd", nil, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(data) != `"real"` {
		t.Fatalf("expected real response, got %s", data)
	}
}

func TestConnectionTreatsMalformedResponseAsFatal(t *testing.T) {
	addr := startRawBackend(t, func(conn net.Conn) {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		if _, err := decodeRequest(frame); err != nil {
			return
		}
		// a framed but unparsable document
		_, _ = conn.Write([]byte{0, 0, 0, 3, 'z', 'z', 'z'})
	})

	c := NewConnection("test", addr)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c)

	_, err := c.Call(context.Background(), "cmd", nil, 3*time.Second)
	if !IsKind(err, KindConnectionLost) {
		t.Fatalf("expected ConnectionLost after protocol error, got %v", err)
	}
}

func TestConnectionCloseFailsOutstandingCalls(t *testing.T) {
	addr := startRawBackend(t, func(conn net.Conn) {
		// swallow requests, never answer
		for {
			if _, err := readFrame(conn); err != nil {
				return
			}
		}
	})

	c := NewConnection("test", addr)
	waitReady(t, c)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "hang", nil, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = c.Close()

	select {
	case err := <-errCh:
		if !IsKind(err, KindConnectionLost) {
			t.Fatalf("expected ConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail after Close")
	}

	if _, err := c.Call(context.Background(), "more", nil, time.Second); !IsKind(err, KindConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable after Close, got %v", err)
	}
}
