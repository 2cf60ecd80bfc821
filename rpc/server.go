package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handler processes one decoded command payload. Returning an *Error sends
// its kind across the wire; any other error is reported as Internal.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Server accepts persistent connections and routes command envelopes to
// registered handlers. Requests on one connection are served concurrently;
// response frames are serialized per connection.
type Server struct {
	mu       sync.Mutex
	handlers map[string]Handler
	ln       net.Listener
	closed   bool
}

func NewServer() *Server {
	return &Server{handlers: make(map[string]Handler)}
}

// Register wires a command name to its handler. The table is built once at
// startup; registering the same command twice is a wiring bug.
func (s *Server) Register(command string, h Handler) {
	if command == "" || h == nil {
		panic("rpc: Register with empty command or nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.handlers[command]; dup {
		panic(fmt.Sprintf("rpc: command %q registered twice", command))
	}
	s.handlers[command] = h
}

// ListenAndServe listens on addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, one goroutine per connection.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("rpc: server closed")
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// serveConn reads request frames until the peer goes away or sends garbage.
// A malformed frame is fatal to the connection only; the listener keeps
// accepting.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	var writeMu sync.Mutex
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.WithFields(log.Fields{"remote": remote}).Debugf("read: %v", err)
			}
			return
		}
		req, err := decodeRequest(frame)
		if err != nil {
			log.WithFields(log.Fields{"remote": remote}).Warnf("dropping connection: %v", err)
			return
		}
		go func() {
			resp := s.handle(context.Background(), req)
			writeMu.Lock()
			err := writeFrame(conn, resp)
			writeMu.Unlock()
			if err != nil {
				log.WithFields(log.Fields{"remote": remote, "id": req.ID}).Debugf("write response: %v", err)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	s.mu.Lock()
	h, ok := s.handlers[req.Command]
	s.mu.Unlock()
	if !ok {
		return errorResponse(req.ID, KindUnknownCommand, fmt.Sprintf("unknown command %q", req.Command))
	}

	result, err := s.invoke(ctx, req, h)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			return errorResponse(req.ID, re.Kind, re.Message)
		}
		return errorResponse(req.ID, KindInternal, err.Error())
	}
	data, err := marshalPayload(result)
	if err != nil {
		log.Errorf("marshal result for %q: %v", req.Command, err)
		return errorResponse(req.ID, KindInternal, "unencodable handler result")
	}
	return &Response{ID: req.ID, Outcome: outcomeOK, Data: data}
}

// invoke runs the handler, turning a panic into an Internal error so one bad
// request cannot take the connection down.
func (s *Server) invoke(ctx context.Context, req *Request, h Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"command": req.Command}).Errorf("handler panic: %v", r)
			err = NewError(KindInternal, "handler panic: %v", r)
		}
	}()
	return h(ctx, req.Payload)
}

// Addr returns the listener address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting connections. In-flight handlers finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
