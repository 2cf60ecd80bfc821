package rpc

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// MaxFrameSize bounds a single encoded envelope. Frames longer than this are
// treated as protocol errors so a corrupt length prefix cannot trigger an
// arbitrarily large allocation.
const MaxFrameSize = 1 << 20

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Request is the command envelope sent gateway -> backend. ID is the
// correlation id binding it to the eventual Response on the same connection.
type Request struct {
	ID      uint64          `json:"id"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the result envelope sent backend -> gateway. Exactly one of
// Data (outcome "ok") or ErrorKind/Message (outcome "error") is meaningful.
type Response struct {
	ID        uint64          `json:"id"`
	Outcome   string          `json:"outcome"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// writeFrame encodes doc as JSON and writes it length-prefixed. The prefix
// and body go out in a single Write so concurrent writers holding the write
// lock cannot interleave partial frames.
func writeFrame(w io.Writer, doc any) error {
	body, err := sonic.Marshal(doc)
	if err != nil {
		return NewError(KindProtocolError, "encode frame: %v", err)
	}
	if len(body) > MaxFrameSize {
		return NewError(KindProtocolError, "frame of %d bytes exceeds limit", len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = w.Write(frame)
	return err
}

// readFrame reassembles one length-prefixed frame from r, reading across
// stream chunk boundaries as needed. I/O errors are returned as-is; a bad
// length yields a protocol error.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > MaxFrameSize {
		return nil, NewError(KindProtocolError, "invalid frame length %d", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeRequest validates shape only: the frame must be a JSON document with
// a non-empty command. Payload contents are the handler's problem.
func decodeRequest(frame []byte) (*Request, error) {
	var req Request
	if err := sonic.Unmarshal(frame, &req); err != nil {
		return nil, NewError(KindProtocolError, "malformed request frame: %v", err)
	}
	if req.Command == "" {
		return nil, NewError(KindProtocolError, "request frame without command")
	}
	return &req, nil
}

func decodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := sonic.Unmarshal(frame, &resp); err != nil {
		return nil, NewError(KindProtocolError, "malformed response frame: %v", err)
	}
	if resp.Outcome != outcomeOK && resp.Outcome != outcomeError {
		return nil, NewError(KindProtocolError, "unknown outcome %q", resp.Outcome)
	}
	return &resp, nil
}

func errorResponse(id uint64, kind, message string) *Response {
	return &Response{ID: id, Outcome: outcomeError, ErrorKind: kind, Message: message}
}
