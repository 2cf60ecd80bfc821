package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
)

// oneByteReader forces frame reassembly across minimal chunks.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestRequestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{ID: 42, Command: "create_user", Payload: json.RawMessage(`{"username":"john_doe"}`)}
	if err := writeFrame(&buf, req); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame, err := readFrame(oneByteReader{&buf})
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	got, err := decodeRequest(frame)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.ID != 42 || got.Command != "create_user" {
		t.Fatalf("unexpected request: %#v", got)
	}
	if string(got.Payload) != `{"username":"john_doe"}` {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}
}

func TestResponseFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := errorResponse(7, KindNotFound, "User with ID abc not found")
	if err := writeFrame(&buf, resp); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	got, err := decodeResponse(frame)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != 7 || got.Outcome != outcomeError || got.ErrorKind != KindNotFound {
		t.Fatalf("unexpected response: %#v", got)
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	buf.Write(prefix[:])

	_, err := readFrame(&buf)
	if !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error, got %v", err)
	}

	buf.Reset()
	buf.Write([]byte{0, 0, 0, 0})
	_, err = readFrame(&buf)
	if !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error for zero length, got %v", err)
	}
}

func TestReadFramePassesThroughIOErrors(t *testing.T) {
	_, err := readFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	// truncated body
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10, 'x', 'y'})
	_, err = readFrame(&buf)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	if _, err := decodeRequest([]byte("not json")); !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if _, err := decodeRequest([]byte(`{"id":1,"payload":{}}`)); !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error for missing command, got %v", err)
	}
}

func TestDecodeResponseUnknownOutcome(t *testing.T) {
	if _, err := decodeResponse([]byte(`{"id":1,"outcome":"maybe"}`)); !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	big := make([]byte, MaxFrameSize+16)
	for i := range big {
		big[i] = 'a'
	}
	req := &Request{ID: 1, Command: "x", Payload: json.RawMessage(`"` + string(big) + `"`)}
	var buf bytes.Buffer
	if err := writeFrame(&buf, req); !IsKind(err, KindProtocolError) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
