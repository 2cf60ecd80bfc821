package rpc

import (
	"errors"
	"fmt"
)

// Error kinds carried in response envelopes or raised by the transport.
// Business kinds travel across the wire as normal responses; transport
// kinds are produced locally by the connection layer.
const (
	KindNotFound              = "NotFound"
	KindValidationFailed      = "ValidationFailed"
	KindUnknownCommand        = "UnknownCommand"
	KindInternal              = "Internal"
	KindProtocolError         = "ProtocolError"
	KindTimeout               = "Timeout"
	KindConnectionLost        = "ConnectionLost"
	KindConnectionUnavailable = "ConnectionUnavailable"
)

// Error is the typed error surfaced by the RPC layer. Kind is a stable,
// machine-readable identifier; Message is human-readable detail.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// NewError builds an Error with the given kind and formatted message.
func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports that the entity with the given id does not exist.
func NotFound(entity, id string) *Error {
	return NewError(KindNotFound, "%s with ID %s not found", entity, id)
}

// ValidationFailed reports a rejected input field or payload.
func ValidationFailed(format string, args ...any) *Error {
	return NewError(KindValidationFailed, format, args...)
}

// IsKind reports whether err is an *Error carrying the given kind.
func IsKind(err error, kind string) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// Transport reports whether the error was produced by the connection layer
// rather than returned by a backend handler.
func (e *Error) Transport() bool {
	switch e.Kind {
	case KindProtocolError, KindTimeout, KindConnectionLost, KindConnectionUnavailable:
		return true
	}
	return false
}
