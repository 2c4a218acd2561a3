package gree

import (
	"errors"
	"fmt"
)

var (
	ErrDecode        = errors.New("decode failed")
	ErrInvalidKey    = errors.New("invalid key length")
	ErrClosed        = errors.New("client closed")
	ErrSessionClosed = errors.New("session closed")
)

// TransportError reports a socket-level send failure.
type TransportError struct {
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BindTimeoutError is returned when a device never answered the bind
// handshake within the configured timeout.
type BindTimeoutError struct {
	Identity DeviceIdentity
}

func (e *BindTimeoutError) Error() string {
	return fmt.Sprintf("bind to %s timed out", e.Identity)
}

// BindProtocolError is returned when a device answered the bind handshake
// with something that could not be decrypted or parsed.
type BindProtocolError struct {
	Identity DeviceIdentity
	Err      error
}

func (e *BindProtocolError) Error() string {
	return fmt.Sprintf("bind to %s: %v", e.Identity, e.Err)
}

func (e *BindProtocolError) Unwrap() error { return e.Err }

// ProtocolError reports a structurally valid but semantically inconsistent
// response, such as a value count that does not match the request.
type ProtocolError struct {
	Kind string
	Want int
	Got  int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s response carried %d values for %d properties", e.Kind, e.Got, e.Want)
}

// RequestTimeoutError is returned when a command request was not fully
// answered before its deadline. Satisfied lists the property names already
// confirmed by earlier sub-batches, if any.
type RequestTimeoutError struct {
	ID        uint32
	Satisfied []string
}

func (e *RequestTimeoutError) Error() string {
	if len(e.Satisfied) == 0 {
		return fmt.Sprintf("request %d timed out", e.ID)
	}
	return fmt.Sprintf("request %d timed out after %d properties", e.ID, len(e.Satisfied))
}
