// Package rpcerr is the error taxonomy shared by the transport and protocol layers.
//
// Every failure surfaced to a caller is an *Error tagged with a Kind. Callers
// match on the kind (and optionally the phase) instead of on concrete types:
//
//	if errors.Is(err, rpcerr.ErrReadTimeout) { ... }
//	switch rpcerr.KindOf(err) { case rpcerr.KindMethodNotFound: ... }
package rpcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind tags an Error with its place in the taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindConnectionClosed
	KindTimeout
	KindFraming
	KindClientValidation
	KindParseError
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindInternalError
	KindInternalServerError
	KindUnknownServerError
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindConnection:          "connection",
	KindConnectionClosed:    "connection_closed",
	KindTimeout:             "timeout",
	KindFraming:             "framing",
	KindClientValidation:    "client_validation",
	KindParseError:          "parse_error",
	KindInvalidRequest:      "invalid_request",
	KindMethodNotFound:      "method_not_found",
	KindInvalidParams:       "invalid_params",
	KindInternalError:       "internal_error",
	KindInternalServerError: "internal_server_error",
	KindUnknownServerError:  "unknown_server_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsServer reports whether the kind was produced from a JSON-RPC error object.
func (k Kind) IsServer() bool {
	return k >= KindParseError && k <= KindUnknownServerError
}

// Layer names the layer an error kind originates from.
type Layer string

const (
	LayerTransport Layer = "transport"
	LayerProtocol  Layer = "protocol"
	LayerServer    Layer = "server"
)

// Op is the phase that failed.
type Op string

const (
	OpConnect Op = "connect"
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpCall    Op = "call"
)

// Error is the single structured error type of the client.
type Error struct {
	Kind    Kind
	Op      Op
	Code    int
	Message string
	Data    json.RawMessage
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("jrpc: ")
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Kind.IsServer() {
		fmt.Fprintf(&b, " (%d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches e against a template *Error. Zero-valued template fields other
// than Kind act as wildcards, so ErrTimeout matches timeouts of every phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.Code != 0 && t.Code != e.Code {
		return false
	}
	return true
}

// Layer reports where the error originated.
func (e *Error) Layer() Layer {
	switch {
	case e.Kind.IsServer():
		return LayerServer
	case e.Kind == KindFraming || e.Kind == KindClientValidation:
		return LayerProtocol
	default:
		return LayerTransport
	}
}

// Templates for errors.Is.
var (
	ErrConnection       = &Error{Kind: KindConnection}
	ErrConnectionFailed = &Error{Kind: KindConnection, Op: OpConnect}
	ErrReadFailed       = &Error{Kind: KindConnection, Op: OpRead}
	ErrWriteFailed      = &Error{Kind: KindConnection, Op: OpWrite}
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrConnectTimeout   = &Error{Kind: KindTimeout, Op: OpConnect}
	ErrReadTimeout      = &Error{Kind: KindTimeout, Op: OpRead}
	ErrWriteTimeout     = &Error{Kind: KindTimeout, Op: OpWrite}
	ErrFraming          = &Error{Kind: KindFraming}
	ErrClientValidation = &Error{Kind: KindClientValidation}
	ErrParseError       = &Error{Kind: KindParseError}
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
	ErrMethodNotFound   = &Error{Kind: KindMethodNotFound}
	ErrInvalidParams    = &Error{Kind: KindInvalidParams}
	ErrInternalError    = &Error{Kind: KindInternalError}
	ErrInternalServer   = &Error{Kind: KindInternalServerError}
	ErrUnknownServer    = &Error{Kind: KindUnknownServerError}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func Connection(op Op, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func Closed(op Op) *Error {
	return &Error{Kind: KindConnectionClosed, Op: op, Message: "socket was closed unexpectedly"}
}

func Timeout(op Op) *Error {
	return &Error{Kind: KindTimeout, Op: op}
}

func Framing(err error) *Error {
	return &Error{Kind: KindFraming, Op: OpRead, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindClientValidation, Op: OpCall, Message: fmt.Sprintf(format, args...)}
}

func ValidationErr(err error) *Error {
	return &Error{Kind: KindClientValidation, Op: OpCall, Err: err}
}
