package jrpc

import "github.com/danmuck/jrpc/internal/rpcerr"

// Error is the structured error returned by every Client operation. Match it
// with errors.Is against the templates below, or switch on KindOf.
type Error = rpcerr.Error

type Kind = rpcerr.Kind

const (
	KindUnknown             = rpcerr.KindUnknown
	KindConnection          = rpcerr.KindConnection
	KindConnectionClosed    = rpcerr.KindConnectionClosed
	KindTimeout             = rpcerr.KindTimeout
	KindFraming             = rpcerr.KindFraming
	KindClientValidation    = rpcerr.KindClientValidation
	KindParseError          = rpcerr.KindParseError
	KindInvalidRequest      = rpcerr.KindInvalidRequest
	KindMethodNotFound      = rpcerr.KindMethodNotFound
	KindInvalidParams       = rpcerr.KindInvalidParams
	KindInternalError       = rpcerr.KindInternalError
	KindInternalServerError = rpcerr.KindInternalServerError
	KindUnknownServerError  = rpcerr.KindUnknownServerError
)

var (
	ErrConnection       = rpcerr.ErrConnection
	ErrConnectionFailed = rpcerr.ErrConnectionFailed
	ErrReadFailed       = rpcerr.ErrReadFailed
	ErrWriteFailed      = rpcerr.ErrWriteFailed
	ErrConnectionClosed = rpcerr.ErrConnectionClosed
	ErrTimeout          = rpcerr.ErrTimeout
	ErrConnectTimeout   = rpcerr.ErrConnectTimeout
	ErrReadTimeout      = rpcerr.ErrReadTimeout
	ErrWriteTimeout     = rpcerr.ErrWriteTimeout
	ErrFraming          = rpcerr.ErrFraming
	ErrClientValidation = rpcerr.ErrClientValidation
	ErrParseError       = rpcerr.ErrParseError
	ErrInvalidRequest   = rpcerr.ErrInvalidRequest
	ErrMethodNotFound   = rpcerr.ErrMethodNotFound
	ErrInvalidParams    = rpcerr.ErrInvalidParams
	ErrInternalError    = rpcerr.ErrInternalError
	ErrInternalServer   = rpcerr.ErrInternalServer
	ErrUnknownServer    = rpcerr.ErrUnknownServer
)

func KindOf(err error) Kind { return rpcerr.KindOf(err) }
