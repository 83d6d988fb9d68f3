package rpcerr

import "encoding/json"

// JSON-RPC 2.0 reserved error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

// KindForCode maps a JSON-RPC error code to its kind.
func KindForCode(code int) Kind {
	switch code {
	case CodeParseError:
		return KindParseError
	case CodeInvalidRequest:
		return KindInvalidRequest
	case CodeMethodNotFound:
		return KindMethodNotFound
	case CodeInvalidParams:
		return KindInvalidParams
	case CodeInternalError:
		return KindInternalError
	}
	if code >= CodeServerErrorMin && code <= CodeServerErrorMax {
		return KindInternalServerError
	}
	return KindUnknownServerError
}

// Server builds the error for a JSON-RPC error object returned by a peer.
// The server code and message are always retained.
func Server(code int, message string, data json.RawMessage) *Error {
	return &Error{
		Kind:    KindForCode(code),
		Op:      OpCall,
		Code:    code,
		Message: message,
		Data:    data,
	}
}
