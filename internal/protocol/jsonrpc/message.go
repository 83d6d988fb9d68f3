// Package jsonrpc builds JSON-RPC 2.0 requests and notifications and
// validates the responses paired with them.
//
// Encoding uses encoding/json; params are carried as json.RawMessage so the
// shape check happens once, before anything reaches the wire.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/jrpc/internal/rpcerr"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

var ErrInvalidParams = errors.New("jsonrpc: params must be an array or an object")

// Request is an outgoing message. An empty ID makes it a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id,omitempty"`
}

func (r Request) IsNotification() bool { return r.ID == "" }

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is an incoming message. ID stays raw because a server that could
// not parse the request answers with a null id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewRequest validates params and returns the message for method. Pass an
// empty id for a notification.
func NewRequest(method string, params any, id string) (Request, error) {
	raw, err := EncodeParams(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// Encode returns the JSON payload of r.
func (r Request) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, rpcerr.ValidationErr(fmt.Errorf("jsonrpc: encode request: %w", err))
	}
	return b, nil
}

// EncodeParams marshals params and checks that the result is an array or an
// object. nil, JSON null and empty containers yield nil so the member is
// omitted. Any other shape fails with a client validation error wrapping
// ErrInvalidParams.
func EncodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, rpcerr.ValidationErr(fmt.Errorf("%w: %v", ErrInvalidParams, err))
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(raw, []byte("null")):
		return nil, nil
	case len(raw) > 0 && raw[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil && len(items) == 0 {
			return nil, nil
		}
	case len(raw) > 0 && raw[0] == '{':
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err == nil && len(members) == 0 {
			return nil, nil
		}
	default:
		return nil, rpcerr.ValidationErr(fmt.Errorf("%w: got %T", ErrInvalidParams, params))
	}
	return raw, nil
}

// ParseResponse validates payload as the response to request id and returns
// its result. A JSON-RPC error object becomes a server-kind *rpcerr.Error.
func ParseResponse(payload []byte, id string) (json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil || members == nil {
		return nil, &rpcerr.Error{
			Kind:    rpcerr.KindClientValidation,
			Op:      rpcerr.OpCall,
			Message: "wrong response structure",
			Err:     err,
		}
	}

	var version string
	if err := json.Unmarshal(members["jsonrpc"], &version); err != nil || version != Version {
		return nil, rpcerr.Validation("wrong version: %s", printable(members["jsonrpc"]))
	}

	result, hasResult := members["result"]
	errRaw, hasError := members["error"]
	if hasError && isNull(errRaw) {
		hasError = false
	}

	idRaw := members["id"]
	if !matchesID(idRaw, id) && !(hasError && isNull(idRaw)) {
		return nil, rpcerr.Validation("id response mismatch: expected %q got %s", id, printable(idRaw))
	}

	switch {
	case hasError && hasResult && !isNull(result):
		return nil, rpcerr.Validation("response carries both result and error")
	case hasError:
		var obj ErrorObject
		if err := json.Unmarshal(errRaw, &obj); err != nil {
			return nil, &rpcerr.Error{
				Kind:    rpcerr.KindClientValidation,
				Op:      rpcerr.OpCall,
				Message: "malformed error object",
				Err:     err,
			}
		}
		return nil, rpcerr.Server(obj.Code, obj.Message, obj.Data)
	case !hasResult:
		return nil, rpcerr.Validation("response carries neither result nor error")
	}
	return result, nil
}

func matchesID(raw json.RawMessage, id string) bool {
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == id
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func printable(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "nothing"
	}
	return string(raw)
}
