package gateway

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the gateway protocol version sent in the connect
// handshake.
const ProtocolVersion = "1.0"

// Gateway error codes following JSON-RPC 2.0 conventions.
const (
	ErrCodeParse            = -32700
	ErrCodeInvalidRequest   = -32600
	ErrCodeMethodNotFound   = -32601
	ErrCodeInvalidParams    = -32602
	ErrCodeInternal         = -32603
	ErrCodeAuthRequired     = -32001
	ErrCodePermissionDenied = -32002
	ErrCodePairingRequired  = -32011
)

// Method names understood by gateways.
const (
	MethodConnect = "connect"
	MethodStatus  = "status"
	MethodPing    = "ping"
)

// Request represents a JSON-RPC request sent to a gateway.
type Request struct {
	// JSONRPC must be "2.0"
	JSONRPC string `json:"jsonrpc"`
	// Method is the RPC method name
	Method string `json:"method"`
	// Params are the method parameters
	Params json.RawMessage `json:"params,omitempty"`
	// ID correlates the response with this request
	ID string `json:"id,omitempty"`
}

// Response represents a JSON-RPC response from a gateway. Frames without an
// ID are gateway events and are not delivered to callers.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// Error is an error returned by the gateway. The connection that carried it
// remains usable.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewError creates a new Error with the given code and message.
func NewError(code int, message string, data any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// ConnectParams is the payload of the connect handshake.
type ConnectParams struct {
	Client          string `json:"client"`
	ClientVersion   string `json:"clientVersion"`
	ProtocolVersion string `json:"protocolVersion"`
	Token           string `json:"token,omitempty"`
	Pairing         bool   `json:"pairing"`
}

// ConnectResult is the gateway's answer to a successful handshake.
type ConnectResult struct {
	GatewayID string `json:"gatewayId"`
	Version   string `json:"version"`
	SessionID string `json:"sessionId,omitempty"`
}

// StatusResult is the result of the status method.
type StatusResult struct {
	GatewayID string   `json:"gatewayId"`
	Version   string   `json:"version"`
	Uptime    int64    `json:"uptime"`
	Agents    []string `json:"agents,omitempty"`
	Healthy   bool     `json:"healthy"`
}
