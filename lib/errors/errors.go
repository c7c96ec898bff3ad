// Package errors provides structured error types for the gateway daemon.
// All errors are designed to be safe to return to clients without exposing
// internal implementation details.
//
// This package provides:
//   - Sentinel errors for pool, gateway and configuration failures
//   - Error codes for API response categorization
//   - Safe error messages that don't leak sensitive information
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing errors. These align with JSON-RPC 2.0 error codes
// where applicable, with custom codes in the -32000 to -32099 range.
const (
	// Standard JSON-RPC 2.0 error codes
	CodeParseError     = -32700 // Invalid JSON
	CodeInvalidRequest = -32600 // Invalid request object
	CodeMethodNotFound = -32601 // Method not found
	CodeInvalidParams  = -32602 // Invalid method parameters
	CodeInternal       = -32603 // Internal error

	// Application-specific error codes (-32000 to -32099)
	CodeAuthRequired = -32001 // Authentication required
	CodeNotFound     = -32003 // Resource not found
	CodeRateLimited  = -32004 // Rate limit exceeded
	CodeTimeout      = -32005 // Operation timeout
	CodeUnavailable  = -32007 // Service unavailable
	CodeConnection   = -32009 // Connection error
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the gateway refused our credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Pool errors
var (
	// ErrPoolClosed indicates the connection pool has been shut down.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)
)

// Gateway errors
var (
	// ErrGatewayNotFound indicates no gateway is configured with the given id.
	ErrGatewayNotFound = fmt.Errorf("gateway: %w", ErrNotFound)

	// ErrGatewayHandshake indicates the gateway rejected the connect handshake.
	ErrGatewayHandshake = fmt.Errorf("gateway: handshake failed: %w", ErrConnection)

	// ErrGatewayConnClosed indicates a call was made on a closed gateway connection.
	ErrGatewayConnClosed = fmt.Errorf("gateway: connection %w", ErrClosed)

	// ErrGatewayURLInvalid indicates a gateway endpoint URL could not be used.
	ErrGatewayURLInvalid = fmt.Errorf("gateway: url %w", ErrInvalidInput)
)

// Config errors
var (
	// ErrConfigInvalid indicates the daemon configuration failed validation.
	ErrConfigInvalid = fmt.Errorf("config: %w", ErrConfiguration)
)

// Error is a structured error with a code and safe message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// WrapInternal wraps an internal error with a generic message.
// Use this when the original error contains sensitive information.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// Errors that match no sentinel are treated as internal and get a generic
// message.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	code := codeFromError(err)
	if code == CodeInternal {
		return WrapInternal(err)
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeAuthRequired
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrClosed):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, ErrConnection):
		return CodeConnection
	default:
		return CodeInternal
	}
}

// IsUnauthorized returns true if the error indicates the credentials were refused.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
