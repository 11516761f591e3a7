package rpc

import (
	"errors"
	"fmt"

	"github.com/neat-no/goat-go/wire"
)

// ErrorCode is implemented by errors that carry a status code.
type ErrorCode interface {
	// ErrorCode returns the status code.
	ErrorCode() Code
}

// Error is a structured RPC error built from an envelope's status field.
type Error struct {
	Code    Code       // Code is the status code reported by the peer.
	Message string     // Message is the error message.
	Details []wire.Any // Details associated with the error.
}

// NewError creates a new RPC error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// StatusError creates a new RPC error from an envelope status.
func StatusError(st *wire.Status) *Error {
	return &Error{
		Code:    Code(st.Code),
		Message: st.Message,
		Details: st.Details,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: %s: %s", e.Code, e.Message)
}

// ErrorCode implements the ErrorCode interface.
func (e *Error) ErrorCode() Code {
	return e.Code
}

// CodeOf returns the status code carried by err, or CodeUnknown if err
// carries none. A nil error reports CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var ec ErrorCode
	if errors.As(err, &ec) {
		return ec.ErrorCode()
	}
	return CodeUnknown
}
