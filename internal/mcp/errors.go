// Package mcp implements the Model Context Protocol server that exposes
// passage retrieval and index status to the chatbot.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotReady indicates the index is being rebuilt.
	ErrCodeIndexNotReady = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a tool error with a protocol code. Message starts with the
// internal error code when there is one, so callers can match
// ERR_503_INDEX_NOT_READY without parsing numbers.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if ce, ok := cerrors.As(err); ok {
		return mapCareError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapCareError(ce *cerrors.Error) *MCPError {
	message := ce.Code + ": " + ce.Message
	if ce.Suggestion != "" {
		message += ". " + ce.Suggestion
	}

	switch ce.Code {
	case cerrors.ErrCodeIndexNotReady:
		return &MCPError{Code: ErrCodeIndexNotReady, Message: message}
	case cerrors.ErrCodeEmbeddingFailed, cerrors.ErrCodeEmbeddingUnavailable:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	}

	switch ce.Category {
	case cerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case cerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
