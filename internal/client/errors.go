package client

import (
	"strings"

	"github.com/pkg/errors"
)

// Error codes the server reports in extensions.code.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
)

var (
	// ErrNotFound matches a GraphQLError carrying CodeNotFound.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput matches a GraphQLError carrying CodeInvalidInput.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoSubscriber is returned by Subscribe when no transport can stream.
	ErrNoSubscriber = errors.New("transport does not support subscriptions")
)

// ErrorEntry is one element of a GraphQL response's errors array.
type ErrorEntry struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "" when absent.
func (e ErrorEntry) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// GraphQLError is returned when a response carries errors.
type GraphQLError struct {
	Errors []ErrorEntry
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, entry := range e.Errors {
		msgs[i] = entry.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Code returns the first error code in the response.
func (e *GraphQLError) Code() string {
	for _, entry := range e.Errors {
		if code := entry.Code(); code != "" {
			return code
		}
	}
	return ""
}

func (e *GraphQLError) Is(target error) bool {
	var code string
	switch target {
	case ErrNotFound:
		code = CodeNotFound
	case ErrInvalidInput:
		code = CodeInvalidInput
	default:
		return false
	}
	for _, entry := range e.Errors {
		if entry.Code() == code {
			return true
		}
	}
	return false
}
