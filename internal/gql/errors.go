package gql

import (
	"github.com/pkg/errors"

	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

// Error codes carried in extensions.code.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeInternal     = "INTERNAL"
)

// resolverError attaches a machine-readable code to a resolver failure.
type resolverError struct {
	err  error
	code string
}

func (e *resolverError) Error() string { return e.err.Error() }

func (e *resolverError) Unwrap() error { return e.err }

func (e *resolverError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.code}
}

func wrapError(err error) error {
	code := CodeInternal
	switch {
	case errors.Is(err, usersvc.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, usersvc.ErrInvalidInput):
		code = CodeInvalidInput
	}
	return &resolverError{err: err, code: code}
}
