package cache

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingField reports that a read could not be satisfied entirely from
// the cache. The partial result is still returned alongside it.
var ErrMissingField = errors.New("missing field")

// MissingFieldError lists the response paths a read could not fill.
type MissingFieldError struct {
	Paths []string
}

func (e *MissingFieldError) Error() string {
	return "cache miss: " + strings.Join(e.Paths, ", ")
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}
