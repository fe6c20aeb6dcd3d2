package cursor

import (
	"errors"
	"fmt"

	"github.com/nickyhof/GlobalDB/conn"
)

// MaxArgs bounds the number of arguments of any cursor operation.
const MaxArgs = 64

var (
	ErrArgument        = errors.New("invalid arguments")
	ErrConnection      = errors.New("no active connection")
	ErrOperationMode   = errors.New("cursor traversal does not accept a callback")
	ErrUnderlyingFetch = errors.New("connection primitive failed")
	ErrClosed          = errors.New("cursor is closed")
)

// FetchError is a failure reported by a connection primitive.
type FetchError struct {
	Primitive string
	Code      int
	State     string
	Message   string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s failed (sqlcode %d, sqlstate %s): %s", e.Primitive, e.Code, e.State, e.Message)
}

func (e *FetchError) Is(target error) bool {
	return target == ErrUnderlyingFetch
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchError(primitive string, err error) *FetchError {
	return &FetchError{
		Primitive: primitive,
		Code:      -1,
		State:     conn.SQLStateGeneral,
		Message:   err.Error(),
		Err:       err,
	}
}

func argumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArgument, fmt.Sprintf(format, args...))
}
