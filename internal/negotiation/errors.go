package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrStopped      = errors.New("negotiation: machine stopped")
	ErrNoCapability = errors.New("negotiation: factory returned no capability")
)

// Error records which capability or transport operation failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("negotiation: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
