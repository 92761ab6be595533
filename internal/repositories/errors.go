package repositories

import "fmt"

// Error is a backend-independent RepositoryError used by the in-memory implementations.
type Error struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, id string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%s not found", id), NotFound: true}
}

// NewConflictError reports a concurrent or duplicate write.
func NewConflictError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Conflict: true}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.NotFound }
func (e *Error) IsConflict() bool    { return e.Conflict }
func (e *Error) IsUnavailable() bool { return e.Unavailable }
