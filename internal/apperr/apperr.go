// Package apperr defines the error kinds shared by the core services and the HTTP layer.
package apperr

import "errors"

var (
	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates an unknown identity or record id.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller can see the resource but lacks rights over it.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a violated state precondition.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrConflict, "conflict"},
	{ErrInvalidArgument, "invalid_argument"},
}

// Kind returns the taxonomy name of err, or "internal" when err is not one of the known kinds.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// Message returns a client-safe description of err. Errors outside the taxonomy are replaced
// with a generic text.
func Message(err error) string {
	if Kind(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
