package lua

import "errors"

// Errors for Lua state and binding operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrStatementLimit is raised when a run exceeds its statement budget.
	ErrStatementLimit = errors.New("lua statement limit exceeded")

	// ErrBindingBusy is returned by Run when the binding is already running.
	ErrBindingBusy = errors.New("lua binding is already running")

	// ErrNotSuspended is returned by Eval outside of a suspension.
	ErrNotSuspended = errors.New("lua binding is not suspended")
)
