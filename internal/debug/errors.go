package debug

import "errors"

// Controller errors.
var (
	// ErrAbort is the cancellation signal returned from Trace and Exception
	// after the session was stopped. Bindings must unwind to their Run call
	// and must not let script code intercept it.
	ErrAbort = errors.New("script execution aborted")

	// ErrScriptExit signals that the script ended itself on purpose.
	ErrScriptExit = errors.New("script exit")

	// ErrSessionActive is returned by Start and Run while a session exists.
	ErrSessionActive = errors.New("debug session already active")

	// ErrNoBinding is returned by Run when no binding is given.
	ErrNoBinding = errors.New("no interpreter binding")
)
