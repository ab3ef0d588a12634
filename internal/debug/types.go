package debug

import (
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/source"
)

// Frame is one entry of a script call stack.
type Frame struct {
	// Unit is the source unit of the frame, Unknown for native frames.
	Unit source.UnitID

	// Line is the current line in the unit (1-based, 0 if unknown).
	Line int

	// Function is the function name, if the interpreter knows it.
	Function string

	// Source is the interpreter's own name for the chunk.
	Source string
}

// FormatLocation returns a formatted location string like "main.lua:42".
func (f Frame) FormatLocation() string {
	name := f.Source
	if name == "" {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s:%d", name, f.Line)
}

// ScriptError describes an unhandled error raised by a running script.
type ScriptError struct {
	// Class is the error category reported by the interpreter.
	Class string

	// Message is the error message.
	Message string

	// Unit and Line locate the failing statement.
	Unit source.UnitID
	Line int

	// Depth is the stack depth at the failing statement.
	Depth int

	// Stack is the call stack at the time of the error, innermost first.
	Stack []Frame

	// Err is the interpreter's original error, if any.
	Err error
}

func (e *ScriptError) Error() string {
	if e == nil {
		return ""
	}
	if e.Class == "" {
		return e.Message
	}
	return e.Class + ": " + e.Message
}

func (e *ScriptError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Backtrace formats the stack one frame per line.
func (e *ScriptError) Backtrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		b.WriteString("\t")
		b.WriteString(f.FormatLocation())
		if f.Function != "" {
			b.WriteString(" in ")
			b.WriteString(f.Function)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Script is the unit of work handed to a binding.
type Script struct {
	// Unit is the id the script's positions are reported under. For an
	// include-expanded script this is a pseudo id.
	Unit source.UnitID

	// Path is the script file, used for the chunk name and error messages.
	Path string

	// Text is the script source. Bindings read Path when Text is empty.
	Text string
}

// Name returns the chunk name to compile the script under.
func (s Script) Name() string {
	if s.Path != "" {
		return s.Path
	}
	return fmt.Sprintf("unit-%d", s.Unit)
}

// RunMode selects how a new session starts.
type RunMode int

const (
	// RunContinue runs freely until a breakpoint or exception.
	RunContinue RunMode = iota
	// RunStepInto stops at the first statement.
	RunStepInto
	// RunStepOver stops at the first top-level statement.
	RunStepOver
)

// String returns a string representation of the run mode.
func (m RunMode) String() string {
	switch m {
	case RunContinue:
		return "continue"
	case RunStepInto:
		return "step"
	case RunStepOver:
		return "step-over"
	default:
		return "unknown"
	}
}

// StopReason explains why the controller suspended.
type StopReason int

const (
	// StopStep is a single step or step over that reached its depth.
	StopStep StopReason = iota
	// StopPause is an explicit pause request.
	StopPause
	// StopBreakpoint is a breakpoint hit.
	StopBreakpoint
	// StopException is an unhandled script error the user chose to debug.
	StopException
)

// String returns a string representation of the stop reason.
func (r StopReason) String() string {
	switch r {
	case StopStep:
		return "step"
	case StopPause:
		return "pause"
	case StopBreakpoint:
		return "breakpoint"
	case StopException:
		return "exception"
	default:
		return "unknown"
	}
}

// ExceptionAction is the user's answer to an unhandled script error.
type ExceptionAction int

const (
	// ActionContinue resumes execution; the script error propagates.
	ActionContinue ExceptionAction = iota
	// ActionIgnoreFile resumes and stops reporting errors from the file.
	ActionIgnoreFile
	// ActionDebug suspends at the failing line.
	ActionDebug
)

// String returns a string representation of the action.
func (a ExceptionAction) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionIgnoreFile:
		return "ignore"
	case ActionDebug:
		return "debug"
	default:
		return "unknown"
	}
}
