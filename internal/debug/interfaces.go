package debug

import (
	"context"

	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/source"
)

// Binding is an interpreter instance the controller can run scripts in.
type Binding interface {
	// Handle returns the binding's identity.
	Handle() *Handle

	// Run executes the script. The binding reports Start and End around the
	// run and a Trace per statement. It returns ErrAbort when the session
	// was cancelled and ErrScriptExit when the script ended itself.
	Run(ctx context.Context, script Script) error
}

// Tracer is the callback surface bindings report to. Controller implements it.
type Tracer interface {
	Start(h *Handle) error
	End(h *Handle)
	Trace(h *Handle, unit source.UnitID, line, depth int) error
	Exception(h *Handle, ex *ScriptError) error
	Detach(h *Handle)
}

// EventPump processes host events on the controller's goroutine.
type EventPump interface {
	// ProcessEvents handles all pending events without blocking.
	ProcessEvents()

	// PumpUntil blocks handling events until done returns true. done is
	// evaluated after every event.
	PumpUntil(done func() bool)

	// Busy reports whether the host is inside an unrelated blocking
	// operation. Callbacks arriving then are ignored.
	Busy() bool

	// ModalActive reports whether a modal sub-dialog owns the event loop.
	ModalActive() bool
}

// Display shows debugger state to the user.
type Display interface {
	// SetCurrentLine marks the live line of a unit; line < 0 clears it.
	SetCurrentLine(unit source.UnitID, line int, suspended bool)

	// ShowCallStack displays the call stack; nil clears it.
	ShowCallStack(frames []Frame)

	// ShowErrorLine highlights the line an exception was raised at.
	ShowErrorLine(unit source.UnitID, line int)

	// SetVisible hides or restores the debugger window.
	SetVisible(visible bool)
}

// Presenter asks the user what to do about an unhandled script error.
type Presenter interface {
	PresentException(ex *ScriptError, at position.Position) ExceptionAction
}

// Units is the set of known source units.
type Units interface {
	IDs() []source.UnitID
	Known(id source.UnitID) bool
	Path(id source.UnitID) string
}

// ExceptionPolicy holds the persisted exception settings.
type ExceptionPolicy interface {
	// StopOnException reports whether unhandled errors are intercepted.
	StopOnException() bool

	// IsIgnored reports whether errors from path are never intercepted.
	IsIgnored(path string) bool

	// Ignore adds path to the ignore list and persists it.
	Ignore(path string) error
}

// Handlers contains callbacks for controller events.
type Handlers struct {
	// OnStateChanged is called when the session state changes.
	OnStateChanged func(old, new State)

	// OnSuspended is called after entering suspension, before pumping.
	OnSuspended func(info SuspendInfo)

	// OnResumed is called when a suspension ends with the session alive.
	OnResumed func()
}

// SuspendInfo describes a suspension.
type SuspendInfo struct {
	Reason   StopReason
	Binding  string
	Position position.Position
	Frames   []Frame
	Error    *ScriptError
}

// nopDisplay discards all display updates.
type nopDisplay struct{}

func (nopDisplay) SetCurrentLine(source.UnitID, int, bool) {}
func (nopDisplay) ShowCallStack([]Frame)                   {}
func (nopDisplay) ShowErrorLine(source.UnitID, int)        {}
func (nopDisplay) SetVisible(bool)                         {}

// debugPresenter always chooses to debug.
type debugPresenter struct{}

func (debugPresenter) PresentException(*ScriptError, position.Position) ExceptionAction {
	return ActionDebug
}

// staticPolicy is an in-memory ExceptionPolicy.
type staticPolicy struct {
	stop    bool
	ignored map[string]bool
}

// NewStaticPolicy returns an in-memory exception policy.
func NewStaticPolicy(stop bool, ignored ...string) ExceptionPolicy {
	p := &staticPolicy{stop: stop, ignored: make(map[string]bool)}
	for _, path := range ignored {
		p.ignored[path] = true
	}
	return p
}

func (p *staticPolicy) StopOnException() bool      { return p.stop }
func (p *staticPolicy) IsIgnored(path string) bool { return p.ignored[path] }
func (p *staticPolicy) Ignore(path string) error {
	p.ignored[path] = true
	return nil
}
