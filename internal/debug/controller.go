package debug

import (
	"context"
	"errors"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/source"
)

// Controller is the debugger state machine.
//
// Every method must be called from the event loop goroutine: bindings run
// scripts synchronously on it and the controller pumps events from inside
// their callbacks.
type Controller struct {
	units       Units
	resolver    *position.Resolver
	breakpoints *breakpoint.Store
	pump        EventPump

	display   Display
	presenter Presenter
	policy    ExceptionPolicy
	handlers  Handlers
	timing    Timing
	log       *logging.Logger
	now       func() time.Time

	session session

	// startMode is applied by the next accepted Start.
	startMode RunMode

	// cancelPending is set by Stop and makes every callback return ErrAbort
	// until the cancelled owner unwinds with End or Detach.
	cancelPending bool
	cancelled     weak.Pointer[Handle]

	current position.Position
	frames  []Frame
}

// NewController creates an idle controller.
func NewController(units Units, resolver *position.Resolver, breakpoints *breakpoint.Store, pump EventPump, opts ...Option) *Controller {
	c := &Controller{
		units:       units,
		resolver:    resolver,
		breakpoints: breakpoints,
		pump:        pump,
		display:     nopDisplay{},
		presenter:   debugPresenter{},
		policy:      NewStaticPolicy(false),
		timing:      DefaultTiming(),
		log:         logging.NewNull(),
		now:         time.Now,
	}
	c.session.reset()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHandlers replaces the event handlers.
func (c *Controller) SetHandlers(h Handlers) {
	c.handlers = h
}

// SetExceptionPolicy replaces the exception policy.
func (c *Controller) SetExceptionPolicy(p ExceptionPolicy) {
	if p != nil {
		c.policy = p
	}
}

// ExceptionPolicy returns the active exception policy.
func (c *Controller) ExceptionPolicy() ExceptionPolicy {
	return c.policy
}

// SetTiming replaces the free-running pump timing.
func (c *Controller) SetTiming(t Timing) {
	c.timing = t.normalized()
}

// Timing returns the free-running pump timing.
func (c *Controller) Timing() Timing {
	return c.timing
}

// Breakpoints returns the breakpoint store.
func (c *Controller) Breakpoints() *breakpoint.Store {
	return c.breakpoints
}

// State returns the session state.
func (c *Controller) State() State {
	return c.session.state()
}

// IsRunning reports whether a session exists.
func (c *Controller) IsRunning() bool {
	return c.session.running
}

// IsSuspended reports whether execution is suspended.
func (c *Controller) IsSuspended() bool {
	return c.session.suspended
}

// Session returns a snapshot of the session record.
func (c *Controller) Session() SessionInfo {
	return c.session.info()
}

// CurrentPosition returns the resolved position of the current suspension.
func (c *Controller) CurrentPosition() (position.Position, bool) {
	if !c.session.suspended {
		return position.Position{}, false
	}
	return c.current, true
}

// CallStack returns the resolved call stack of the current suspension.
func (c *Controller) CallStack() []Frame {
	if !c.session.suspended {
		return nil
	}
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// SuspendedBy returns the handle of the binding the controller is suspended
// in, or nil.
func (c *Controller) SuspendedBy() *Handle {
	if !c.session.suspended {
		return nil
	}
	return c.session.suspendedBy.Value()
}

// Run starts script in binding b and blocks until it finishes. mode is
// applied when the binding's Start is accepted. Cancellation and script
// exit are normal terminations and return nil.
func (c *Controller) Run(ctx context.Context, b Binding, script Script, mode RunMode) error {
	if b == nil {
		return ErrNoBinding
	}
	if c.session.running {
		return ErrSessionActive
	}

	c.startMode = mode
	defer func() { c.startMode = RunContinue }()

	err := b.Run(ctx, script)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAbort):
		c.log.Info("script %s stopped", script.Name())
		return nil
	case errors.Is(err, ErrScriptExit):
		c.log.Debug("script %s exited", script.Name())
		return nil
	}
	return err
}

// Start opens a session owned by h. It is rejected with ErrSessionActive
// while any session exists; the rejected binding may keep running and
// reporting traces as a secondary interpreter.
func (c *Controller) Start(h *Handle) error {
	if h == nil {
		return ErrNoBinding
	}
	if c.session.running {
		c.log.Debug("start from %s rejected, session owned by %s", h, c.session.owner.Value())
		return ErrSessionActive
	}

	old := c.session.state()
	c.cancelPending = false
	c.cancelled = weak.Pointer[Handle]{}

	c.session.reset()
	c.session.id = uuid.NewString()
	c.session.running = true
	c.session.owner = weak.Make(h)
	c.session.continueRequested = true
	c.session.lastPump = c.now()
	c.session.pumpInterval = c.timing.MinPumpInterval

	switch c.startMode {
	case RunStepInto:
		c.session.continueRequested = false
	case RunStepOver:
		c.session.stopAtDepth = 0
	}

	c.clearMarkers()
	c.log.Info("session %s started by %s (%s)", c.session.id, h, c.startMode)
	c.notifyState(old, StateRunning)
	return nil
}

// End closes the session if h owns it. Calls from any other binding are
// ignored.
func (c *Controller) End(h *Handle) {
	if c.isCancelled(h) {
		c.cancelPending = false
		c.cancelled = weak.Pointer[Handle]{}
		return
	}
	if !c.session.running || !c.isOwner(h) {
		return
	}
	c.log.Info("session %s ended", c.session.id)
	c.terminate()
}

// Detach tells the controller that binding h is going away. A session owned
// by h is dropped without raising a cancellation.
func (c *Controller) Detach(h *Handle) {
	if c.isCancelled(h) {
		c.cancelPending = false
		c.cancelled = weak.Pointer[Handle]{}
	}
	if c.session.running && c.isOwner(h) {
		c.log.Warn("binding %s detached during session %s", h, c.session.id)
		c.terminate()
	}
}

// Trace is called by a binding before each statement. depth is the
// binding's current call stack depth. It blocks while the controller is
// suspended and returns ErrAbort once the session has been stopped.
func (c *Controller) Trace(h *Handle, unit source.UnitID, line, depth int) error {
	if !c.session.running {
		return c.checkCancelled()
	}
	// Traces from evaluations and secondary bindings during a suspension,
	// and from work the host runs while busy, never stop.
	if c.session.suspended || c.pump.Busy() {
		return nil
	}

	owner := c.isOwner(h)
	if owner && c.session.currentStackDepth < 0 {
		c.session.currentStackDepth = depth
	}

	pos := c.resolver.Resolve(unit, line)
	if reason, stop := c.shouldStop(owner, pos, depth); stop {
		c.session.currentStackDepth = depth
		c.suspend(h, SuspendInfo{
			Reason:   reason,
			Binding:  h.Name(),
			Position: pos,
			Frames:   c.resolveFrames(h.Backtrace(), pos),
		}, depth)
		return c.checkCancelled()
	}

	if owner {
		c.session.currentStackDepth = depth
	}
	c.tick()
	return c.checkCancelled()
}

// shouldStop decides whether a trace at pos suspends.
func (c *Controller) shouldStop(owner bool, pos position.Position, depth int) (StopReason, bool) {
	if pos.Unit == source.Unknown {
		return 0, false
	}
	if owner && c.session.stopAtDepth >= 0 && depth <= c.session.stopAtDepth {
		return StopStep, true
	}
	if owner && !c.session.continueRequested {
		if c.session.pauseRequested {
			return StopPause, true
		}
		return StopStep, true
	}
	if c.units.Known(pos.Unit) && c.breakpoints.IsBreakpoint(pos.Unit, pos.Line) {
		return StopBreakpoint, true
	}
	return 0, false
}

// tick pumps host events while a script runs freely, at an adaptive rate.
func (c *Controller) tick() {
	c.session.tickCounter++
	if c.session.tickCounter%c.timing.TickInterval != 0 {
		return
	}
	start := c.now()
	if start.Sub(c.session.lastPump) <= c.session.pumpInterval {
		return
	}
	c.pump.ProcessEvents()
	end := c.now()
	c.session.lastPump = end
	c.session.pumpInterval = c.timing.next(end.Sub(start))
}

// Exception is called by a binding for an unhandled script error while the
// error's frames are still live. It may present the error, suspend at the
// failing line, and returns ErrAbort once the session has been stopped.
func (c *Controller) Exception(h *Handle, ex *ScriptError) error {
	if !c.session.running {
		return c.checkCancelled()
	}
	if ex == nil || c.session.suspended || c.pump.Busy() {
		return nil
	}
	if !c.policy.StopOnException() {
		return nil
	}

	pos := c.resolver.Resolve(ex.Unit, ex.Line)
	frames := c.resolveFrames(ex.Stack, pos)
	if !c.units.Known(pos.Unit) {
		var found bool
		for _, f := range frames {
			if c.units.Known(f.Unit) {
				pos = position.Position{Unit: f.Unit, Line: f.Line}
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	path := c.units.Path(pos.Unit)
	if c.policy.IsIgnored(path) {
		c.log.Debug("exception in ignored file %s", path)
		return nil
	}

	action := c.presenter.PresentException(ex, pos)
	if !c.session.running {
		return c.checkCancelled()
	}
	c.log.Info("exception at %s:%d: %s (%s)", path, pos.Line, ex.Error(), action)

	switch action {
	case ActionIgnoreFile:
		if err := c.policy.Ignore(path); err != nil {
			c.log.Error("ignore %s: %v", path, err)
		}
	case ActionDebug:
		c.display.ShowErrorLine(pos.Unit, pos.Line)
		c.suspend(h, SuspendInfo{
			Reason:   StopException,
			Binding:  h.Name(),
			Position: pos,
			Frames:   frames,
			Error:    ex,
		}, ex.Depth)
	}

	// The stack unwinds after an error; the next trace reseeds the depth.
	if c.session.running {
		c.session.currentStackDepth = -1
	}
	return c.checkCancelled()
}

// Continue resumes execution until the next breakpoint.
func (c *Controller) Continue() bool {
	if !c.session.running {
		return false
	}
	c.session.stopAtDepth = -1
	c.session.continueRequested = true
	c.session.pauseRequested = false
	c.resume()
	return true
}

// Step resumes and stops at the next statement in the owner binding.
func (c *Controller) Step() bool {
	if !c.session.suspended {
		return false
	}
	c.session.stopAtDepth = -1
	c.session.continueRequested = false
	return c.resume()
}

// StepOver resumes and stops at the next statement at the current depth or
// shallower.
func (c *Controller) StepOver() bool {
	if !c.session.suspended {
		return false
	}
	c.session.stopAtDepth = max(0, c.session.currentStackDepth)
	c.session.continueRequested = true
	return c.resume()
}

// Pause requests a stop at the next statement of the owner binding.
func (c *Controller) Pause() bool {
	if !c.session.running || c.session.suspended {
		return false
	}
	c.session.continueRequested = false
	c.session.pauseRequested = true
	return true
}

// Stop ends the session. Bindings that have not unwound yet get ErrAbort
// from their next callback.
func (c *Controller) Stop() bool {
	if !c.session.running {
		return false
	}
	c.log.Info("session %s stopped", c.session.id)
	c.cancelPending = true
	c.cancelled = c.session.owner
	c.terminate()
	return true
}

// resume wakes a suspension. It reports whether one was active.
func (c *Controller) resume() bool {
	if !c.session.suspended {
		return false
	}
	c.session.resumeRequested = true
	return true
}

// terminate resets the session to idle.
func (c *Controller) terminate() {
	old := c.session.state()
	wasSuspended := c.session.suspended
	c.session.reset()
	if !wasSuspended {
		c.clearMarkers()
	}
	c.notifyState(old, StateIdle)
}

// suspend blocks inside the calling binding's callback, pumping host events
// until the user resumes or the session ends. A modal sub-dialog takes over
// the loop with the debugger hidden.
func (c *Controller) suspend(h *Handle, info SuspendInfo, depth int) {
	old := c.session.state()
	c.session.suspended = true
	c.session.suspendedBy = weak.Make(h)
	c.session.resumeRequested = false
	c.session.pauseRequested = false
	c.session.currentStackDepth = depth
	c.current = info.Position
	c.frames = info.Frames

	c.setMarkers(info.Position)
	c.display.ShowCallStack(info.Frames)
	c.log.Debug("suspended at %s:%d (%s)", c.units.Path(info.Position.Unit), info.Position.Line, info.Reason)
	c.notifyState(old, StateSuspended)
	if c.handlers.OnSuspended != nil {
		c.handlers.OnSuspended(info)
	}

	released := func() bool {
		return c.session.resumeRequested || !c.session.running
	}
	for !released() {
		c.pump.PumpUntil(func() bool {
			return released() || c.pump.ModalActive()
		})
		if released() || !c.pump.ModalActive() {
			continue
		}
		c.display.SetVisible(false)
		c.pump.PumpUntil(func() bool {
			return !c.pump.ModalActive() || !c.session.running
		})
		c.display.SetVisible(true)
	}

	c.session.suspended = false
	c.session.suspendedBy = weak.Pointer[Handle]{}
	c.session.resumeRequested = false
	c.current = position.Position{}
	c.frames = nil
	c.clearMarkers()
	c.display.ShowCallStack(nil)

	if c.session.running {
		c.notifyState(StateSuspended, StateRunning)
		if c.handlers.OnResumed != nil {
			c.handlers.OnResumed()
		}
	}
}

// resolveFrames maps raw interpreter frames to concrete positions. When the
// binding reports no frames, the suspension position is the only frame.
func (c *Controller) resolveFrames(raw []Frame, at position.Position) []Frame {
	if len(raw) == 0 {
		if at.IsZero() {
			return nil
		}
		return []Frame{{Unit: at.Unit, Line: at.Line, Source: c.units.Path(at.Unit)}}
	}
	out := make([]Frame, len(raw))
	for i, f := range raw {
		if f.Unit != source.Unknown {
			p := c.resolver.Resolve(f.Unit, f.Line)
			f.Unit, f.Line = p.Unit, p.Line
			if p.Unit != source.Unknown {
				f.Source = c.units.Path(p.Unit)
			}
		}
		out[i] = f
	}
	return out
}

// setMarkers marks the live line in unit at and clears every other unit.
func (c *Controller) setMarkers(at position.Position) {
	for _, id := range c.units.IDs() {
		if id == at.Unit {
			c.display.SetCurrentLine(id, at.Line, true)
		} else {
			c.display.SetCurrentLine(id, -1, true)
		}
	}
}

// clearMarkers removes the current line marker from all units.
func (c *Controller) clearMarkers() {
	for _, id := range c.units.IDs() {
		c.display.SetCurrentLine(id, -1, false)
	}
}

func (c *Controller) isOwner(h *Handle) bool {
	return h != nil && c.session.owner.Value() == h
}

func (c *Controller) isCancelled(h *Handle) bool {
	return c.cancelPending && h != nil && c.cancelled.Value() == h
}

// checkCancelled returns ErrAbort while a stopped session has not unwound.
func (c *Controller) checkCancelled() error {
	if c.session.running || !c.cancelPending {
		return nil
	}
	if c.cancelled.Value() == nil {
		// The cancelled binding was collected without unwinding.
		c.cancelPending = false
		return nil
	}
	return ErrAbort
}

func (c *Controller) notifyState(from, to State) {
	if from == to {
		return
	}
	if c.handlers.OnStateChanged != nil {
		c.handlers.OnStateChanged(from, to)
	}
}

// Compile-time interface check.
var _ Tracer = (*Controller)(nil)
