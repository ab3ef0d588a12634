package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/source"
)

// Units assigns unit ids to script paths.
type Units interface {
	ID(path string) source.UnitID
}

// Binding runs scripts in one sandboxed Lua state under the debugger.
//
// Every statement of a script reports to the tracer before it executes.
// Unhandled errors are reported from an error handler that runs while the
// failing frames are still live. When the tracer answers with
// debug.ErrAbort the binding cancels the state's context, which makes the
// VM raise on every following instruction, so script code cannot catch the
// abort with pcall.
type Binding struct {
	name   string
	handle *debug.Handle
	tracer debug.Tracer
	units  Units
	state  *State
	log    *logging.Logger

	stateOpts []StateOption
	peers     map[string]*Binding

	chunks  map[string]source.UnitID
	traceFn *lua.LFunction
	errFn   *lua.LFunction

	running   bool
	callbacks int
	hookL     *lua.LState
	runCtx    context.Context
	cancel    context.CancelFunc
	aborting  bool
	exiting   bool
	lastError *debug.ScriptError
}

// Option configures a Binding.
type Option func(*Binding)

// WithStateOptions passes options to the binding's State.
func WithStateOptions(opts ...StateOption) Option {
	return func(b *Binding) {
		b.stateOpts = append(b.stateOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Binding) {
		if l != nil {
			b.log = l
		}
	}
}

// WithPeer exposes peer to scripts as a global table named module with a
// run(path) function that executes a script file in the peer binding.
func WithPeer(module string, peer *Binding) Option {
	return func(b *Binding) {
		if peer != nil && module != "" {
			b.peers[module] = peer
		}
	}
}

// NewBinding creates a binding reporting to tracer.
func NewBinding(name string, tracer debug.Tracer, units Units, opts ...Option) *Binding {
	b := &Binding{
		name:   name,
		tracer: tracer,
		units:  units,
		log:    logging.NewNull(),
		peers:  make(map[string]*Binding),
		chunks: make(map[string]source.UnitID),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithComponent("lua").WithField("binding", name)

	b.state = NewState(b.stateOpts...)
	b.handle = debug.NewHandle(name)
	b.handle.SetBacktrace(b.backtrace)

	L := b.state.L
	b.traceFn = L.NewFunction(b.trace)
	b.errFn = L.NewFunction(b.onError)
	b.state.RegisterFunc("exit", b.exit)
	for module, peer := range b.peers {
		b.state.RegisterModule(module, map[string]lua.LGFunction{
			"run": b.runPeer(peer),
		})
	}
	return b
}

// Handle returns the binding's identity.
func (b *Binding) Handle() *debug.Handle {
	return b.handle
}

// Name returns the binding name.
func (b *Binding) Name() string {
	return b.name
}

// State returns the underlying Lua state.
func (b *Binding) State() *State {
	return b.state
}

// IsRunning reports whether a script is executing.
func (b *Binding) IsRunning() bool {
	return b.running
}

// Run compiles and executes script. It reports Start before and End after
// execution; a rejected Start leaves the binding running as a secondary
// interpreter. Syntax and runtime errors are returned as *debug.ScriptError.
func (b *Binding) Run(ctx context.Context, script debug.Script) error {
	if b.state.IsClosed() {
		return ErrStateClosed
	}
	if b.running {
		return ErrBindingBusy
	}

	text := script.Text
	if text == "" && script.Path != "" {
		data, err := os.ReadFile(script.Path)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		text = string(data)
	}
	unit := script.Unit
	if unit == source.Unknown && script.Path != "" {
		unit = b.units.ID(script.Path)
	}

	name := script.Name()
	fn, err := b.state.Compile(name, text, unit)
	if err != nil {
		return &debug.ScriptError{
			Class:   "syntax error",
			Message: err.Error(),
			Unit:    unit,
			Err:     err,
		}
	}
	b.chunks[name] = unit

	if err := b.tracer.Start(b.handle); err != nil {
		if !errors.Is(err, debug.ErrSessionActive) {
			return err
		}
		b.log.Debug("running %s as secondary interpreter", name)
	} else {
		defer b.tracer.End(b.handle)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.begin(runCtx, cancel)
	defer b.finish()

	L := b.state.L
	L.SetContext(runCtx)
	defer L.RemoveContext()

	L.Push(fn)
	L.Push(b.traceFn)
	err = L.PCall(1, 0, b.errFn)

	switch {
	case b.aborting:
		return debug.ErrAbort
	case b.exiting:
		return debug.ErrScriptExit
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	if b.lastError != nil {
		b.lastError.Err = err
		return b.lastError
	}
	return &debug.ScriptError{
		Class:   "runtime error",
		Message: errorMessage(err),
		Unit:    unit,
		Err:     err,
	}
}

func (b *Binding) begin(ctx context.Context, cancel context.CancelFunc) {
	b.running = true
	b.runCtx = ctx
	b.cancel = cancel
	b.aborting = false
	b.exiting = false
	b.lastError = nil
	b.state.Sandbox().ResetStatementCount()
}

func (b *Binding) finish() {
	b.running = false
	b.runCtx = nil
	b.cancel = nil
}

// trace is the hook instrumented code calls before every statement.
func (b *Binding) trace(L *lua.LState) int {
	unit := source.UnitID(L.CheckInt(1))
	line := L.CheckInt(2)
	if b.state.Sandbox().CountStatement() {
		L.RaiseError("%s", ErrStatementLimit.Error())
		return 0
	}

	restore := b.enter(L)
	err := b.tracer.Trace(b.handle, unit, line, depth(L))
	restore()

	if err != nil {
		b.fail(L, err)
	}
	return 0
}

// onError is the error handler of the top-level call. It runs before the
// failing frames unwind.
func (b *Binding) onError(L *lua.LState) int {
	obj := L.Get(1)
	if b.aborting || b.exiting || b.runCtx == nil || b.runCtx.Err() != nil {
		L.Push(obj)
		return 1
	}

	ex := b.scriptError(L, obj)
	b.lastError = ex

	restore := b.enter(L)
	err := b.tracer.Exception(b.handle, ex)
	restore()

	if errors.Is(err, debug.ErrAbort) {
		b.markAborted()
	}
	L.Push(obj)
	return 1
}

// exit ends the script on purpose.
func (b *Binding) exit(L *lua.LState) int {
	b.exiting = true
	if b.cancel != nil {
		b.cancel()
	}
	L.RaiseError("exit")
	return 0
}

// runPeer returns the run function of a peer module.
func (b *Binding) runPeer(peer *Binding) lua.LGFunction {
	return func(L *lua.LState) int {
		path := L.CheckString(1)
		ctx := b.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		err := peer.Run(ctx, debug.Script{Path: path})
		switch {
		case err == nil, errors.Is(err, debug.ErrScriptExit):
		case errors.Is(err, debug.ErrAbort):
			b.fail(L, err)
		default:
			L.RaiseError("%s: %s", peer.Name(), err.Error())
		}
		return 0
	}
}

// fail raises err in the script. An abort also cancels the run so that it
// cannot be caught.
func (b *Binding) fail(L *lua.LState, err error) {
	if errors.Is(err, debug.ErrAbort) {
		b.markAborted()
	}
	L.RaiseError("%s", err.Error())
}

func (b *Binding) markAborted() {
	b.aborting = true
	if b.cancel != nil {
		b.cancel()
	}
}

// scriptError builds the error report for obj from the live stack.
func (b *Binding) scriptError(L *lua.LState, obj lua.LValue) *debug.ScriptError {
	frames := b.frames(L)
	ex := &debug.ScriptError{
		Class:   "runtime error",
		Message: obj.String(),
		Stack:   frames,
	}
	for i, f := range frames {
		if f.Unit != source.Unknown {
			ex.Unit, ex.Line = f.Unit, f.Line
			ex.Depth = len(frames) - 1 - i
			break
		}
	}
	return ex
}

// enter marks the binding as inside a tracer callback made from thread L,
// which is the main state or a coroutine. The returned func undoes it.
func (b *Binding) enter(L *lua.LState) func() {
	prev := b.hookL
	b.callbacks++
	b.hookL = L
	return func() {
		b.callbacks--
		b.hookL = prev
	}
}

// backtrace reports the live stack while the binding is inside a callback.
func (b *Binding) backtrace() []debug.Frame {
	if b.callbacks == 0 || b.state.IsClosed() {
		return nil
	}
	return b.frames(b.hookL)
}

// Eval evaluates expr in the suspended script. Locals of the innermost
// frame are visible; assignments to them do not change the frame. A
// statement is accepted when expr is not an expression.
func (b *Binding) Eval(expr string) (string, error) {
	if b.callbacks == 0 || b.state.IsClosed() {
		return "", ErrNotSuspended
	}
	L := b.hookL

	fn, err := b.state.CompilePlain("=eval", "return "+expr)
	if err != nil {
		if fn, err = b.state.CompilePlain("=eval", expr); err != nil {
			return "", err
		}
	}
	L.SetFEnv(fn, b.localEnv(L))

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return "", errors.New(errorMessage(err))
	}
	n := L.GetTop() - top
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, Format(L.Get(top+i)))
	}
	L.Pop(n)
	return strings.Join(parts, ", "), nil
}

// Locals returns the locals of the innermost suspended frame.
func (b *Binding) Locals() ([]Variable, error) {
	if b.callbacks == 0 || b.state.IsClosed() {
		return nil, ErrNotSuspended
	}
	return locals(b.hookL), nil
}

// localEnv builds an environment holding the suspended frame's locals and
// falling back to the globals.
func (b *Binding) localEnv(L *lua.LState) *lua.LTable {
	globals := L.Get(lua.GlobalsIndex)
	env := L.NewTable()
	for _, v := range locals(L) {
		env.RawSetString(v.Name, v.value)
	}
	mt := L.NewTable()
	mt.RawSetString("__index", globals)
	mt.RawSetString("__newindex", globals)
	L.SetMetatable(env, mt)
	return env
}

// Close detaches the binding from the tracer and closes its state.
func (b *Binding) Close() error {
	b.tracer.Detach(b.handle)
	return b.state.Close()
}

// errorMessage extracts the Lua error message from err.
func errorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Compile-time interface check.
var _ debug.Binding = (*Binding)(nil)
