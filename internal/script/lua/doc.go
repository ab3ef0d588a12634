// Package lua binds gopher-lua interpreters to the debugger.
//
// Scripts are parsed, instrumented with a trace call in front of every
// statement and compiled; the trace call reports (unit, line, depth) to a
// debug.Tracer, which may block it while execution is suspended.
//
// # State
//
// State is a sandboxed LState: io, os and debug are only reachable through
// capabilities, load and dofile are removed, and print writes to the
// configured output.
//
//	state := lua.NewState(
//	    lua.WithOutput(os.Stdout),
//	    lua.WithCapabilities(lua.CapabilityOS),
//	)
//	defer state.Close()
//
// # Binding
//
// A Binding owns one State and reports to the controller:
//
//	main := lua.NewBinding("main", ctl, registry)
//	defer main.Close()
//	err := ctl.Run(ctx, main, debug.Script{Path: "main.lua"}, debug.RunStepInto)
//
// While suspended inside a binding, Eval and Locals inspect the innermost
// script frame.
//
// A binding created WithPeer exposes another binding to its scripts, so a
// script can run a file in a second interpreter; that interpreter runs as a
// secondary binding of the active session.
package lua
