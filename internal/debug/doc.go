// Package debug implements the control core of the script debugger.
//
// The Controller attaches to one or more interpreter bindings, receives a
// trace callback per executed statement and an exception callback per
// unhandled script error, and decides whether execution continues or
// suspends. While suspended it pumps the host event loop until the user
// resumes, so that the host stays responsive without running scripts
// re-entrantly.
//
// # Session States
//
//	Idle ──Start──▶ Running ──breakpoint/step/exception──▶ Suspended
//	 ▲                │  ▲                                    │
//	 └──End/Stop──────┘  └──────continue/step/step over───────┘
//
// Exactly one session exists at a time. Start from a second binding while a
// session is active is rejected with ErrSessionActive; that binding keeps
// running as a secondary interpreter whose traces can still hit breakpoints.
//
// # Cancellation
//
// Stop ends the session immediately. The next callback from a binding that
// has not unwound yet returns ErrAbort, which bindings must propagate to
// their Run call without letting script code catch it.
//
// # Usage
//
//	ctl := debug.NewController(registry, resolver, breakpoints, loop,
//	    debug.WithDisplay(console),
//	    debug.WithPresenter(console),
//	    debug.WithExceptionPolicy(cfg.ExceptionPolicy()),
//	)
//
//	binding := lua.NewBinding("main", ctl, registry)
//	err := ctl.Run(ctx, binding, debug.Script{Path: "main.lua"}, debug.RunContinue)
package debug
