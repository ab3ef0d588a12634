package debug

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/source"
)

func TestControllerInitialState(t *testing.T) {
	e := newTestEnv(t)
	e.assertIdle()
	if e.ctl.IsRunning() || e.ctl.IsSuspended() {
		t.Error("new controller should be neither running nor suspended")
	}
	if _, ok := e.ctl.CurrentPosition(); ok {
		t.Error("CurrentPosition should report false when idle")
	}
	if e.ctl.Continue() || e.ctl.Step() || e.ctl.StepOver() || e.ctl.Pause() || e.ctl.Stop() {
		t.Error("commands should be rejected when idle")
	}
	info := e.ctl.Session()
	if info.CurrentStackDepth != -1 || info.StopAtDepth != -1 {
		t.Errorf("depths = %d/%d, want -1/-1", info.CurrentStackDepth, info.StopAtDepth)
	}
}

func TestControllerStartRejectsSecondSession(t *testing.T) {
	e := newTestEnv(t)
	h1, h2 := NewHandle("main"), NewHandle("aux")

	if err := e.ctl.Start(h1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.ctl.Start(h2); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}
	if err := e.ctl.Start(h1); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("repeated Start = %v, want ErrSessionActive", err)
	}

	info := e.ctl.Session()
	if info.State != StateRunning || info.Owner != "main" {
		t.Errorf("session = %+v, want running owned by main", info)
	}

	// A rejected binding's End does not close the owner's session.
	e.ctl.End(h2)
	if !e.ctl.IsRunning() {
		t.Fatal("End from non-owner closed the session")
	}
	e.ctl.End(h1)
	e.assertIdle()

	if err := e.ctl.Start(nil); !errors.Is(err, ErrNoBinding) {
		t.Errorf("Start(nil) = %v, want ErrNoBinding", err)
	}
	runtime.KeepAlive(h1)
}

func TestControllerStartClearsMarkers(t *testing.T) {
	e := newTestEnv(t)
	h := NewHandle("main")
	if err := e.ctl.Start(h); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, id := range []source.UnitID{e.unitA, e.unitB} {
		if line, ok := e.display.lines[id]; !ok || line != -1 {
			t.Errorf("unit %d marker = %d (%v), want -1", id, line, ok)
		}
	}
	runtime.KeepAlive(h)
}

func TestControllerBreakpointHit(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 10)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 9, 0},
		step{e.unitA, 10, 0},
		step{e.unitA, 11, 0},
	)
	e.then(cont)

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(e.suspensions) != 1 {
		t.Fatalf("suspensions = %d, want 1", len(e.suspensions))
	}
	s := e.suspensions[0]
	if s.info.Reason != StopBreakpoint {
		t.Errorf("reason = %v, want breakpoint", s.info.Reason)
	}
	if s.info.Position != (position.Position{Unit: e.unitA, Line: 10}) {
		t.Errorf("position = %v, want %d:10", s.info.Position, e.unitA)
	}
	if s.state != StateSuspended || s.by != b.h {
		t.Errorf("state=%v by=%v, want suspended by main", s.state, s.by)
	}
	if s.markers[e.unitA] != 10 || s.markers[e.unitB] != -1 {
		t.Errorf("markers = %v, want a=10 b=-1", s.markers)
	}
	if len(s.info.Frames) != 1 || s.info.Frames[0].Line != 10 || s.info.Frames[0].Source != "/scripts/a.lua" {
		t.Errorf("frames = %+v", s.info.Frames)
	}

	if len(b.traced) != 3 {
		t.Errorf("traced %d statements, want 3", len(b.traced))
	}
	e.assertIdle()
	if e.display.lines[e.unitA] != -1 {
		t.Errorf("marker not cleared: %d", e.display.lines[e.unitA])
	}
	if last := e.display.stacks[len(e.display.stacks)-1]; last != nil {
		t.Errorf("call stack not cleared: %+v", last)
	}

	want := []string{"idle>running", "running>suspended", "suspended>running", "running>idle"}
	if !slices.Equal(e.transitions, want) {
		t.Errorf("transitions = %v, want %v", e.transitions, want)
	}
}

func TestControllerBreakpointBacktrace(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 4)
	b := newScriptedBinding("main", e.ctl, step{e.unitA, 4, 1})
	b.h.SetBacktrace(func() []Frame {
		return []Frame{
			{Unit: e.unitA, Line: 4, Function: "inner"},
			{Unit: source.Unknown, Function: "pcall"},
			{Unit: e.unitA, Line: 12, Function: "main"},
		}
	})
	e.then(func(c *Controller) {
		if got := c.CallStack(); len(got) != 3 || got[2].Line != 12 {
			t.Errorf("CallStack = %+v", got)
		}
		c.Continue()
	})

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	frames := e.suspensions[0].info.Frames
	if frames[0].Source != "/scripts/a.lua" || frames[1].Source != "" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestControllerStepOverSkipsDeeperCalls(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 5)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 5, 1},
		step{e.unitA, 20, 2},
		step{e.unitA, 21, 2},
		step{e.unitA, 6, 1},
		step{e.unitA, 7, 1},
	)
	e.then(stepOver, cont)

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 2 {
		t.Fatalf("suspensions = %d, want 2", len(e.suspensions))
	}
	second := e.suspensions[1].info
	if second.Position.Line != 6 || second.Reason != StopStep {
		t.Errorf("second stop = %v (%v), want line 6 step", second.Position, second.Reason)
	}
	e.assertIdle()
}

func TestControllerBreakpointInsideSteppedOverCall(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 5)
	e.bps.Set(e.unitA, 21)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 5, 1},
		step{e.unitA, 20, 2},
		step{e.unitA, 21, 2},
	)
	e.then(stepOver, cont)

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 2 {
		t.Fatalf("suspensions = %d, want 2", len(e.suspensions))
	}
	second := e.suspensions[1].info
	if second.Position.Line != 21 || second.Reason != StopBreakpoint {
		t.Errorf("second stop = %v (%v), want line 21 breakpoint", second.Position, second.Reason)
	}
	e.assertIdle()
}

func TestControllerStepOverStopsAfterReturn(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 5)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 5, 1},
		step{e.unitA, 30, 0},
	)
	e.then(stepOver, cont)

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 2 || e.suspensions[1].info.Position.Line != 30 {
		t.Fatalf("suspensions = %+v, want stop at 30", e.suspensions)
	}
}

func TestControllerStepInto(t *testing.T) {
	e := newTestEnv(t)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 1, 0},
		step{e.unitA, 2, 1},
		step{e.unitA, 3, 1},
	)
	e.then(stepInto, cont)

	if err := e.run(b, RunStepInto); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 2 {
		t.Fatalf("suspensions = %d, want 2", len(e.suspensions))
	}
	for i, line := range []int{1, 2} {
		info := e.suspensions[i].info
		if info.Position.Line != line || info.Reason != StopStep {
			t.Errorf("stop %d = %v (%v), want line %d step", i, info.Position, info.Reason, line)
		}
	}
}

func TestControllerRunStepOverMode(t *testing.T) {
	e := newTestEnv(t)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 1, 1},
		step{e.unitA, 2, 0},
		step{e.unitA, 3, 0},
	)
	e.then(cont)

	if err := e.run(b, RunStepOver); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 1 || e.suspensions[0].info.Position.Line != 2 {
		t.Fatalf("suspensions = %+v, want one stop at line 2", e.suspensions)
	}

	// The mode applies to one run only.
	b2 := newScriptedBinding("main", e.ctl, step{e.unitA, 1, 0})
	if err := e.run(b2, RunContinue); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(e.suspensions) != 1 {
		t.Errorf("second run suspended")
	}
}

func TestControllerStopWhileSuspended(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 2)
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 1, 0},
		step{e.unitA, 2, 0},
		step{e.unitA, 3, 0},
	)
	e.then(stop)

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run = %v, want nil after stop", err)
	}
	if !errors.Is(b.result, ErrAbort) {
		t.Errorf("binding result = %v, want ErrAbort", b.result)
	}
	if len(b.traced) != 2 {
		t.Errorf("traced %d statements, want 2", len(b.traced))
	}
	e.assertIdle()

	want := []string{"idle>running", "running>suspended", "suspended>idle"}
	if !slices.Equal(e.transitions, want) {
		t.Errorf("transitions = %v, want %v", e.transitions, want)
	}

	// The cancelled owner unwound; a new session runs normally.
	e.bps.ClearAll()
	b2 := newScriptedBinding("main", e.ctl, step{e.unitA, 1, 0})
	if err := e.run(b2, RunContinue); err != nil || b2.result != nil {
		t.Fatalf("second Run = %v / %v", err, b2.result)
	}
}

func TestControllerAbortUntilOwnerUnwinds(t *testing.T) {
	e := newTestEnv(t, WithExceptionPolicy(NewStaticPolicy(true)))
	h1, h2 := NewHandle("main"), NewHandle("aux")

	if err := e.ctl.Start(h1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.ctl.Stop() {
		t.Fatal("Stop rejected")
	}
	if e.ctl.Stop() {
		t.Error("second Stop should be rejected")
	}

	if err := e.ctl.Trace(h2, e.unitA, 1, 0); !errors.Is(err, ErrAbort) {
		t.Errorf("nested Trace = %v, want ErrAbort", err)
	}
	if err := e.ctl.Exception(h2, &ScriptError{Unit: e.unitA, Line: 1}); !errors.Is(err, ErrAbort) {
		t.Errorf("nested Exception = %v, want ErrAbort", err)
	}

	// Only the cancelled owner clears the abort.
	e.ctl.End(h2)
	if err := e.ctl.Trace(h1, e.unitA, 1, 0); !errors.Is(err, ErrAbort) {
		t.Errorf("owner Trace = %v, want ErrAbort", err)
	}
	e.ctl.End(h1)

	if err := e.ctl.Trace(h1, e.unitA, 2, 0); err != nil {
		t.Errorf("late Trace = %v, want nil", err)
	}
	if err := e.ctl.Trace(h2, e.unitA, 2, 0); err != nil {
		t.Errorf("unrelated late Trace = %v, want nil", err)
	}
	if err := e.ctl.Start(h2); err != nil {
		t.Errorf("Start after unwind = %v", err)
	}
	runtime.KeepAlive(h1)
	runtime.KeepAlive(h2)
}

func TestControllerStartClearsPendingAbort(t *testing.T) {
	e := newTestEnv(t)
	h1, h2 := NewHandle("main"), NewHandle("other")
	e.ctl.Start(h1)
	e.ctl.Stop()

	// A binding that never called End does not poison the next session.
	if err := e.ctl.Start(h2); err != nil {
		t.Fatalf("Start = %v", err)
	}
	if err := e.ctl.Trace(h2, e.unitA, 1, 0); err != nil {
		t.Errorf("Trace = %v, want nil", err)
	}
	runtime.KeepAlive(h1)
}

func TestControllerDetach(t *testing.T) {
	e := newTestEnv(t)
	h := NewHandle("main")

	e.ctl.Start(h)
	e.ctl.Detach(NewHandle("stranger"))
	if !e.ctl.IsRunning() {
		t.Fatal("Detach of a stranger ended the session")
	}
	e.ctl.Detach(h)
	e.assertIdle()
	if err := e.ctl.Trace(h, e.unitA, 1, 0); err != nil {
		t.Errorf("Trace after detach = %v, want nil", err)
	}

	// Detach also releases a pending abort.
	e.ctl.Start(h)
	e.ctl.Stop()
	e.ctl.Detach(h)
	if err := e.ctl.Trace(h, e.unitA, 1, 0); err != nil {
		t.Errorf("Trace after stop+detach = %v, want nil", err)
	}
	runtime.KeepAlive(h)
}

func TestControllerSecondaryBindingBreakpoint(t *testing.T) {
	e := newTestEnv(t)
	hA, hB := NewHandle("main"), NewHandle("aux")

	if err := e.ctl.Start(hA); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.ctl.Start(hB); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Start(aux) = %v", err)
	}

	// A pause applies to the owner only.
	if !e.ctl.Pause() {
		t.Fatal("Pause rejected")
	}
	if err := e.ctl.Trace(hB, e.unitB, 1, 0); err != nil {
		t.Fatalf("Trace(aux) = %v", err)
	}
	if len(e.suspensions) != 0 {
		t.Fatal("secondary binding stopped on owner pause")
	}

	// Breakpoints apply to every binding.
	e.bps.Set(e.unitB, 2)
	e.then(cont, cont)
	if err := e.ctl.Trace(hB, e.unitB, 2, 0); err != nil {
		t.Fatalf("Trace(aux, bp) = %v", err)
	}
	if len(e.suspensions) != 1 || e.suspensions[0].by != hB {
		t.Fatalf("suspensions = %+v, want one in aux", e.suspensions)
	}
	if e.suspensions[0].info.Binding != "aux" {
		t.Errorf("binding = %q, want aux", e.suspensions[0].info.Binding)
	}

	// The continue above cleared the pause.
	if err := e.ctl.Trace(hA, e.unitA, 1, 0); err != nil {
		t.Fatalf("Trace(main) = %v", err)
	}
	if len(e.suspensions) != 1 {
		t.Errorf("owner stopped after continue")
	}
	runtime.KeepAlive(hA)
	runtime.KeepAlive(hB)
}

func TestControllerPauseReason(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := newTestEnv(t, WithClock(clock.Now), WithTiming(Timing{TickInterval: 1}))
	h := NewHandle("main")
	e.ctl.Start(h)

	e.pump.Post(func() { e.ctl.Pause() })
	clock.Advance(time.Second)
	if err := e.ctl.Trace(h, e.unitA, 1, 0); err != nil {
		t.Fatalf("Trace = %v", err)
	}
	if e.pump.ProcessCalls != 1 {
		t.Fatalf("ProcessCalls = %d, want 1", e.pump.ProcessCalls)
	}

	e.then(cont)
	if err := e.ctl.Trace(h, e.unitA, 2, 0); err != nil {
		t.Fatalf("Trace = %v", err)
	}
	if len(e.suspensions) != 1 || e.suspensions[0].info.Reason != StopPause {
		t.Fatalf("suspensions = %+v, want one pause", e.suspensions)
	}
	runtime.KeepAlive(h)
}

func TestControllerStopWhileRunning(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := newTestEnv(t, WithClock(clock.Now), WithTiming(Timing{TickInterval: 1}))
	b := newScriptedBinding("main", e.ctl,
		step{e.unitA, 1, 0},
		step{e.unitA, 2, 0},
	)
	e.pump.Post(func() { e.ctl.Stop() })
	b.before = func(int) { clock.Advance(time.Second) }

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !errors.Is(b.result, ErrAbort) || len(b.traced) != 1 {
		t.Errorf("result=%v traced=%d, want abort after 1", b.result, len(b.traced))
	}
	e.assertIdle()
}

func TestControllerTraceDuringSuspensionIgnored(t *testing.T) {
	e := newTestEnv(t, WithExceptionPolicy(NewStaticPolicy(true)))
	p := &stubPresenter{action: ActionDebug}
	e.ctl.presenter = p
	e.bps.Set(e.unitA, 10)
	b := newScriptedBinding("main", e.ctl, step{e.unitA, 10, 0})

	e.then(func(c *Controller) {
		// An evaluation in the suspended interpreter reports traces and
		// errors of its own.
		if err := c.Trace(b.h, e.unitA, 10, 0); err != nil {
			t.Errorf("nested Trace = %v", err)
		}
		if err := c.Exception(b.h, &ScriptError{Unit: e.unitA, Line: 10}); err != nil {
			t.Errorf("nested Exception = %v", err)
		}
		c.Continue()
	})

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.suspensions) != 1 {
		t.Errorf("suspensions = %d, want 1", len(e.suspensions))
	}
	if p.calls != 0 {
		t.Errorf("presenter called %d times during suspension", p.calls)
	}
}

func TestControllerBusyHostIgnoresCallbacks(t *testing.T) {
	p := &stubPresenter{action: ActionDebug}
	e := newTestEnv(t, WithExceptionPolicy(NewStaticPolicy(true)), WithPresenter(p))
	h := NewHandle("main")
	e.bps.Set(e.unitA, 1)
	e.ctl.Start(h)

	e.pump.SetBusy(true)
	if err := e.ctl.Trace(h, e.unitA, 1, 0); err != nil {
		t.Errorf("Trace = %v", err)
	}
	if err := e.ctl.Exception(h, &ScriptError{Unit: e.unitA, Line: 1}); err != nil {
		t.Errorf("Exception = %v", err)
	}
	if len(e.suspensions) != 0 || p.calls != 0 {
		t.Errorf("suspensions=%d presenter=%d, want none", len(e.suspensions), p.calls)
	}
	runtime.KeepAlive(h)
}

func TestControllerUnknownUnitNeverStops(t *testing.T) {
	e := newTestEnv(t)
	h := NewHandle("main")
	e.ctl.Start(h)
	e.ctl.Pause()

	if err := e.ctl.Trace(h, source.Unknown, 5, 0); err != nil {
		t.Errorf("Trace = %v", err)
	}
	// A pseudo id without an expander resolves to the unknown unit.
	if err := e.ctl.Trace(h, e.reg.PseudoOffset()+3, 5, 0); err != nil {
		t.Errorf("Trace = %v", err)
	}
	if len(e.suspensions) != 0 {
		t.Errorf("suspended at unknown position")
	}
	runtime.KeepAlive(h)
}

func TestControllerPseudoUnitBreakpoint(t *testing.T) {
	e := newTestEnv(t)
	pseudo := e.reg.AddExpander(mapExpander{
		12: {path: "/scripts/b.lua", line: 2},
	})
	e.bps.Set(e.unitB, 2)
	h := NewHandle("main")
	e.ctl.Start(h)
	e.then(cont)

	if err := e.ctl.Trace(h, pseudo, 12, 0); err != nil {
		t.Fatalf("Trace = %v", err)
	}
	if len(e.suspensions) != 1 {
		t.Fatalf("suspensions = %d, want 1", len(e.suspensions))
	}
	s := e.suspensions[0]
	if s.info.Position != (position.Position{Unit: e.unitB, Line: 2}) {
		t.Errorf("position = %v", s.info.Position)
	}
	if s.markers[e.unitB] != 2 || s.markers[e.unitA] != -1 {
		t.Errorf("markers = %v", s.markers)
	}
	runtime.KeepAlive(h)
}

func TestControllerNestedBindingRun(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitB, 2)

	main := newScriptedBinding("main", e.ctl,
		step{e.unitA, 1, 0},
		step{e.unitA, 2, 0},
	)
	aux := newScriptedBinding("aux", e.ctl,
		step{e.unitB, 1, 0},
		step{e.unitB, 2, 0},
	)
	main.before = func(i int) {
		if i == 1 {
			if err := aux.Run(context.Background(), Script{Path: "/scripts/b.lua"}); err != nil {
				t.Errorf("aux Run = %v", err)
			}
		}
	}
	e.then(cont)

	if err := e.run(main, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(aux.startErr, ErrSessionActive) {
		t.Errorf("aux start = %v, want ErrSessionActive", aux.startErr)
	}
	if len(e.suspensions) != 1 || e.suspensions[0].by != aux.h {
		t.Fatalf("suspensions = %+v, want one in aux", e.suspensions)
	}
	if len(main.traced) != 2 {
		t.Errorf("main traced %d, want 2", len(main.traced))
	}
	e.assertIdle()
}

func TestControllerModalDuringSuspension(t *testing.T) {
	e := newTestEnv(t)
	e.bps.Set(e.unitA, 1)
	b := newScriptedBinding("main", e.ctl, step{e.unitA, 1, 0})

	e.then(func(c *Controller) {
		e.pump.SetModal(true)
		e.pump.Post(func() { e.pump.SetModal(false) })
		e.pump.Post(func() { c.Continue() })
	})

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !slices.Equal(e.display.visible, []bool{false, true}) {
		t.Errorf("visibility = %v, want [false true]", e.display.visible)
	}
	e.assertIdle()
}

func TestControllerAdaptivePump(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := newTestEnv(t,
		WithClock(clock.Now),
		WithTiming(Timing{
			TickInterval:    2,
			MinPumpInterval: 50 * time.Millisecond,
			MaxPumpInterval: 2 * time.Second,
			PumpFactor:      5,
		}),
	)
	pumpCost := 30 * time.Millisecond
	e.pump.OnProcess = func() { clock.Advance(pumpCost) }

	h := NewHandle("main")
	e.ctl.Start(h)
	trace := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			if err := e.ctl.Trace(h, e.unitA, 1, 0); err != nil {
				t.Fatalf("Trace = %v", err)
			}
		}
	}

	trace(2)
	if e.pump.ProcessCalls != 0 {
		t.Fatalf("pumped before the interval passed")
	}

	clock.Advance(100 * time.Millisecond)
	trace(1)
	if e.pump.ProcessCalls != 0 {
		t.Fatalf("pumped off the tick interval")
	}
	trace(1)
	if e.pump.ProcessCalls != 1 {
		t.Fatalf("ProcessCalls = %d, want 1", e.pump.ProcessCalls)
	}
	if got := e.ctl.Session().PumpInterval; got != 150*time.Millisecond {
		t.Errorf("interval = %v, want 150ms", got)
	}

	clock.Advance(100 * time.Millisecond)
	trace(2)
	if e.pump.ProcessCalls != 1 {
		t.Errorf("pumped within the adaptive interval")
	}

	pumpCost = time.Second
	clock.Advance(100 * time.Millisecond)
	trace(2)
	if e.pump.ProcessCalls != 2 {
		t.Fatalf("ProcessCalls = %d, want 2", e.pump.ProcessCalls)
	}
	if got := e.ctl.Session().PumpInterval; got != 2*time.Second {
		t.Errorf("interval = %v, want clamp to 2s", got)
	}

	pumpCost = time.Millisecond
	clock.Advance(3 * time.Second)
	trace(2)
	if got := e.ctl.Session().PumpInterval; got != 50*time.Millisecond {
		t.Errorf("interval = %v, want clamp to 50ms", got)
	}
	if e.ctl.Session().Ticks != 10 {
		t.Errorf("ticks = %d, want 10", e.ctl.Session().Ticks)
	}
	runtime.KeepAlive(h)
}

func TestControllerRun(t *testing.T) {
	e := newTestEnv(t)

	if err := e.ctl.Run(context.Background(), nil, Script{}, RunContinue); !errors.Is(err, ErrNoBinding) {
		t.Errorf("Run(nil) = %v, want ErrNoBinding", err)
	}

	scriptErr := &ScriptError{Class: "runtime", Message: "boom", Unit: e.unitA, Line: 3}
	b := newScriptedBinding("main", e.ctl, step{e.unitA, 3, 0})
	b.raise = scriptErr
	err := e.run(b, RunContinue)
	var se *ScriptError
	if !errors.As(err, &se) || se != scriptErr {
		t.Errorf("Run = %v, want script error", err)
	}

	exit := &exitBinding{h: NewHandle("exit"), ctl: e.ctl}
	if err := e.run(exit, RunContinue); err != nil {
		t.Errorf("Run = %v, want nil for script exit", err)
	}

	h := NewHandle("owner")
	e.ctl.Start(h)
	if err := e.run(newScriptedBinding("x", e.ctl), RunContinue); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Run while active = %v, want ErrSessionActive", err)
	}
	runtime.KeepAlive(h)
}

type exitBinding struct {
	h   *Handle
	ctl *Controller
}

func (b *exitBinding) Handle() *Handle { return b.h }

func (b *exitBinding) Run(ctx context.Context, script Script) error {
	if err := b.ctl.Start(b.h); err != nil {
		return err
	}
	defer b.ctl.End(b.h)
	return ErrScriptExit
}

func TestTimingNormalized(t *testing.T) {
	if got := (Timing{}).normalized(); got != DefaultTiming() {
		t.Errorf("normalized zero timing = %+v, want defaults", got)
	}
	got := Timing{TickInterval: 5, MinPumpInterval: time.Second, MaxPumpInterval: time.Millisecond}.normalized()
	if got.MaxPumpInterval != time.Second {
		t.Errorf("max = %v, want raised to min", got.MaxPumpInterval)
	}

	// An unset maximum keeps the default ceiling, not the minimum.
	got = Timing{TickInterval: 20, MinPumpInterval: 50 * time.Millisecond, PumpFactor: 5}.normalized()
	if got.MaxPumpInterval != DefaultMaxPumpInterval {
		t.Errorf("max = %v, want %v", got.MaxPumpInterval, DefaultMaxPumpInterval)
	}
	if next := got.next(time.Second); next != 2*time.Second {
		t.Errorf("next(1s) = %v, want 2s", next)
	}

	d := DefaultTiming()
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 50 * time.Millisecond},
		{20 * time.Millisecond, 100 * time.Millisecond},
		{time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := d.next(tt.elapsed); got != tt.want {
			t.Errorf("next(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestControllerExceptionPolicyOff(t *testing.T) {
	p := &stubPresenter{action: ActionDebug}
	e := newTestEnv(t, WithPresenter(p))
	h := NewHandle("main")
	e.ctl.Start(h)

	if err := e.ctl.Exception(h, &ScriptError{Unit: e.unitA, Line: 3}); err != nil {
		t.Errorf("Exception = %v", err)
	}
	if p.calls != 0 {
		t.Errorf("presenter called with policy off")
	}
	runtime.KeepAlive(h)
}

func TestControllerExceptionActions(t *testing.T) {
	tests := []struct {
		name        string
		action      ExceptionAction
		ignored     []string
		ex          func(e *testEnv) *ScriptError
		wantCalls   int
		wantAt      position.Position
		wantSuspend bool
		wantIgnored bool
	}{
		{
			name:      "continue",
			action:    ActionContinue,
			ex:        func(e *testEnv) *ScriptError { return &ScriptError{Unit: e.unitA, Line: 3} },
			wantCalls: 1,
			wantAt:    position.Position{Line: 3},
		},
		{
			name:        "ignore file",
			action:      ActionIgnoreFile,
			ex:          func(e *testEnv) *ScriptError { return &ScriptError{Unit: e.unitA, Line: 3} },
			wantCalls:   1,
			wantAt:      position.Position{Line: 3},
			wantIgnored: true,
		},
		{
			name:        "debug",
			action:      ActionDebug,
			ex:          func(e *testEnv) *ScriptError { return &ScriptError{Unit: e.unitA, Line: 3, Depth: 2} },
			wantCalls:   1,
			wantAt:      position.Position{Line: 3},
			wantSuspend: true,
		},
		{
			name:    "already ignored",
			action:  ActionDebug,
			ignored: []string{"/scripts/a.lua"},
			ex:      func(e *testEnv) *ScriptError { return &ScriptError{Unit: e.unitA, Line: 3} },
		},
		{
			name:   "first known frame",
			action: ActionContinue,
			ex: func(e *testEnv) *ScriptError {
				return &ScriptError{Stack: []Frame{
					{Function: "error"},
					{Unit: e.unitA, Line: 7, Function: "f"},
				}}
			},
			wantCalls: 1,
			wantAt:    position.Position{Line: 7},
		},
		{
			name:   "no known frame",
			action: ActionDebug,
			ex: func(e *testEnv) *ScriptError {
				return &ScriptError{Stack: []Frame{{Function: "error"}}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPresenter{action: tt.action}
			policy := NewStaticPolicy(true, tt.ignored...)
			e := newTestEnv(t, WithPresenter(p), WithExceptionPolicy(policy))
			h := NewHandle("main")
			e.ctl.Start(h)
			if tt.wantSuspend {
				e.then(cont)
			}

			ex := tt.ex(e)
			if err := e.ctl.Exception(h, ex); err != nil {
				t.Fatalf("Exception = %v", err)
			}

			if p.calls != tt.wantCalls {
				t.Fatalf("presenter calls = %d, want %d", p.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 {
				want := tt.wantAt
				want.Unit = e.unitA
				if p.at != want || p.last != ex {
					t.Errorf("presented at %v, want %v", p.at, want)
				}
			}
			if got := len(e.suspensions) == 1; got != tt.wantSuspend {
				t.Errorf("suspended = %v, want %v", got, tt.wantSuspend)
			}
			if tt.wantSuspend {
				info := e.suspensions[0].info
				if info.Reason != StopException || info.Error != ex {
					t.Errorf("suspension = %+v", info)
				}
				if len(e.display.errorLines) != 1 || e.display.errorLines[0].Line != 3 {
					t.Errorf("error lines = %v", e.display.errorLines)
				}
				if d := e.ctl.Session().CurrentStackDepth; d != -1 {
					t.Errorf("stack depth after exception = %d, want -1", d)
				}
			}
			if policy.IsIgnored("/scripts/a.lua") != (tt.wantIgnored || len(tt.ignored) > 0) {
				t.Errorf("ignored = %v", policy.IsIgnored("/scripts/a.lua"))
			}
			if !e.ctl.IsRunning() {
				t.Error("exception ended the session")
			}
			runtime.KeepAlive(h)
		})
	}
}

func TestControllerStopFromExceptionPrompt(t *testing.T) {
	p := &stubPresenter{action: ActionDebug}
	e := newTestEnv(t, WithPresenter(p), WithExceptionPolicy(NewStaticPolicy(true)))
	p.hook = func() { e.ctl.Stop() }

	b := newScriptedBinding("main", e.ctl, step{e.unitA, 1, 0})
	b.raise = &ScriptError{Unit: e.unitA, Line: 1}

	if err := e.run(b, RunContinue); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !errors.Is(b.result, ErrAbort) {
		t.Errorf("binding result = %v, want ErrAbort", b.result)
	}
	if len(e.suspensions) != 0 {
		t.Error("suspended after stop")
	}
	e.assertIdle()
}
