package debug

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/pump"
	"github.com/dshills/scriptdbg/internal/source"
)

// recordingDisplay records every display update.
type recordingDisplay struct {
	lines      map[source.UnitID]int
	suspended  map[source.UnitID]bool
	stacks     [][]Frame
	errorLines []position.Position
	visible    []bool
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{
		lines:     make(map[source.UnitID]int),
		suspended: make(map[source.UnitID]bool),
	}
}

func (d *recordingDisplay) SetCurrentLine(unit source.UnitID, line int, suspended bool) {
	d.lines[unit] = line
	d.suspended[unit] = suspended
}

func (d *recordingDisplay) ShowCallStack(frames []Frame) {
	d.stacks = append(d.stacks, frames)
}

func (d *recordingDisplay) ShowErrorLine(unit source.UnitID, line int) {
	d.errorLines = append(d.errorLines, position.Position{Unit: unit, Line: line})
}

func (d *recordingDisplay) SetVisible(visible bool) {
	d.visible = append(d.visible, visible)
}

// stubPresenter answers every exception with a fixed action.
type stubPresenter struct {
	action ExceptionAction
	calls  int
	last   *ScriptError
	at     position.Position
	hook   func()
}

func (p *stubPresenter) PresentException(ex *ScriptError, at position.Position) ExceptionAction {
	p.calls++
	p.last = ex
	p.at = at
	if p.hook != nil {
		p.hook()
	}
	return p.action
}

// step is one scripted trace.
type step struct {
	unit  source.UnitID
	line  int
	depth int
}

// scriptedBinding replays a fixed list of traces through the controller
// the way an interpreter binding reports them.
type scriptedBinding struct {
	h      *Handle
	ctl    *Controller
	steps  []step
	raise  *ScriptError
	before func(i int)

	traced   []step
	startErr error
	result   error
}

func newScriptedBinding(name string, ctl *Controller, steps ...step) *scriptedBinding {
	return &scriptedBinding{h: NewHandle(name), ctl: ctl, steps: steps}
}

func (b *scriptedBinding) Handle() *Handle { return b.h }

func (b *scriptedBinding) Run(ctx context.Context, script Script) (err error) {
	defer func() { b.result = err }()
	b.startErr = b.ctl.Start(b.h)
	if b.startErr == nil {
		defer b.ctl.End(b.h)
	}
	for i, s := range b.steps {
		if b.before != nil {
			b.before(i)
		}
		b.traced = append(b.traced, s)
		if err := b.ctl.Trace(b.h, s.unit, s.line, s.depth); err != nil {
			return err
		}
	}
	if b.raise != nil {
		if err := b.ctl.Exception(b.h, b.raise); err != nil {
			return err
		}
		return b.raise
	}
	return nil
}

// suspension is one recorded OnSuspended call.
type suspension struct {
	info    SuspendInfo
	state   State
	by      *Handle
	markers map[source.UnitID]int
}

type testEnv struct {
	t       *testing.T
	reg     *source.Registry
	bps     *breakpoint.Store
	pump    *pump.Fake
	display *recordingDisplay
	ctl     *Controller

	unitA source.UnitID
	unitB source.UnitID

	suspensions []suspension
	transitions []string

	// commands are posted one per suspension, in order.
	commands []func(c *Controller)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	e := &testEnv{
		t:       t,
		reg:     source.NewRegistry(),
		bps:     breakpoint.NewStore(),
		pump:    pump.NewFake(),
		display: newRecordingDisplay(),
	}
	e.unitA = e.reg.ID("/scripts/a.lua")
	e.unitB = e.reg.ID("/scripts/b.lua")

	all := append([]Option{WithDisplay(e.display)}, opts...)
	e.ctl = NewController(e.reg, position.NewResolver(e.reg), e.bps, e.pump, all...)
	e.ctl.SetHandlers(Handlers{
		OnStateChanged: func(from, to State) {
			e.transitions = append(e.transitions, from.String()+">"+to.String())
		},
		OnSuspended: func(info SuspendInfo) {
			e.suspensions = append(e.suspensions, suspension{
				info:    info,
				state:   e.ctl.State(),
				by:      e.ctl.SuspendedBy(),
				markers: maps.Clone(e.display.lines),
			})
			if len(e.commands) == 0 {
				return
			}
			cmd := e.commands[0]
			e.commands = e.commands[1:]
			e.pump.Post(func() { cmd(e.ctl) })
		},
	})
	return e
}

func (e *testEnv) then(cmds ...func(c *Controller)) {
	e.commands = append(e.commands, cmds...)
}

func (e *testEnv) run(b Binding, mode RunMode) error {
	e.t.Helper()
	return e.ctl.Run(context.Background(), b, Script{Path: "/scripts/a.lua"}, mode)
}

func (e *testEnv) assertIdle() {
	e.t.Helper()
	if st := e.ctl.State(); st != StateIdle {
		e.t.Fatalf("state = %v, want idle", st)
	}
}

func cont(c *Controller)     { c.Continue() }
func stepInto(c *Controller) { c.Step() }
func stepOver(c *Controller) { c.StepOver() }
func stop(c *Controller)     { c.Stop() }

// mapExpander maps pseudo lines to file positions.
type mapExpander map[int]struct {
	path string
	line int
}

func (m mapExpander) Translate(line int) (string, int) {
	p, ok := m[line]
	if !ok {
		return "", 0
	}
	return p.path, p.line
}

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
