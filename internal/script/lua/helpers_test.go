package lua

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/source"
)

type traceEvent struct {
	h     *debug.Handle
	unit  source.UnitID
	line  int
	depth int
}

// recordingTracer records callbacks and accepts one session at a time.
type recordingTracer struct {
	owner      *debug.Handle
	starts     int
	ends       int
	detached   []*debug.Handle
	traces     []traceEvent
	exceptions []*debug.ScriptError

	onTrace     func(ev traceEvent) error
	onException func(ex *debug.ScriptError) error
}

func (r *recordingTracer) Start(h *debug.Handle) error {
	if r.owner != nil {
		return debug.ErrSessionActive
	}
	r.owner = h
	r.starts++
	return nil
}

func (r *recordingTracer) End(h *debug.Handle) {
	if h == r.owner {
		r.owner = nil
		r.ends++
	}
}

func (r *recordingTracer) Trace(h *debug.Handle, unit source.UnitID, line, depth int) error {
	ev := traceEvent{h: h, unit: unit, line: line, depth: depth}
	r.traces = append(r.traces, ev)
	if r.onTrace != nil {
		return r.onTrace(ev)
	}
	return nil
}

func (r *recordingTracer) Exception(h *debug.Handle, ex *debug.ScriptError) error {
	r.exceptions = append(r.exceptions, ex)
	if r.onException != nil {
		return r.onException(ex)
	}
	return nil
}

func (r *recordingTracer) Detach(h *debug.Handle) {
	r.detached = append(r.detached, h)
}

func (r *recordingTracer) lines() []int {
	out := make([]int, len(r.traces))
	for i, ev := range r.traces {
		out[i] = ev.line
	}
	return out
}

type testBinding struct {
	*Binding
	tracer *recordingTracer
	reg    *source.Registry
	out    *bytes.Buffer
}

func newTestBinding(t *testing.T, opts ...Option) *testBinding {
	t.Helper()
	tb := &testBinding{
		tracer: &recordingTracer{},
		reg:    source.NewRegistry(),
		out:    &bytes.Buffer{},
	}
	all := append([]Option{WithStateOptions(WithOutput(tb.out))}, opts...)
	tb.Binding = NewBinding("main", tb.tracer, tb.reg, all...)
	t.Cleanup(func() { tb.Close() })
	return tb
}

// script returns a script for text registered under a path in dir.
func (tb *testBinding) script(t *testing.T, text string) debug.Script {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.lua")
	return debug.Script{Unit: tb.reg.ID(path), Path: path, Text: text}
}
