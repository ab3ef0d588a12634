package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/source"
)

// maxFrames bounds stack walks.
const maxFrames = 512

// frames returns the call stack innermost first, without the Go callback
// frame at level 0 that is asking. Inside a coroutine the frames of the
// resuming threads follow the coroutine's own.
func (b *Binding) frames(L *lua.LState) []debug.Frame {
	var out []debug.Frame
	first := 1
	for th := L; th != nil; th = th.Parent {
		out = b.threadFrames(th, first, out)
		first = 0
	}
	return out
}

func (b *Binding) threadFrames(L *lua.LState, first int, out []debug.Frame) []debug.Frame {
	for level := first; len(out) < maxFrames; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("Sln", dbg, lua.LNil); err != nil {
			break
		}
		f := debug.Frame{Function: dbg.Name}
		if dbg.What == "G" {
			f.Source = "[Go]"
		} else {
			f.Source = dbg.Source
			f.Line = dbg.CurrentLine
			f.Unit = b.unitOf(dbg.Source)
		}
		out = append(out, f)
	}
	return out
}

// depth returns the stack depth of the statement calling the trace hook.
// The outermost chunk level is 0. A coroutine's frames sit on top of the
// frames of the thread that resumed it.
func depth(L *lua.LState) int {
	n := 0
	for th := L; th != nil; th = th.Parent {
		n += stackLen(th)
	}
	return max(0, n-2)
}

// stackLen counts the call frames of one thread.
func stackLen(L *lua.LState) int {
	n := 0
	for n < maxFrames {
		if _, ok := L.GetStack(n); !ok {
			break
		}
		n++
	}
	return n
}

// unitOf maps a chunk name back to its unit.
func (b *Binding) unitOf(chunk string) source.UnitID {
	if id, ok := b.chunks[chunk]; ok {
		return id
	}
	return source.Unknown
}

// scriptFrame returns the innermost Lua frame below the callback frame.
func scriptFrame(L *lua.LState) (*lua.Debug, bool) {
	for level := 1; level < maxFrames; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			return nil, false
		}
		if _, err := L.GetInfo("S", dbg, lua.LNil); err != nil {
			return nil, false
		}
		if dbg.What != "G" {
			return dbg, true
		}
	}
	return nil, false
}

// Variable is a local variable of a suspended frame.
type Variable struct {
	Name  string
	Type  string
	Value string

	value lua.LValue
}

// locals returns the visible locals of the innermost Lua frame. Inner
// declarations shadow outer ones.
func locals(L *lua.LState) []Variable {
	dbg, ok := scriptFrame(L)
	if !ok {
		return nil
	}
	var out []Variable
	index := make(map[string]int)
	for n := 1; n < 256; n++ {
		name, value := L.GetLocal(dbg, n)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") || name == TraceName {
			continue
		}
		v := Variable{
			Name:  name,
			Type:  value.Type().String(),
			Value: Format(value),
			value: value,
		}
		if i, ok := index[name]; ok {
			out[i] = v
			continue
		}
		index[name] = len(out)
		out = append(out, v)
	}
	return out
}
