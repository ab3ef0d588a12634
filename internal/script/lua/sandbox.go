package lua

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts what debugged scripts can reach.
type Sandbox struct {
	L      *lua.LState
	output io.Writer

	statementLimit int64
	statementCount int64

	capabilities map[Capability]bool
	started      time.Time
}

// Capability represents a permission that can be granted to scripts.
type Capability string

// Available capabilities.
const (
	CapabilityFileRead Capability = "filesystem.read"
	CapabilityOS       Capability = "os"
	CapabilityUnsafe   Capability = "unsafe" // Full Lua stdlib access
)

// ParseCapability returns the capability with the given name.
func ParseCapability(name string) (Capability, bool) {
	switch c := Capability(strings.TrimSpace(name)); c {
	case CapabilityFileRead, CapabilityOS, CapabilityUnsafe:
		return c, true
	}
	return "", false
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, output io.Writer, statementLimit int64) *Sandbox {
	return &Sandbox{
		L:              L,
		output:         output,
		statementLimit: statementLimit,
		capabilities:   make(map[Capability]bool),
		started:        time.Now(),
	}
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installRequire()
}

// installPrint replaces print with a version writing to the sandbox output.
func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(s.output, strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire limits require to built-in and preloaded modules.
func (s *Sandbox) installRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true, "table": true, "math": true, "coroutine": true,
	}
	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		var granted bool
		switch modName {
		case "io":
			granted = s.capabilities[CapabilityFileRead] || s.capabilities[CapabilityUnsafe]
		case "os":
			granted = s.capabilities[CapabilityOS] || s.capabilities[CapabilityUnsafe]
		case "debug":
			granted = s.capabilities[CapabilityUnsafe]
		default:
			if !safeModules[modName] && !s.preloaded(modName) {
				L.RaiseError("module %q is not available", modName)
				return 0
			}
		}
		if granted {
			// Capability modules are installed as globals.
			L.Push(L.GetGlobal(modName))
			return 1
		}
		if modName == "io" || modName == "os" || modName == "debug" {
			L.RaiseError("module %q requires a capability", modName)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// preloaded reports whether a module was registered with PreloadModule.
func (s *Sandbox) preloaded(name string) bool {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return false
	}
	preload, ok := s.L.GetField(pkg, "preload").(*lua.LTable)
	if !ok {
		return false
	}
	return preload.RawGetString(name) != lua.LNil
}

// ResetStatementCount resets the statement counter.
func (s *Sandbox) ResetStatementCount() {
	s.statementCount = 0
}

// StatementCount returns the statements executed since the last reset.
func (s *Sandbox) StatementCount() int64 {
	return s.statementCount
}

// CountStatement adds one statement and returns true if the limit is exceeded.
func (s *Sandbox) CountStatement() bool {
	s.statementCount++
	return s.statementLimit > 0 && s.statementCount > s.statementLimit
}

// Grant enables a capability.
func (s *Sandbox) Grant(c Capability) {
	if s.capabilities[c] {
		return
	}
	s.capabilities[c] = true

	switch c {
	case CapabilityFileRead:
		s.injectFileReadAPI()
	case CapabilityOS:
		s.injectOSAPI()
	case CapabilityUnsafe:
		lua.OpenIo(s.L)
		lua.OpenOs(s.L)
		lua.OpenDebug(s.L)
	}
}

// HasCapability returns true if the capability is granted.
func (s *Sandbox) HasCapability(c Capability) bool {
	return s.capabilities[c]
}

// injectFileReadAPI adds a read-only io table.
func (s *Sandbox) injectFileReadAPI() {
	ioMod := s.L.NewTable()

	s.L.SetField(ioMod, "lines", s.L.NewFunction(func(L *lua.LState) int {
		content, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		lines := splitLines(string(content))
		idx := 0
		L.Push(L.NewFunction(func(L *lua.LState) int {
			if idx >= len(lines) {
				return 0
			}
			L.Push(lua.LString(lines[idx]))
			idx++
			return 1
		}))
		return 1
	}))

	s.L.SetField(ioMod, "readfile", s.L.NewFunction(func(L *lua.LState) int {
		content, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(content))
		return 1
	}))

	s.L.SetGlobal("io", ioMod)
}

// injectOSAPI adds the side-effect free parts of os.
func (s *Sandbox) injectOSAPI() {
	osMod := s.L.NewTable()

	s.L.SetField(osMod, "getenv", s.L.NewFunction(func(L *lua.LState) int {
		value, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))

	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))

	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(s.started).Seconds()))
		return 1
	}))

	s.L.SetGlobal("os", osMod)
}

// splitLines splits a string into lines.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
