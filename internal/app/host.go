package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/script/lua"
	"github.com/dshills/scriptdbg/internal/source"
)

// host runs the console operations that need the interpreters or files.
// All methods are called on the loop goroutine.
type host struct {
	app *Application
}

// Run executes path in the main interpreter and blocks until it ends.
func (h *host) Run(path string, mode debug.RunMode) error {
	script, err := h.app.prepare(path)
	if err != nil {
		return NewOperationError("run", path, err)
	}
	if err := h.app.controller.Run(h.app.runCtx, h.app.main, script, mode); err != nil {
		return NewOperationError("run", path, err)
	}
	return nil
}

// Eval evaluates expr in whichever interpreter is suspended.
func (h *host) Eval(expr string) (string, error) {
	b, err := h.app.suspended()
	if err != nil {
		return "", err
	}
	return b.Eval(expr)
}

// Locals lists the suspended frame's locals.
func (h *host) Locals() ([]string, error) {
	b, err := h.app.suspended()
	if err != nil {
		return nil, err
	}
	vars, err := b.Locals()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, fmt.Sprintf("%s = %s", v.Name, v.Value))
	}
	return out, nil
}

// SaveBreakpoints writes the breakpoint file.
func (h *host) SaveBreakpoints() error {
	return h.app.SaveBreakpoints()
}

// Quit closes the loop.
func (h *host) Quit() {
	h.app.loop.Close()
}

// suspended returns the binding the controller is suspended in.
func (app *Application) suspended() (*lua.Binding, error) {
	owner := app.controller.SuspendedBy()
	for _, b := range []*lua.Binding{app.main, app.aux} {
		if owner != nil && b.Handle() == owner {
			return b, nil
		}
	}
	return nil, lua.ErrNotSuspended
}

// prepare reads a script and expands its include directives. A script
// with includes runs under a pseudo unit whose lines the resolver maps back
// to the included files.
func (app *Application) prepare(path string) (debug.Script, error) {
	exp, err := source.ExpandIncludes(path, os.ReadFile)
	if err != nil {
		return debug.Script{}, err
	}
	app.registry.ResetExpanders()
	app.resolver.Reset()
	if !exp.HasIncludes() {
		return debug.Script{Unit: app.registry.ID(path), Path: path, Text: exp.Text()}, nil
	}
	unit := app.registry.AddExpander(exp)
	app.log.Debug("expanded %s to %d lines as unit %d", path, exp.LineCount(), unit)
	return debug.Script{Unit: unit, Path: path, Text: exp.Text()}, nil
}

// SaveBreakpoints writes the breakpoint store to the breakpoint file.
func (app *Application) SaveBreakpoints() error {
	if app.bpPath == "" {
		return ErrNoBreakpointFile
	}
	if err := app.breakpoints.Save(app.bpPath, app.registry); err != nil {
		return NewOperationError("save", app.bpPath, err)
	}
	app.log.Info("saved %d breakpoints to %s", app.breakpoints.Count(), app.bpPath)
	return nil
}

// setBreakpoint sets a breakpoint from a file:line argument.
func (app *Application) setBreakpoint(loc string) error {
	i := strings.LastIndexByte(loc, ':')
	if i <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, loc)
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, loc)
	}
	path, err := filepath.Abs(loc[:i])
	if err != nil {
		return err
	}
	app.breakpoints.Set(app.registry.ID(path), line)
	return nil
}
