package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/scriptdbg/internal/logging"
)

type scriptedInput struct {
	lines []string
}

func (r *scriptedInput) ReadLine() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestApp(t *testing.T, opts Options) (*Application, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	if opts.ConfigPath == "" {
		opts.ConfigPath = filepath.Join(t.TempDir(), "settings.toml")
	}
	opts.Output = out
	opts.LogOutput = io.Discard
	opts.NoEnv = true
	app, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.Shutdown() })
	return app, out
}

func runApp(t *testing.T, app *Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run did not quit before the timeout")
	}
}

func TestNewSetsFlagBreakpoints(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "s.lua")
	app, _ := newTestApp(t, Options{Breakpoints: []string{script + ":2", script + ":5"}})

	unit, ok := app.Registry().Lookup(script)
	if !ok {
		t.Fatal("script not registered")
	}
	if got := app.Breakpoints().Lines(unit); len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("lines = %v, want [2 5]", got)
	}
}

func TestNewRejectsBadBreakpoint(t *testing.T) {
	for _, loc := range []string{"nowhere", "s.lua:x", "s.lua:0", ":3"} {
		_, err := New(Options{
			ConfigPath:  filepath.Join(t.TempDir(), "settings.toml"),
			Breakpoints: []string{loc},
			LogOutput:   io.Discard,
			Output:      io.Discard,
			NoEnv:       true,
		})
		if !errors.Is(err, ErrInvalidLocation) {
			t.Errorf("%q: err = %v, want ErrInvalidLocation", loc, err)
		}
		if !errors.Is(err, ErrInitialization) {
			t.Errorf("%q: err = %v, want ErrInitialization", loc, err)
		}
	}
}

func TestNewReadsSettings(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "settings.toml")
	writeFile(t, cfg, `
[debugger]
stopOnException = false
tickInterval = 9

[logging]
level = "debug"

[paths]
breakpoints = "`+filepath.ToSlash(filepath.Join(dir, "bp.yaml"))+`"
`)
	app, _ := newTestApp(t, Options{ConfigPath: cfg})

	if app.Logger().Level() != logging.LevelDebug {
		t.Errorf("level = %v, want DEBUG", app.Logger().Level())
	}
	if app.Controller().Timing().TickInterval != 9 {
		t.Errorf("tick = %d, want 9", app.Controller().Timing().TickInterval)
	}
	if app.policy.StopOnException() {
		t.Error("stopOnException should be false")
	}
	if app.BreakpointPath() != filepath.Join(dir, "bp.yaml") {
		t.Errorf("breakpoint path = %q", app.BreakpointPath())
	}
}

func TestFlagsOverrideSettings(t *testing.T) {
	stop := false
	app, _ := newTestApp(t, Options{LogLevel: "error", StopOnException: &stop})

	if app.policy.StopOnException() {
		t.Error("flag should disable stopOnException")
	}
	if err := app.Config().Set("logging.level", "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if app.Logger().Level() != logging.LevelError {
		t.Errorf("level = %v, flag level should win", app.Logger().Level())
	}
}

func TestSettingsChangesApply(t *testing.T) {
	app, _ := newTestApp(t, Options{})

	if err := app.Config().Set("debugger.tickInterval", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if app.Controller().Timing().TickInterval != 7 {
		t.Errorf("tick = %d, want 7", app.Controller().Timing().TickInterval)
	}
	if err := app.Config().Set("logging.level", "warn"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if app.Logger().Level() != logging.LevelWarn {
		t.Errorf("level = %v, want WARN", app.Logger().Level())
	}
}

func TestDefaultBreakpointPath(t *testing.T) {
	dir := t.TempDir()
	app, _ := newTestApp(t, Options{ConfigPath: filepath.Join(dir, "settings.toml")})
	if app.BreakpointPath() != filepath.Join(dir, BreakpointFile) {
		t.Errorf("breakpoint path = %q", app.BreakpointPath())
	}
}

func TestSaveAndReloadBreakpoints(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "settings.toml")
	script := filepath.Join(dir, "s.lua")

	app, _ := newTestApp(t, Options{ConfigPath: cfg, Breakpoints: []string{script + ":4"}})
	if err := app.SaveBreakpoints(); err != nil {
		t.Fatalf("SaveBreakpoints: %v", err)
	}

	again, _ := newTestApp(t, Options{ConfigPath: cfg})
	unit, ok := again.Registry().Lookup(script)
	if !ok {
		t.Fatal("saved breakpoint not loaded")
	}
	if !again.Breakpoints().IsBreakpoint(unit, 4) {
		t.Errorf("lines = %v, want [4]", again.Breakpoints().Lines(unit))
	}
}

func TestRunStopsAtBreakpoint(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "s.lua")
	writeFile(t, script, "local x = 41\nx = x + 1\nprint(\"x is \" .. x)\n")

	app, out := newTestApp(t, Options{
		Breakpoints: []string{script + ":3"},
		Input:       &scriptedInput{lines: []string{"run " + script, "eval x", "locals", "c"}},
	})
	runApp(t, app)

	text := out.String()
	for _, want := range []string{
		"stopped (breakpoint) at",
		"s.lua:3",
		"x = 42",
		"x is 42",
		"finished",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if app.Controller().IsRunning() {
		t.Error("session still running")
	}
}

func TestRunScriptOption(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "s.lua")
	writeFile(t, script, "local a = 1\nlocal b = 2\n")

	app, out := newTestApp(t, Options{
		Script: script,
		Step:   true,
		Input:  &scriptedInput{lines: []string{"n", "c"}},
	})
	runApp(t, app)

	text := out.String()
	if !strings.Contains(text, "stopped (step) at") {
		t.Errorf("expected a step stop:\n%s", text)
	}
	if !strings.Contains(text, "s.lua:2") {
		t.Errorf("expected a stop on line 2:\n%s", text)
	}
}

func TestRunExpandsIncludes(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.lua")
	main := filepath.Join(dir, "main.lua")
	writeFile(t, lib, "local function double(v)\n  return v * 2\nend\nresult = double(21)\n")
	writeFile(t, main, "--%include lib.lua\nprint(\"result \" .. result)\n")

	app, out := newTestApp(t, Options{
		Breakpoints: []string{lib + ":2"},
		Input:       &scriptedInput{lines: []string{"run " + main, "eval v", "c"}},
	})
	runApp(t, app)

	text := out.String()
	for _, want := range []string{"lib.lua:2", "21", "result 42"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunReportsException(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bad.lua")
	writeFile(t, script, "local t = nil\nerror(\"boom\")\n")

	app, out := newTestApp(t, Options{
		Input: &scriptedInput{lines: []string{"run " + script, "c"}},
	})
	runApp(t, app)

	text := out.String()
	if !strings.Contains(text, "boom") {
		t.Errorf("output missing the error:\n%s", text)
	}
	if !strings.Contains(text, "[c]ontinue") {
		t.Errorf("output missing the prompt:\n%s", text)
	}
}

func TestRunTwice(t *testing.T) {
	app, _ := newTestApp(t, Options{Input: &scriptedInput{}})
	runApp(t, app)
	if err := app.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestInterruptBeforeRun(t *testing.T) {
	app, _ := newTestApp(t, Options{})
	if err := app.Interrupt(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestShutdownTwice(t *testing.T) {
	app, _ := newTestApp(t, Options{})
	if err := app.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
