package console

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/source"
)

// Command errors.
var (
	errNotRunning   = errors.New("no script is running")
	errNotSuspended = errors.New("not suspended")
	errRunning      = errors.New("a script is already running")
	errNoScript     = errors.New("no script given")
)

type command struct {
	names []string
	usage string
	help  string
	fn    func(args string) error
}

func (c *Console) commandTable() []command {
	return []command{
		{[]string{"run", "r"}, "run [file]", "run a script", c.cmdRun},
		{[]string{"continue", "c"}, "c", "continue until the next breakpoint", c.cmdContinue},
		{[]string{"step", "s"}, "s", "step into; starts the script stepping when idle", c.cmdStep},
		{[]string{"next", "n"}, "n", "step over calls", c.cmdNext},
		{[]string{"pause", "p"}, "p", "pause at the next line", c.cmdPause},
		{[]string{"stop", "q"}, "q", "stop the running script", c.cmdStop},
		{[]string{"break", "b"}, "b [file:]line", "toggle a breakpoint", c.cmdBreak},
		{[]string{"clear"}, "clear [file]", "remove breakpoints of a file, or all", c.cmdClear},
		{[]string{"bl"}, "bl", "list breakpoints", c.cmdList},
		{[]string{"bt", "where"}, "bt", "print the call stack", c.cmdBacktrace},
		{[]string{"eval", "e"}, "eval <expr>", "evaluate an expression in the suspended script", c.cmdEval},
		{[]string{"locals", "l"}, "locals", "print locals of the suspended frame", c.cmdLocals},
		{[]string{"save"}, "save", "save breakpoints", c.cmdSave},
		{[]string{"help", "h", "?"}, "help", "show this help", c.cmdHelp},
		{[]string{"quit", "exit"}, "quit", "stop and exit", c.cmdQuit},
	}
}

func (c *Console) lookup(name string) (command, bool) {
	for _, cmd := range c.commands {
		for _, n := range cmd.names {
			if n == name {
				return cmd, true
			}
		}
	}
	return command{}, false
}

// Complete returns the command names starting with prefix.
func (c *Console) Complete(prefix string) []string {
	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd.names[0], prefix) {
			out = append(out, cmd.names[0])
		}
	}
	return out
}

// splitCommand splits a line into the command name and the rest.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	name, args, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (c *Console) cmdRun(args string) error {
	return c.start(args, debug.RunContinue)
}

func (c *Console) start(path string, mode debug.RunMode) error {
	if c.ctl.IsRunning() {
		return errRunning
	}
	if path == "" {
		path = c.lastScript
	}
	if path == "" {
		return errNoScript
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	c.lastScript = abs
	err = c.host.Run(abs, mode)
	var se *debug.ScriptError
	if errors.As(err, &se) {
		c.Printf("%s", se.Error())
		return nil
	}
	if err == nil {
		c.Printf("script %s finished", displayPath(abs))
	}
	return err
}

func (c *Console) cmdContinue(string) error {
	if !c.ctl.Continue() {
		return errNotRunning
	}
	return nil
}

func (c *Console) cmdStep(args string) error {
	if !c.ctl.IsRunning() {
		return c.start(args, debug.RunStepInto)
	}
	if !c.ctl.Step() {
		return errNotSuspended
	}
	return nil
}

func (c *Console) cmdNext(string) error {
	if !c.ctl.StepOver() {
		return errNotSuspended
	}
	return nil
}

func (c *Console) cmdPause(string) error {
	if !c.ctl.Pause() {
		if c.ctl.IsSuspended() {
			return errors.New("already suspended")
		}
		return errNotRunning
	}
	return nil
}

func (c *Console) cmdStop(string) error {
	if !c.ctl.Stop() {
		return errNotRunning
	}
	return nil
}

func (c *Console) cmdBreak(args string) error {
	unit, line, err := c.parseLocation(args)
	if err != nil {
		return err
	}
	if c.bps.Toggle(unit, line) {
		c.Printf("breakpoint set at %s", c.location(unit, line))
	} else {
		c.Printf("breakpoint removed at %s", c.location(unit, line))
	}
	return nil
}

// parseLocation parses "file:line" or "line". A bare line refers to the
// suspended file, or the last script run.
func (c *Console) parseLocation(s string) (source.UnitID, int, error) {
	if s == "" {
		return 0, 0, errors.New("usage: b [file:]line")
	}
	file, lineText := "", s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		file, lineText = s[:i], s[i+1:]
	}
	line, err := strconv.Atoi(strings.TrimSpace(lineText))
	if err != nil || line <= 0 {
		return 0, 0, fmt.Errorf("invalid line %q", lineText)
	}
	if file == "" {
		if pos, ok := c.ctl.CurrentPosition(); ok {
			return pos.Unit, line, nil
		}
		file = c.lastScript
	}
	if file == "" {
		return 0, 0, errNoScript
	}
	abs, err := filepath.Abs(strings.TrimSpace(file))
	if err != nil {
		return 0, 0, err
	}
	return c.units.ID(abs), line, nil
}

func (c *Console) cmdClear(args string) error {
	if args == "" {
		c.bps.ClearAll()
		c.Printf("all breakpoints removed")
		return nil
	}
	abs, err := filepath.Abs(args)
	if err != nil {
		return err
	}
	unit, ok := c.units.Lookup(abs)
	if !ok {
		return fmt.Errorf("no breakpoints in %s", args)
	}
	c.bps.ClearUnit(unit)
	c.Printf("breakpoints of %s removed", args)
	return nil
}

func (c *Console) cmdList(string) error {
	units := c.bps.Units()
	if len(units) == 0 {
		c.Printf("no breakpoints")
		return nil
	}
	type entry struct {
		path  string
		lines []int
	}
	entries := make([]entry, 0, len(units))
	for _, unit := range units {
		entries = append(entries, entry{c.unitName(unit), c.bps.Lines(unit)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	for _, e := range entries {
		parts := make([]string, len(e.lines))
		for i, l := range e.lines {
			parts[i] = strconv.Itoa(l)
		}
		c.Printf("%s %s", e.path, strings.Join(parts, ","))
	}
	return nil
}

func (c *Console) cmdBacktrace(string) error {
	if !c.ctl.IsSuspended() {
		return errNotSuspended
	}
	for i, f := range c.stack {
		loc := f.FormatLocation()
		if f.Unit != source.Unknown {
			loc = c.location(f.Unit, f.Line)
		}
		name := f.Function
		if name == "" {
			name = "?"
		}
		c.Printf("#%d %s in %s", i, loc, name)
	}
	return nil
}

func (c *Console) cmdEval(args string) error {
	if args == "" {
		return errors.New("usage: eval <expr>")
	}
	if !c.ctl.IsSuspended() {
		return errNotSuspended
	}
	out, err := c.host.Eval(args)
	if err != nil {
		return err
	}
	if out != "" {
		c.Printf("%s", out)
	}
	return nil
}

func (c *Console) cmdLocals(string) error {
	if !c.ctl.IsSuspended() {
		return errNotSuspended
	}
	vars, err := c.host.Locals()
	if err != nil {
		return err
	}
	if len(vars) == 0 {
		c.Printf("no locals")
	}
	for _, v := range vars {
		c.Printf("%s", v)
	}
	return nil
}

func (c *Console) cmdSave(string) error {
	if err := c.host.SaveBreakpoints(); err != nil {
		return err
	}
	c.Printf("breakpoints saved")
	return nil
}

func (c *Console) cmdHelp(string) error {
	for _, cmd := range c.commands {
		c.Printf("  %-16s %s", cmd.usage, cmd.help)
	}
	return nil
}

func (c *Console) cmdQuit(string) error {
	if c.ctl.IsRunning() {
		c.ctl.Stop()
	}
	c.host.Quit()
	return nil
}
