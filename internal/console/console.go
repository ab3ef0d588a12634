// Package console is the terminal front end of the debugger.
//
// The console reads command lines on its own goroutine and posts them to
// the event loop, where they run next to the scripts. It implements
// debug.Display and debug.Presenter; the exception prompt is answered on
// the console while the loop is pumped in a modal state.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/pump"
	"github.com/dshills/scriptdbg/internal/source"
)

// Loop is the part of the event loop the console uses.
type Loop interface {
	Post(fn func()) error
	PumpUntil(done func() bool)
	BeginModal()
	EndModal()
}

// Host runs the operations that need more than the controller.
type Host interface {
	// Run executes a script file; it returns when the script ends.
	Run(path string, mode debug.RunMode) error
	// Eval evaluates an expression in the suspended interpreter.
	Eval(expr string) (string, error)
	// Locals lists the locals of the suspended frame as "name = value".
	Locals() ([]string, error)
	// SaveBreakpoints persists the breakpoint store.
	SaveBreakpoints() error
	// Quit ends the program.
	Quit()
}

// Units maps between unit ids and paths.
type Units interface {
	ID(path string) source.UnitID
	Lookup(path string) (source.UnitID, bool)
	Path(id source.UnitID) string
}

// Console is a line-oriented debugger front end.
type Console struct {
	out   io.Writer
	loop  Loop
	host  Host
	ctl   *debug.Controller
	units Units
	bps   *breakpoint.Store
	log   *logging.Logger

	commands []command
	lines    map[string][]string
	markers  map[source.UnitID]int
	stack    []debug.Frame
	visible  bool
	hidden   []string

	lastScript string
	prompt     *prompt
}

type prompt struct {
	answered bool
	action   debug.ExceptionAction
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Console) {
		if l != nil {
			c.log = l.WithComponent("console")
		}
	}
}

// WithScript sets the script run by a bare "run".
func WithScript(path string) Option {
	return func(c *Console) {
		c.lastScript = path
	}
}

// New creates a console writing to out. The controller is attached later
// with Attach, since the controller itself takes the console as its
// display.
func New(out io.Writer, loop Loop, host Host, units Units, bps *breakpoint.Store, opts ...Option) *Console {
	c := &Console{
		out:     out,
		loop:    loop,
		host:    host,
		units:   units,
		bps:     bps,
		log:     logging.NewNull(),
		lines:   make(map[string][]string),
		markers: make(map[source.UnitID]int),
		visible: true,
	}
	c.commands = c.commandTable()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach connects the controller the commands act on.
func (c *Console) Attach(ctl *debug.Controller) {
	c.ctl = ctl
}

// Printf writes a line to the console. While the console is hidden the
// output is held back until it is shown again.
func (c *Console) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if !c.visible {
		c.hidden = append(c.hidden, msg)
		return
	}
	_, _ = io.WriteString(c.out, msg)
}

// SetCurrentLine records the live line of unit.
func (c *Console) SetCurrentLine(unit source.UnitID, line int, suspended bool) {
	if line < 0 || !suspended {
		delete(c.markers, unit)
		return
	}
	c.markers[unit] = line
}

// CurrentLine returns the marked line of unit.
func (c *Console) CurrentLine(unit source.UnitID) (int, bool) {
	line, ok := c.markers[unit]
	return line, ok
}

// ShowCallStack keeps the suspended call stack for "bt" and the stop
// message. nil clears it.
func (c *Console) ShowCallStack(frames []debug.Frame) {
	c.stack = append(c.stack[:0], frames...)
}

// ShowErrorLine prints the line an error was raised at.
func (c *Console) ShowErrorLine(unit source.UnitID, line int) {
	c.Printf("error at %s", c.location(unit, line))
	c.printSource(unit, line)
}

// SetVisible hides or shows console output.
func (c *Console) SetVisible(visible bool) {
	c.visible = visible
	if visible {
		for _, msg := range c.hidden {
			_, _ = io.WriteString(c.out, msg)
		}
		c.hidden = nil
	}
}

// Suspended reports a suspension. It is installed as the controller's
// OnSuspended handler.
func (c *Console) Suspended(info debug.SuspendInfo) {
	c.Printf("stopped (%s) at %s [%s]", info.Reason, c.location(info.Position.Unit, info.Position.Line), info.Binding)
	if len(c.stack) > 0 && c.stack[0].Function != "" {
		c.Printf("  in %s", c.stack[0].Function)
	}
	c.printSource(info.Position.Unit, info.Position.Line)
}

// PresentException shows ex and asks what to do. The answer is read from
// the console while the loop runs modally. A closed loop counts as
// "continue".
func (c *Console) PresentException(ex *debug.ScriptError, at position.Position) debug.ExceptionAction {
	c.Printf("%s", ex.Error())
	c.Printf("  at %s", c.location(at.Unit, at.Line))
	if bt := ex.Backtrace(); bt != "" {
		c.Printf("%s", strings.TrimRight(bt, "\n"))
	}

	p := &prompt{action: debug.ActionContinue}
	c.prompt = p
	defer func() { c.prompt = nil }()

	c.Printf("[c]ontinue, [i]gnore file, [d]ebug?")
	c.loop.BeginModal()
	defer c.loop.EndModal()
	c.loop.PumpUntil(func() bool { return p.answered })
	return p.action
}

// answer handles a line typed while the exception prompt is open.
func (c *Console) answer(line string) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "c", "continue":
		c.prompt.action = debug.ActionContinue
	case "i", "ignore":
		c.prompt.action = debug.ActionIgnoreFile
	case "d", "debug":
		c.prompt.action = debug.ActionDebug
	default:
		c.Printf("[c]ontinue, [i]gnore file, [d]ebug?")
		return
	}
	c.prompt.answered = true
}

// Execute runs one command line. It must run on the loop goroutine.
func (c *Console) Execute(line string) {
	if c.prompt != nil && !c.prompt.answered {
		c.answer(line)
		return
	}
	name, args := splitCommand(line)
	if name == "" {
		return
	}
	cmd, ok := c.lookup(name)
	if !ok {
		c.Printf("unknown command %q, try \"help\"", name)
		return
	}
	if err := cmd.fn(args); err != nil {
		c.Printf("%s: %v", cmd.names[0], err)
	}
}

// Interrupt handles Ctrl-C: it stops a running script, otherwise it quits.
func (c *Console) Interrupt() {
	if c.prompt != nil && !c.prompt.answered {
		c.prompt.answered = true
		return
	}
	if c.ctl != nil && c.ctl.IsRunning() {
		c.ctl.Stop()
		return
	}
	c.host.Quit()
}

// LineReader reads command lines.
type LineReader interface {
	ReadLine() (string, error)
}

// ReadLoop reads lines from r and posts them to the loop until ctx is done,
// r fails or the loop closes. io.EOF from an interactive terminal is
// Ctrl-C or Ctrl-D and posts Interrupt; on other readers it ends input.
func (c *Console) ReadLoop(ctx context.Context, r LineReader, interactive bool) {
	for ctx.Err() == nil {
		line, err := r.ReadLine()
		var fn func()
		switch {
		case err == nil:
			fn = func() { c.Execute(line) }
		case errors.Is(err, io.EOF) && interactive:
			fn = c.Interrupt
		default:
			if !errors.Is(err, io.EOF) {
				c.log.Warn("reading input: %v", err)
			}
			_ = c.post(ctx, c.endOfInput)
			return
		}
		if err := c.post(ctx, fn); err != nil {
			return
		}
	}
}

// endOfInput stops whatever runs and quits once the loop gets to it.
func (c *Console) endOfInput() {
	if c.prompt != nil && !c.prompt.answered {
		c.prompt.answered = true
	}
	if c.ctl != nil && c.ctl.IsRunning() {
		c.ctl.Stop()
	}
	c.host.Quit()
}

// post hands fn to the loop, waiting while the queue is full.
func (c *Console) post(ctx context.Context, fn func()) error {
	for {
		err := c.loop.Post(fn)
		if !errors.Is(err, pump.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// location formats unit:line with a readable path.
func (c *Console) location(unit source.UnitID, line int) string {
	return fmt.Sprintf("%s:%d", c.unitName(unit), line)
}

// unitName returns the readable path of unit.
func (c *Console) unitName(unit source.UnitID) string {
	if path := c.units.Path(unit); path != "" {
		return displayPath(path)
	}
	return fmt.Sprintf("<unit %d>", unit)
}

// printSource prints one source line of unit.
func (c *Console) printSource(unit source.UnitID, line int) {
	text, ok := c.sourceLine(c.units.Path(unit), line)
	if ok {
		c.Printf("%5d  %s", line, text)
	}
}

// sourceLine returns line n of path, reading the file once.
func (c *Console) sourceLine(path string, n int) (string, bool) {
	if path == "" || n <= 0 {
		return "", false
	}
	lines, ok := c.lines[path]
	if !ok {
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Debug("read source %s: %v", path, err)
		}
		lines = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
		c.lines[path] = lines
	}
	if n > len(lines) {
		return "", false
	}
	return lines[n-1], true
}

// displayPath shortens path relative to the working directory.
func displayPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
