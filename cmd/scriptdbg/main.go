// Package main is the entry point for the scriptdbg Lua debugger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dshills/scriptdbg/internal/app"
	"github.com/dshills/scriptdbg/internal/console"
	"github.com/dshills/scriptdbg/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	term, err := console.OpenTerminal(os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open terminal: %v\n", err)
		return 1
	}
	defer term.Restore()

	opts.Input = term
	opts.Interactive = term.Interactive
	opts.Output = term
	if term.Interactive {
		// Raw mode needs the terminal's line endings.
		opts.LogOutput = term
	}

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	// Ensure cleanup on all exit paths
	defer application.Shutdown()
	term.SetCompleter(application.Console())

	// SIGINT stops the running script; SIGTERM ends the debugger.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for sig := range signals {
			if sig == syscall.SIGTERM {
				application.Quit()
				return
			}
			if err := application.Interrupt(); err != nil {
				application.Quit()
				return
			}
		}
	}()

	if err := application.Run(context.Background()); err != nil {
		if errors.Is(err, app.ErrQuit) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// breakFlags collects repeated -break values.
type breakFlags []string

func (b *breakFlags) String() string {
	return strings.Join(*b, ",")
}

func (b *breakFlags) Set(v string) error {
	*b = append(*b, v)
	return nil
}

// optionalBool is a boolean flag that remembers whether it was given.
type optionalBool struct {
	value *bool
}

func (o *optionalBool) String() string {
	if o.value == nil {
		return ""
	}
	return strconv.FormatBool(*o.value)
}

func (o *optionalBool) Set(v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	o.value = &b
	return nil
}

func (o *optionalBool) IsBoolFlag() bool { return true }

func parseFlags() app.Options {
	var opts app.Options
	var breaks breakFlags
	var stopOnException optionalBool
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to settings.toml")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to settings.toml (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	flag.Var(&breaks, "break", "Set a breakpoint at file:line (repeatable)")
	flag.Var(&breaks, "b", "Set a breakpoint at file:line (shorthand)")
	flag.BoolVar(&opts.Step, "step", false, "Stop at the first statement of the script")
	flag.BoolVar(&opts.Step, "s", false, "Stop at the first statement of the script (shorthand)")
	flag.Var(&stopOnException, "stop-on-exception", "Intercept unhandled script errors (overrides debugger.stopOnException)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "scriptdbg - Lua script debugger\n\n")
		fmt.Fprintf(os.Stderr, "Usage: scriptdbg [options] [script.lua]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  scriptdbg                          Start the console\n")
		fmt.Fprintf(os.Stderr, "  scriptdbg job.lua                  Run a script\n")
		fmt.Fprintf(os.Stderr, "  scriptdbg -step job.lua            Stop at the first statement\n")
		fmt.Fprintf(os.Stderr, "  scriptdbg -b job.lua:12 job.lua    Run to line 12\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("scriptdbg %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.LogLevel != "" && !logging.ValidLevel(opts.LogLevel) {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
		os.Exit(1)
	}

	switch flag.NArg() {
	case 0:
	case 1:
		opts.Script = flag.Arg(0)
	default:
		fmt.Fprintf(os.Stderr, "Error: only one script may be given\n")
		os.Exit(1)
	}
	if opts.Step && opts.Script == "" {
		fmt.Fprintf(os.Stderr, "Error: -step needs a script\n")
		os.Exit(1)
	}

	opts.Breakpoints = breaks
	opts.StopOnException = stopOnException.value
	return opts
}
