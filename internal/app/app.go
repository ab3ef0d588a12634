// Package app wires the debugger core, the Lua bindings, the configuration
// and the console together and runs them on one event loop.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/config/notify"
	"github.com/dshills/scriptdbg/internal/console"
	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/position"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/pump"
	"github.com/dshills/scriptdbg/internal/script/lua"
	"github.com/dshills/scriptdbg/internal/source"
)

// BreakpointFile is the breakpoint file name used next to settings.toml
// when paths.breakpoints is not set.
const BreakpointFile = "breakpoints.yaml"

// Application owns every component of a debugger process.
type Application struct {
	opts Options
	log  *logging.Logger

	config   *config.Config
	policy   debug.ExceptionPolicy
	settings *notify.Subscription

	registry    *source.Registry
	resolver    *position.Resolver
	breakpoints *breakpoint.Store
	bpPath      string

	loop       *pump.Loop
	console    *console.Console
	controller *debug.Controller
	main       *lua.Binding
	aux        *lua.Binding

	running  atomic.Bool
	runCtx   context.Context
	stopOnce sync.Once
}

// Options configures the application.
type Options struct {
	// ConfigPath is the settings file. Empty uses config.DefaultPath.
	ConfigPath string

	// LogLevel overrides logging.level when set.
	LogLevel string

	// Script is run as soon as the loop starts.
	Script string

	// Step starts Script stopped at its first statement.
	Step bool

	// Breakpoints are file:line locations set on startup.
	Breakpoints []string

	// StopOnException overrides debugger.stopOnException for this process
	// without persisting it.
	StopOnException *bool

	// Input is read for console commands. Nil runs without a reader.
	Input console.LineReader

	// Interactive marks Input as a terminal.
	Interactive bool

	// Output receives console and script output. Defaults to os.Stdout.
	Output io.Writer

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// NoEnv disables SCRIPTDBG_ environment overrides.
	NoEnv bool
}

// New creates an Application with the given options.
func New(opts Options) (*Application, error) {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	app := &Application{
		opts:   opts,
		runCtx: context.Background(),
	}
	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Logger, at the flag level until the settings are read.
	level := app.opts.LogLevel
	app.log = logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Output: app.opts.LogOutput,
		Prefix: "scriptdbg",
	})

	// 2. Configuration. A broken settings file is reported and the
	// defaults are used.
	path := app.opts.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfgOpts := []config.Option{config.WithLogger(app.log)}
	if app.opts.NoEnv {
		cfgOpts = append(cfgOpts, config.WithEnvLoader(nil))
	}
	app.config = config.New(path, cfgOpts...)
	if err := app.config.Load(); err != nil {
		app.log.Warn("settings: %v", err)
	}
	settings := app.config.Settings()
	if level == "" {
		app.log.SetLevel(logging.ParseLevel(settings.Logging.Level))
	}

	var policy debug.ExceptionPolicy = config.NewExceptionPolicy(app.config)
	if app.opts.StopOnException != nil {
		policy = overridePolicy{ExceptionPolicy: policy, stop: *app.opts.StopOnException}
	}
	app.policy = policy

	// 3. Sources and breakpoints.
	app.registry = source.NewRegistry(source.WithPseudoOffset(source.UnitID(settings.Debugger.PseudoOffset)))
	app.resolver = position.NewResolver(app.registry)
	app.breakpoints = breakpoint.NewStore()
	app.bpPath = settings.Paths.Breakpoints
	if app.bpPath == "" {
		app.bpPath = filepath.Join(filepath.Dir(app.config.Path()), BreakpointFile)
	}
	if err := app.breakpoints.Load(app.bpPath, app.registry); err != nil {
		app.log.Warn("%v", NewComponentError("breakpoints", err))
	}
	for _, loc := range app.opts.Breakpoints {
		if err := app.setBreakpoint(loc); err != nil {
			return NewComponentError("breakpoints", err)
		}
	}

	// 4. Event loop.
	app.loop = pump.New(0)
	app.loop.OnPanic(app.recovered)

	// 5. Console and controller. The console is the controller's display
	// and presenter, and drives the controller through its commands.
	conOpts := []console.Option{console.WithLogger(app.log)}
	if app.opts.Script != "" {
		conOpts = append(conOpts, console.WithScript(app.opts.Script))
	}
	app.console = console.New(app.opts.Output, app.loop, &host{app: app}, app.registry, app.breakpoints, conOpts...)
	app.controller = debug.NewController(app.registry, app.resolver, app.breakpoints, app.loop,
		debug.WithDisplay(app.console),
		debug.WithPresenter(app.console),
		debug.WithExceptionPolicy(app.policy),
		debug.WithTiming(timing(settings)),
		debug.WithLogger(app.log),
		debug.WithHandlers(debug.Handlers{
			OnStateChanged: func(old, new debug.State) {
				app.log.Debug("debugger %s -> %s", old, new)
			},
			OnSuspended: app.console.Suspended,
		}),
	)
	app.console.Attach(app.controller)
	app.loop.OnClose(func() { app.controller.Stop() })

	// 6. Interpreters. Scripts run in main; the aux binding is reachable
	// from scripts as aux.run(path) and runs as a secondary interpreter.
	stateOpts := app.stateOptions(settings)
	app.aux = lua.NewBinding("aux", app.controller, app.registry,
		lua.WithStateOptions(stateOpts...),
		lua.WithLogger(app.log),
	)
	app.main = lua.NewBinding("main", app.controller, app.registry,
		lua.WithStateOptions(stateOpts...),
		lua.WithLogger(app.log),
		lua.WithPeer("aux", app.aux),
	)

	// 7. Settings changes apply to the running components.
	app.settings = app.config.Subscribe(func(notify.Change) {
		app.applySettings()
	})
	return nil
}

// stateOptions builds the Lua state options from the settings.
func (app *Application) stateOptions(s config.Settings) []lua.StateOption {
	out := []lua.StateOption{
		lua.WithOutput(app.opts.Output),
		lua.WithStatementLimit(s.Script.StatementLimit),
	}
	var caps []lua.Capability
	for _, name := range s.Script.Capabilities {
		c, ok := lua.ParseCapability(name)
		if !ok {
			app.log.Warn("unknown script capability %q", name)
			continue
		}
		caps = append(caps, c)
	}
	if len(caps) > 0 {
		out = append(out, lua.WithCapabilities(caps...))
	}
	return out
}

// applySettings pushes reloaded settings into the live components. Script
// limits and capabilities only apply to interpreters created afterwards.
func (app *Application) applySettings() {
	s := app.config.Settings()
	if app.opts.LogLevel == "" {
		app.log.SetLevel(logging.ParseLevel(s.Logging.Level))
	}
	app.controller.SetTiming(timing(s))
}

// timing converts the debugger settings to controller timing.
func timing(s config.Settings) debug.Timing {
	d := s.Debugger
	return debug.Timing{
		TickInterval:    d.TickInterval,
		MinPumpInterval: d.MinPumpInterval.Std(),
		MaxPumpInterval: d.MaxPumpInterval.Std(),
		PumpFactor:      d.PumpFactor,
	}
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.log
}

// Config returns the configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Controller returns the debugger controller.
func (app *Application) Controller() *debug.Controller {
	return app.controller
}

// Console returns the console.
func (app *Application) Console() *console.Console {
	return app.console
}

// Breakpoints returns the breakpoint store.
func (app *Application) Breakpoints() *breakpoint.Store {
	return app.breakpoints
}

// BreakpointPath returns the breakpoint file.
func (app *Application) BreakpointPath() string {
	return app.bpPath
}

// Registry returns the source registry.
func (app *Application) Registry() *source.Registry {
	return app.registry
}

// overridePolicy replaces the stop-on-exception setting for one process.
type overridePolicy struct {
	debug.ExceptionPolicy
	stop bool
}

func (p overridePolicy) StopOnException() bool { return p.stop }
