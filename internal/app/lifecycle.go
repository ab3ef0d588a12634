package app

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/dshills/scriptdbg/internal/config"
)

// Run starts the event loop on the calling goroutine and blocks until the
// user quits or ctx is cancelled. A quit returns nil.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.runCtx = ctx

	if err := app.config.Watch(ctx, app.loop.Post); err != nil && !errors.Is(err, config.ErrNoFile) {
		app.log.Warn("not watching settings: %v", err)
	}
	if app.opts.Script != "" {
		cmd := "run "
		if app.opts.Step {
			cmd = "step "
		}
		if err := app.loop.Post(func() { app.console.Execute(cmd + app.opts.Script) }); err != nil {
			return err
		}
	} else {
		app.console.Printf("type help for a list of commands")
	}
	// The reader starts after the script is queued so that typed commands
	// reach the script.
	if app.opts.Input != nil {
		go app.console.ReadLoop(ctx, app.opts.Input, app.opts.Interactive)
	}

	err := app.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Interrupt posts a Ctrl-C to the console: a running script is stopped,
// an idle debugger quits.
func (app *Application) Interrupt() error {
	if !app.running.Load() {
		return ErrNotRunning
	}
	return app.loop.Post(app.console.Interrupt)
}

// Quit ends Run.
func (app *Application) Quit() {
	app.loop.Close()
}

// Shutdown releases every component. It is safe to call more than once.
func (app *Application) Shutdown() error {
	var errs ErrorList
	app.stopOnce.Do(func() {
		app.loop.Close()
		if app.settings != nil {
			app.settings.Unsubscribe()
		}
		errs.Add(app.main.Close())
		errs.Add(app.aux.Close())
		errs.Add(app.config.Close())
		app.running.Store(false)
	})
	return errs.AsError()
}

// recovered logs a panic raised by an event.
func (app *Application) recovered(v any) {
	err := &RecoveredPanicError{Value: v, Stack: string(debug.Stack())}
	app.log.Error("%v", err)
}
