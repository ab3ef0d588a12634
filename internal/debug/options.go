package debug

import (
	"time"

	"github.com/dshills/scriptdbg/internal/logging"
)

// Default free-running pump timing.
const (
	DefaultTickInterval    = 20
	DefaultMinPumpInterval = 50 * time.Millisecond
	DefaultMaxPumpInterval = 2 * time.Second
	DefaultPumpFactor      = 5.0
)

// Timing controls how often host events are pumped while a script runs
// freely. Every TickInterval traces the controller checks whether the
// adaptive interval has passed since the last pump; after pumping the
// interval becomes PumpFactor times the pump duration, clamped to
// [MinPumpInterval, MaxPumpInterval].
type Timing struct {
	TickInterval    int
	MinPumpInterval time.Duration
	MaxPumpInterval time.Duration
	PumpFactor      float64
}

// DefaultTiming returns the default pump timing.
func DefaultTiming() Timing {
	return Timing{
		TickInterval:    DefaultTickInterval,
		MinPumpInterval: DefaultMinPumpInterval,
		MaxPumpInterval: DefaultMaxPumpInterval,
		PumpFactor:      DefaultPumpFactor,
	}
}

// normalized fills zero or inconsistent fields with defaults.
func (t Timing) normalized() Timing {
	d := DefaultTiming()
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.MinPumpInterval <= 0 {
		t.MinPumpInterval = d.MinPumpInterval
	}
	if t.MaxPumpInterval <= 0 {
		t.MaxPumpInterval = d.MaxPumpInterval
	}
	if t.MaxPumpInterval < t.MinPumpInterval {
		t.MaxPumpInterval = t.MinPumpInterval
	}
	if t.PumpFactor <= 0 {
		t.PumpFactor = d.PumpFactor
	}
	return t
}

// next returns the adaptive interval after a pump that took elapsed.
func (t Timing) next(elapsed time.Duration) time.Duration {
	d := time.Duration(float64(elapsed) * t.PumpFactor)
	if d < t.MinPumpInterval {
		return t.MinPumpInterval
	}
	if d > t.MaxPumpInterval {
		return t.MaxPumpInterval
	}
	return d
}

// Option configures a Controller.
type Option func(*Controller)

// WithDisplay sets the display the controller reports positions to.
func WithDisplay(d Display) Option {
	return func(c *Controller) {
		if d != nil {
			c.display = d
		}
	}
}

// WithPresenter sets the presenter asked about unhandled errors.
func WithPresenter(p Presenter) Option {
	return func(c *Controller) {
		if p != nil {
			c.presenter = p
		}
	}
}

// WithExceptionPolicy sets the stop-on-exception policy.
func WithExceptionPolicy(p ExceptionPolicy) Option {
	return func(c *Controller) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithTiming sets the free-running pump timing.
func WithTiming(t Timing) Option {
	return func(c *Controller) {
		c.timing = t.normalized()
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l.WithComponent("debugger")
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHandlers sets the event handlers.
func WithHandlers(h Handlers) Option {
	return func(c *Controller) {
		c.handlers = h
	}
}
