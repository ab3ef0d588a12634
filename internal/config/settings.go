package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/scriptdbg/internal/logging"
)

// Settings is the typed view of the merged configuration.
type Settings struct {
	Debugger DebuggerSettings `toml:"debugger"`
	Script   ScriptSettings   `toml:"script"`
	Logging  LoggingSettings  `toml:"logging"`
	Paths    PathSettings     `toml:"paths"`
}

// DebuggerSettings configures the controller.
type DebuggerSettings struct {
	StopOnException bool `toml:"stopOnException"`
	// IgnoreExceptions is a quoted, semicolon separated path list.
	IgnoreExceptions string   `toml:"ignoreExceptions"`
	TickInterval     int      `toml:"tickInterval"`
	MinPumpInterval  Duration `toml:"minPumpInterval"`
	MaxPumpInterval  Duration `toml:"maxPumpInterval"`
	PumpFactor       float64  `toml:"pumpFactor"`
	PseudoOffset     int      `toml:"pseudoOffset"`
}

// ScriptSettings configures the Lua interpreters.
type ScriptSettings struct {
	StatementLimit int64    `toml:"statementLimit"`
	Capabilities   []string `toml:"capabilities"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level string `toml:"level"`
}

// PathSettings holds file locations.
type PathSettings struct {
	Breakpoints string `toml:"breakpoints"`
}

// Duration is a time.Duration written as "50ms" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Debugger: DebuggerSettings{
			StopOnException: true,
			TickInterval:    20,
			MinPumpInterval: Duration(50 * time.Millisecond),
			MaxPumpInterval: Duration(2 * time.Second),
			PumpFactor:      5,
			PseudoOffset:    1_000_000,
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// Validate checks the settings for values the debugger cannot use.
func (s Settings) Validate() error {
	d := s.Debugger
	switch {
	case d.TickInterval < 0:
		return &ValidationError{Path: "debugger.tickInterval", Value: d.TickInterval, Message: "must not be negative"}
	case d.MinPumpInterval < 0:
		return &ValidationError{Path: "debugger.minPumpInterval", Value: d.MinPumpInterval.Std(), Message: "must not be negative"}
	case d.MaxPumpInterval != 0 && d.MaxPumpInterval < d.MinPumpInterval:
		return &ValidationError{Path: "debugger.maxPumpInterval", Value: d.MaxPumpInterval.Std(), Message: "must not be below minPumpInterval"}
	case d.PumpFactor < 0:
		return &ValidationError{Path: "debugger.pumpFactor", Value: d.PumpFactor, Message: "must not be negative"}
	case d.PseudoOffset < 0:
		return &ValidationError{Path: "debugger.pseudoOffset", Value: d.PseudoOffset, Message: "must not be negative"}
	case s.Script.StatementLimit < 0:
		return &ValidationError{Path: "script.statementLimit", Value: s.Script.StatementLimit, Message: "must not be negative"}
	case s.Logging.Level != "" && !logging.ValidLevel(s.Logging.Level):
		return &ValidationError{Path: "logging.level", Value: s.Logging.Level, Message: "unknown level"}
	}
	return nil
}

// toMap converts settings to the nested map form used by the loaders.
func (s Settings) toMap() (map[string]any, error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := toml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeSettings converts a merged map to Settings.
func decodeSettings(data map[string]any) (Settings, error) {
	var s Settings
	raw, err := toml.Marshal(data)
	if err != nil {
		return s, fmt.Errorf("encoding settings: %w", err)
	}
	if err := toml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decoding settings: %w", err)
	}
	return s, nil
}
