package config

import (
	"path/filepath"
	"slices"
)

// Setting paths of the exception policy.
const (
	KeyStopOnException  = "debugger.stopOnException"
	KeyIgnoreExceptions = "debugger.ignoreExceptions"
)

// ExceptionPolicy is the persisted exception policy of the debugger. Every
// change is saved to the settings file right away.
type ExceptionPolicy struct {
	cfg *Config
}

// NewExceptionPolicy creates a policy stored in cfg.
func NewExceptionPolicy(cfg *Config) *ExceptionPolicy {
	return &ExceptionPolicy{cfg: cfg}
}

// StopOnException reports whether unhandled errors are intercepted.
func (p *ExceptionPolicy) StopOnException() bool {
	return p.cfg.Settings().Debugger.StopOnException
}

// SetStopOnException changes and persists the flag.
func (p *ExceptionPolicy) SetStopOnException(stop bool) error {
	if err := p.cfg.Set(KeyStopOnException, stop); err != nil {
		return err
	}
	return p.save()
}

// Ignored returns the ignored paths.
func (p *ExceptionPolicy) Ignored() []string {
	return DecodePathList(p.cfg.Settings().Debugger.IgnoreExceptions)
}

// IsIgnored reports whether errors from path are never intercepted.
func (p *ExceptionPolicy) IsIgnored(path string) bool {
	path = filepath.Clean(path)
	return slices.ContainsFunc(p.Ignored(), func(p string) bool {
		return filepath.Clean(p) == path
	})
}

// Ignore adds path to the ignore list and persists it.
func (p *ExceptionPolicy) Ignore(path string) error {
	if path == "" || p.IsIgnored(path) {
		return nil
	}
	list := append(p.Ignored(), path)
	if err := p.cfg.Set(KeyIgnoreExceptions, EncodePathList(list)); err != nil {
		return err
	}
	return p.save()
}

// Unignore removes path from the ignore list and persists it.
func (p *ExceptionPolicy) Unignore(path string) error {
	path = filepath.Clean(path)
	list := slices.DeleteFunc(p.Ignored(), func(p string) bool {
		return filepath.Clean(p) == path
	})
	if err := p.cfg.Set(KeyIgnoreExceptions, EncodePathList(list)); err != nil {
		return err
	}
	return p.save()
}

// save persists when the configuration has a file.
func (p *ExceptionPolicy) save() error {
	if p.cfg.Path() == "" {
		return nil
	}
	return p.cfg.Save()
}
