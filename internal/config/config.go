package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/config/loader"
	"github.com/dshills/scriptdbg/internal/config/notify"
	"github.com/dshills/scriptdbg/internal/config/watcher"
	"github.com/dshills/scriptdbg/internal/logging"
)

// Config holds the merged configuration: defaults, then settings.toml,
// then environment overrides. Set writes to the file layer only, so Save
// never persists defaults or environment values.
type Config struct {
	mu sync.RWMutex

	file     *loader.TOMLLoader
	env      loader.Loader
	defaults map[string]any
	user     map[string]any
	merged   map[string]any
	settings Settings

	notifier *notify.Notifier
	watcher  *watcher.Watcher
	log      *logging.Logger
}

// Option configures a Config.
type Option func(*Config)

// WithFileSystem sets the file system of the settings file.
func WithFileSystem(fs loader.FileSystem) Option {
	return func(c *Config) {
		c.file = loader.NewTOMLLoaderWithFS(fs, c.file.Path())
	}
}

// WithEnvLoader replaces the environment loader. A nil loader disables
// environment overrides.
func WithEnvLoader(l loader.Loader) Option {
	return func(c *Config) {
		c.env = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.log = l.WithComponent("config")
		}
	}
}

// New creates a configuration backed by the settings file at path. An
// empty path keeps everything in memory. Call Load to read the sources.
func New(path string, opts ...Option) *Config {
	c := &Config{
		file:     loader.NewTOMLLoader(path),
		env:      loader.NewEnvLoader(loader.EnvPrefix),
		user:     make(map[string]any),
		notifier: notify.New(),
		log:      logging.NewNull(),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.defaults, _ = DefaultSettings().toMap()
	c.merged = loader.Clone(c.defaults)
	return c
}

// DefaultPath returns the user settings file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "settings.toml"
	}
	return filepath.Join(dir, "scriptdbg", "settings.toml")
}

// Path returns the settings file path.
func (c *Config) Path() string {
	return c.file.Path()
}

// Load reads all sources. On error the previous configuration is kept.
func (c *Config) Load() error {
	user, err := c.file.Load()
	if err != nil {
		return err
	}
	if user == nil {
		user = make(map[string]any)
	}
	var env map[string]any
	if c.env != nil {
		if env, err = c.env.Load(); err != nil {
			return fmt.Errorf("loading environment: %w", err)
		}
	}

	merged := loader.DeepMerge(loader.Clone(c.defaults), loader.Clone(user))
	merged = loader.DeepMerge(merged, env)
	settings, err := decodeSettings(merged)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.user, c.merged, c.settings = user, merged, settings
	c.mu.Unlock()

	c.log.Debug("loaded settings from %s", c.Path())
	c.notifier.NotifyReload("file")
	return nil
}

// Settings returns the typed settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Get returns the merged value at path.
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return loader.GetPath(c.merged, path)
}

// Set changes the value at path in the settings file layer and notifies
// observers. An environment override for the same path keeps winning in
// the merged view until the next Load.
func (c *Config) Set(path string, value any) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return ErrInvalidPath
	}

	c.mu.Lock()
	user := loader.Clone(c.user)
	loader.SetPath(user, path, value)
	merged := loader.Clone(c.merged)
	loader.SetPath(merged, path, value)
	settings, err := decodeSettings(merged)
	if err == nil {
		err = settings.Validate()
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	old, _ := loader.GetPath(c.merged, path)
	c.user, c.merged, c.settings = user, merged, settings
	c.mu.Unlock()

	c.notifier.NotifySet(path, old, value, "user")
	return nil
}

// Save writes the settings file layer.
func (c *Config) Save() error {
	if c.Path() == "" {
		return ErrNoFile
	}
	c.mu.RLock()
	user := loader.Clone(c.user)
	c.mu.RUnlock()
	return c.file.Save(user)
}

// Subscribe registers an observer for all changes.
func (c *Config) Subscribe(obs notify.Observer) *notify.Subscription {
	return c.notifier.Subscribe(obs)
}

// SubscribePath registers an observer for one section or setting.
func (c *Config) SubscribePath(path string, obs notify.Observer) *notify.Subscription {
	return c.notifier.SubscribePath(path, obs)
}

// Watch reloads the configuration whenever the settings file changes.
// post runs the reload; hosts pass their event loop's Post so that reloads
// happen on the loop goroutine.
func (c *Config) Watch(ctx context.Context, post func(func()) error) error {
	if c.Path() == "" {
		return ErrNoFile
	}
	w, err := watcher.New()
	if err != nil {
		return err
	}
	if err := w.Watch(c.Path()); err != nil {
		w.Close()
		return err
	}
	w.OnChange(func(ev watcher.Event) {
		err := post(func() {
			if err := c.Load(); err != nil {
				c.log.Warn("reload %s: %v", ev.Path, err)
			}
		})
		if err != nil {
			c.log.Debug("reload not posted: %v", err)
		}
	})
	w.OnError(func(err error) {
		c.log.Warn("watching %s: %v", c.Path(), err)
	})
	w.Start(ctx)

	c.mu.Lock()
	old := c.watcher
	c.watcher = w
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close stops watching and notifying.
func (c *Config) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	c.notifier.Close()
	return err
}
