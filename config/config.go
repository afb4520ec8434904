// Package config loads the YAML pool-definition file, applies
// ${VAR}-style environment substitution, validates it, and supports
// fsnotify-based hot reload. Pool definitions are keyed by a short
// name chosen by the operator.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver"
)

// Config is the top-level configuration file shape.
type Config struct {
	API      APIConfig             `yaml:"api"`
	Health   HealthConfig          `yaml:"health"`
	Defaults PoolDefaults          `yaml:"defaults"`
	Pools    map[string]PoolConfig `yaml:"pools"`
}

// APIConfig controls the admin/metrics HTTP surface.
type APIConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// HealthConfig controls the background idle-connection sweep.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
}

// PoolDefaults are applied to any PoolConfig field left unset.
type PoolDefaults struct {
	InitialSize  int    `yaml:"initial_size"`
	MaxSize      int    `yaml:"max_size"`
	CallbackMode string `yaml:"callback_mode"`
}

// PoolConfig describes one named connection pool.
type PoolConfig struct {
	Driver       string  `yaml:"driver"`
	ConnInfo     string  `yaml:"conninfo"`
	InitialSize  *int    `yaml:"initial_size,omitempty"`
	MaxSize      *int    `yaml:"max_size,omitempty"`
	CallbackMode *string `yaml:"callback_mode,omitempty"`
}

// EffectiveInitialSize returns the pool's configured initial size or
// the default.
func (p PoolConfig) EffectiveInitialSize(d PoolDefaults) int {
	if p.InitialSize != nil {
		return *p.InitialSize
	}
	return d.InitialSize
}

// EffectiveMaxSize returns the pool's configured max size or the
// default.
func (p PoolConfig) EffectiveMaxSize(d PoolDefaults) int {
	if p.MaxSize != nil {
		return *p.MaxSize
	}
	return d.MaxSize
}

// EffectiveCallbackMode returns the pool's configured callback mode or
// the default, parsed into a conn.CallbackMode.
func (p PoolConfig) EffectiveCallbackMode(d PoolDefaults) conn.CallbackMode {
	s := d.CallbackMode
	if p.CallbackMode != nil {
		s = *p.CallbackMode
	}
	if s == "loop" {
		return conn.Loop
	}
	return conn.Worker
}

// DriverKind resolves the configured driver name to a driver.Kind.
func (p PoolConfig) DriverKind() (driver.Kind, error) {
	switch p.Driver {
	case "sqlite3":
		return driver.SQLITE3, nil
	case "duckdb":
		return driver.DUCKDB, nil
	case "pgsql":
		return driver.PGSQL, nil
	case "mysql":
		return driver.MYSQL, nil
	default:
		return 0, fmt.Errorf("config: unsupported driver %q (must be sqlite3, duckdb, pgsql, or mysql)", p.Driver)
	}
}

// Redacted returns a copy of the config with every pool's conninfo
// masked, safe to log.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Pools = make(map[string]PoolConfig, len(c.Pools))
	for name, pc := range c.Pools {
		pc.ConnInfo = "***REDACTED***"
		cp.Pools[name] = pc
	}
	return &cp
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, leaving unmatched names untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution,
// validates it, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing file: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 30 * time.Second
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = 5 * time.Second
	}
	if cfg.Defaults.InitialSize == 0 {
		cfg.Defaults.InitialSize = 2
	}
	if cfg.Defaults.MaxSize == 0 {
		cfg.Defaults.MaxSize = 10
	}
	if cfg.Defaults.CallbackMode == "" {
		cfg.Defaults.CallbackMode = "worker"
	}
}

func validate(cfg *Config) error {
	for name, pc := range cfg.Pools {
		if _, err := pc.DriverKind(); err != nil {
			return fmt.Errorf("pool %q: %w", name, err)
		}
		if pc.ConnInfo == "" {
			return fmt.Errorf("pool %q: conninfo is required", name)
		}
		initial := pc.EffectiveInitialSize(cfg.Defaults)
		max := pc.EffectiveMaxSize(cfg.Defaults)
		if initial <= 0 || initial > max {
			return fmt.Errorf("pool %q: initial_size (%d) must be > 0 and <= max_size (%d)", name, initial, max)
		}
	}
	return nil
}

// Watcher watches a config file for changes and invokes callback with
// the freshly reloaded config, debounced so a burst of writes produces
// one reload.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates and starts a config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watching file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config hot-reload failed", "path", cw.path, "error", err)
		return
	}
	slog.Info("config reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
