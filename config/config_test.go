package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbcore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
api:
  bind: 0.0.0.0
  port: 9090

health:
  interval: 10s
  failure_threshold: 5
  check_timeout: 2s

defaults:
  initial_size: 3
  max_size: 12
  callback_mode: loop

pools:
  primary:
    driver: pgsql
    conninfo: "host=localhost port=5432 user=app dbname=app"
  cache:
    driver: sqlite3
    conninfo: ":memory:"
    initial_size: 1
    max_size: 2
    callback_mode: worker
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.API.Port)
	}
	if cfg.Health.Interval != 10*time.Second {
		t.Errorf("expected health interval 10s, got %v", cfg.Health.Interval)
	}
	if cfg.Health.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", cfg.Health.FailureThreshold)
	}
	if len(cfg.Pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(cfg.Pools))
	}

	primary := cfg.Pools["primary"]
	if kind, err := primary.DriverKind(); err != nil || kind != driver.PGSQL {
		t.Errorf("primary driver kind = (%v, %v), want pgsql", kind, err)
	}
	if got := primary.EffectiveInitialSize(cfg.Defaults); got != 3 {
		t.Errorf("primary initial size = %d, want default 3", got)
	}
	if got := primary.EffectiveCallbackMode(cfg.Defaults); got != conn.Loop {
		t.Errorf("primary callback mode = %v, want loop default", got)
	}

	cache := cfg.Pools["cache"]
	if got := cache.EffectiveInitialSize(cfg.Defaults); got != 1 {
		t.Errorf("cache initial size = %d, want override 1", got)
	}
	if got := cache.EffectiveMaxSize(cfg.Defaults); got != 2 {
		t.Errorf("cache max size = %d, want override 2", got)
	}
	if got := cache.EffectiveCallbackMode(cfg.Defaults); got != conn.Worker {
		t.Errorf("cache callback mode = %v, want worker override", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "pools: {}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Port != 8080 || cfg.API.Bind != "127.0.0.1" {
		t.Errorf("api defaults = %s:%d, want 127.0.0.1:8080", cfg.API.Bind, cfg.API.Port)
	}
	if cfg.Health.Interval != 30*time.Second {
		t.Errorf("health interval default = %v, want 30s", cfg.Health.Interval)
	}
	if cfg.Defaults.InitialSize != 2 || cfg.Defaults.MaxSize != 10 {
		t.Errorf("pool size defaults = (%d, %d), want (2, 10)", cfg.Defaults.InitialSize, cfg.Defaults.MaxSize)
	}
	if cfg.Defaults.CallbackMode != "worker" {
		t.Errorf("callback mode default = %q, want worker", cfg.Defaults.CallbackMode)
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("DBCORE_TEST_PASS", "s3cret")

	yaml := `
pools:
  primary:
    driver: mysql
    conninfo: "host=db;user=app;password=${DBCORE_TEST_PASS};db=app"
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := "host=db;user=app;password=s3cret;db=app"
	if got := cfg.Pools["primary"].ConnInfo; got != want {
		t.Errorf("conninfo = %q, want %q", got, want)
	}
}

func TestEnvVarSubstitutionLeavesUnsetUntouched(t *testing.T) {
	data := substituteEnvVars([]byte("x: ${DBCORE_DEFINITELY_UNSET_VAR}"))
	if string(data) != "x: ${DBCORE_DEFINITELY_UNSET_VAR}" {
		t.Errorf("unset variable was rewritten: %q", data)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			"unsupported driver",
			"pools:\n  p:\n    driver: oracle\n    conninfo: x\n",
		},
		{
			"missing conninfo",
			"pools:\n  p:\n    driver: pgsql\n",
		},
		{
			"initial exceeds max",
			"pools:\n  p:\n    driver: pgsql\n    conninfo: x\n    initial_size: 5\n    max_size: 2\n",
		},
		{
			"zero initial",
			"pools:\n  p:\n    driver: pgsql\n    conninfo: x\n    initial_size: 0\n    max_size: 0\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTemp(t, tc.yaml)); err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := &Config{
		Pools: map[string]PoolConfig{
			"p": {Driver: "pgsql", ConnInfo: "host=db password=hunter2"},
		},
	}
	red := cfg.Redacted()
	if red.Pools["p"].ConnInfo != "***REDACTED***" {
		t.Errorf("redacted conninfo = %q", red.Pools["p"].ConnInfo)
	}
	if cfg.Pools["p"].ConnInfo != "host=db password=hunter2" {
		t.Error("Redacted mutated the original config")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTemp(t, "pools: {}\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	updated := `
pools:
  primary:
    driver: sqlite3
    conninfo: ":memory:"
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Pools) != 1 {
			t.Errorf("reloaded config has %d pools, want 1", len(cfg.Pools))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the reloaded config")
	}
}
