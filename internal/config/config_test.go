package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("Default().Validate() = %v, want none", errs)
	}
	if cfg.Session.HistoryScope != "phase" {
		t.Errorf("Session.HistoryScope = %q, want phase", cfg.Session.HistoryScope)
	}
	if !cfg.Session.Kickoff {
		t.Error("Session.Kickoff should default to true")
	}
	if cfg.Session.ModelTimeout().Minutes() != 5 {
		t.Errorf("ModelTimeout() = %v, want 5m", cfg.Session.ModelTimeout())
	}
}

func TestLoad_FromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
session:
  max_turns: 12
  coach_cadence: -1
participants:
  agents: [ada, grace, linus]
  coach: ""
lock:
  backend: redis
  redis_addr: "127.0.0.1:6380"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.MaxTurns != 12 {
		t.Errorf("MaxTurns = %d, want 12", cfg.Session.MaxTurns)
	}
	if cfg.Session.CoachCadence != -1 {
		t.Errorf("CoachCadence = %d, want -1", cfg.Session.CoachCadence)
	}
	if got := strings.Join(cfg.Participants.Agents, ","); got != "ada,grace,linus" {
		t.Errorf("Agents = %s", got)
	}
	if cfg.Participants.Coach != "" {
		t.Errorf("Coach = %q, want empty", cfg.Participants.Coach)
	}
	if cfg.Lock.Backend != "redis" || cfg.Lock.RedisAddr != "127.0.0.1:6380" {
		t.Errorf("Lock = %+v", cfg.Lock)
	}
	// Untouched keys keep defaults.
	if cfg.Session.MentionLookback != 3 {
		t.Errorf("MentionLookback = %d, want default 3", cfg.Session.MentionLookback)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero max turns", func(c *Config) { c.Session.MaxTurns = 0 }, "session.max_turns"},
		{"bad history scope", func(c *Config) { c.Session.HistoryScope = "all" }, "session.history_scope"},
		{"window without size", func(c *Config) { c.Session.HistoryScope = "window"; c.Session.HistoryWindow = 0 }, "session.history_window"},
		{"no agents", func(c *Config) { c.Participants.Agents = nil }, "participants.agents"},
		{"reserved name", func(c *Config) { c.Participants.Agents = []string{"human"} }, "participants"},
		{"duplicate name", func(c *Config) { c.Participants.Agents = []string{"a", "A"} }, "participants"},
		{"coach clashes with agent", func(c *Config) { c.Participants.Coach = "alice" }, "participants"},
		{"invalid name", func(c *Config) { c.Participants.Agents = []string{"1st"} }, "participants"},
		{"bad branch prefix", func(c *Config) { c.Branch.Prefix = "a/b" }, "branch.prefix"},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis"; c.Lock.RedisAddr = "" }, "lock.redis_addr"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("Validate() returned no errors")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", errs, tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Errorf("Error() = %q", got)
	}
	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	if got := two.Error(); !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("Error() = %q", got)
	}
}

func TestPathsConfig_Resolve(t *testing.T) {
	base := "/repo"
	var p PathsConfig
	if got := p.ResolveStateDir(base); got != "/repo/.roundtable" {
		t.Errorf("ResolveStateDir() = %q", got)
	}
	if got := p.ResolveWorktreeDir(base); got != "/repo/.roundtable/worktrees" {
		t.Errorf("ResolveWorktreeDir() = %q", got)
	}

	p = PathsConfig{StateDir: "state", WorktreeDir: "/abs/wt"}
	if got := p.ResolveStateDir(base); got != "/repo/state" {
		t.Errorf("ResolveStateDir() = %q", got)
	}
	if got := p.ResolveWorktreeDir(base); got != "/abs/wt" {
		t.Errorf("ResolveWorktreeDir() = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	p = PathsConfig{StateDir: "~/rt"}
	if got := p.ResolveStateDir(base); got != filepath.Join(home, "rt") {
		t.Errorf("ResolveStateDir(~/rt) = %q", got)
	}
}
