package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete roundtable configuration
type Config struct {
	Session      SessionConfig      `mapstructure:"session"`
	Participants ParticipantsConfig `mapstructure:"participants"`
	Paths        PathsConfig        `mapstructure:"paths"`
	Branch       BranchConfig       `mapstructure:"branch"`
	FileGuard    FileGuardConfig    `mapstructure:"fileguard"`
	Checkpoint   CheckpointConfig   `mapstructure:"checkpoint"`
	AI           AIConfig           `mapstructure:"ai"`
	Lock         LockConfig         `mapstructure:"lock"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Templates    TemplatesConfig    `mapstructure:"templates"`
}

// SessionConfig controls the turn loop
type SessionConfig struct {
	// MaxTurns is the default agent-turn ceiling for new iterations
	MaxTurns int `mapstructure:"max_turns"`
	// CoachCadence is the number of agent turns between coach turns.
	// 0 means "one full round" (the number of agents); negative disables the coach.
	CoachCadence int `mapstructure:"coach_cadence"`
	// MentionLookback is how many recent messages are scanned for @mentions
	MentionLookback int `mapstructure:"mention_lookback"`
	// ModelTimeoutSeconds bounds a single model call (0 = no bound)
	ModelTimeoutSeconds int `mapstructure:"model_timeout_seconds"`
	// HistoryScope is one of "phase", "window" or "full"
	HistoryScope string `mapstructure:"history_scope"`
	// HistoryWindow is the number of messages kept when HistoryScope is "window"
	HistoryWindow int `mapstructure:"history_window"`
	// Kickoff synthesizes an opening system message when a phase has no history
	Kickoff bool `mapstructure:"kickoff"`
	// Parallel runs implementation-phase agents concurrently, one lane per sandbox
	Parallel bool `mapstructure:"parallel"`
}

// ModelTimeout returns the model call bound as a duration.
func (c *SessionConfig) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSeconds) * time.Second
}

// ParticipantsConfig names who takes part in a session
type ParticipantsConfig struct {
	// Agents are dispatched round-robin in this order
	Agents []string `mapstructure:"agents"`
	// Coach facilitates; empty disables the coach
	Coach string `mapstructure:"coach"`
}

// PathsConfig controls where state and sandboxes live
type PathsConfig struct {
	// StateDir holds iteration directories (default: .roundtable under the repo)
	StateDir string `mapstructure:"state_dir"`
	// WorktreeDir holds sandbox worktrees (default: .roundtable/worktrees)
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// BranchConfig controls sandbox branch naming
type BranchConfig struct {
	// Prefix is the first path segment of sandbox branches
	Prefix string `mapstructure:"prefix"`
	// Integration is the branch sandboxes fork from and merge into.
	// Empty means the repository's main branch (main or master).
	Integration string `mapstructure:"integration"`
}

// FileGuardConfig classifies agent file writes by glob
type FileGuardConfig struct {
	// Allow lists paths agents may write without approval
	Allow []string `mapstructure:"allow"`
	// Deny lists paths agents may never write; deny wins over allow
	Deny []string `mapstructure:"deny"`
}

// CheckpointConfig controls checkpoint contents
type CheckpointConfig struct {
	// Exclude adds glob patterns to the built-in exclusions
	Exclude []string `mapstructure:"exclude"`
}

// AIConfig configures the command used as the model backend
type AIConfig struct {
	// Command reads a JSON request on stdin and writes a JSON response on stdout
	Command string `mapstructure:"command"`
	// Args are passed to Command
	Args []string `mapstructure:"args"`
	// Env entries (KEY=VALUE) are added to the command environment
	Env []string `mapstructure:"env"`
}

// LockConfig selects how concurrent sessions on one iteration are prevented
type LockConfig struct {
	// Backend is "file" or "redis"
	Backend string `mapstructure:"backend"`
	// RedisAddr is host:port of the redis server when Backend is "redis"
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisDB selects the redis logical database
	RedisDB int `mapstructure:"redis_db"`
	// TTLSeconds bounds how long a redis lock survives a crashed holder
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// TTL returns the redis lock TTL as a duration.
func (c *LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// MaxSizeMB rotates debug.log past this size
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated logs to keep
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated logs
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	// Addr, when set, serves /metrics on this address while a session runs
	Addr string `mapstructure:"addr"`
}

// TemplatesConfig points at prompt template overrides
type TemplatesConfig struct {
	// Path is a YAML file overriding any subset of the built-in templates
	Path string `mapstructure:"path"`
}

// ResolveStateDir returns the directory holding iteration directories.
func (p *PathsConfig) ResolveStateDir(baseDir string) string {
	if p.StateDir == "" {
		return filepath.Join(baseDir, ".roundtable")
	}
	return resolvePath(p.StateDir, baseDir)
}

// ResolveWorktreeDir returns the directory holding sandbox worktrees.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(p.ResolveStateDir(baseDir), "worktrees")
	}
	return resolvePath(p.WorktreeDir, baseDir)
}

// resolvePath expands ~ and makes relative paths relative to baseDir.
func resolvePath(path, baseDir string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxTurns:            40,
			CoachCadence:        0,
			MentionLookback:     3,
			ModelTimeoutSeconds: 300,
			HistoryScope:        "phase",
			HistoryWindow:       50,
			Kickoff:             true,
			Parallel:            false,
		},
		Participants: ParticipantsConfig{
			Agents: []string{"alice", "bob"},
			Coach:  "coach",
		},
		Branch: BranchConfig{
			Prefix: "roundtable",
		},
		FileGuard: FileGuardConfig{
			Allow: []string{"src/**", "internal/**", "cmd/**", "pkg/**", "docs/**", "test/**", "tests/**", "*.md"},
			Deny:  []string{".git/**", ".roundtable/**", "**/.env", "**/*.pem"},
		},
		Lock: LockConfig{
			Backend:    "file",
			RedisAddr:  "localhost:6379",
			TTLSeconds: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with the global viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("session.max_turns", defaults.Session.MaxTurns)
	v.SetDefault("session.coach_cadence", defaults.Session.CoachCadence)
	v.SetDefault("session.mention_lookback", defaults.Session.MentionLookback)
	v.SetDefault("session.model_timeout_seconds", defaults.Session.ModelTimeoutSeconds)
	v.SetDefault("session.history_scope", defaults.Session.HistoryScope)
	v.SetDefault("session.history_window", defaults.Session.HistoryWindow)
	v.SetDefault("session.kickoff", defaults.Session.Kickoff)
	v.SetDefault("session.parallel", defaults.Session.Parallel)

	v.SetDefault("participants.agents", defaults.Participants.Agents)
	v.SetDefault("participants.coach", defaults.Participants.Coach)

	v.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	v.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)

	v.SetDefault("branch.prefix", defaults.Branch.Prefix)
	v.SetDefault("branch.integration", defaults.Branch.Integration)

	v.SetDefault("fileguard.allow", defaults.FileGuard.Allow)
	v.SetDefault("fileguard.deny", defaults.FileGuard.Deny)

	v.SetDefault("checkpoint.exclude", defaults.Checkpoint.Exclude)

	v.SetDefault("ai.command", defaults.AI.Command)
	v.SetDefault("ai.args", defaults.AI.Args)
	v.SetDefault("ai.env", defaults.AI.Env)

	v.SetDefault("lock.backend", defaults.Lock.Backend)
	v.SetDefault("lock.redis_addr", defaults.Lock.RedisAddr)
	v.SetDefault("lock.redis_db", defaults.Lock.RedisDB)
	v.SetDefault("lock.ttl_seconds", defaults.Lock.TTLSeconds)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
	v.SetDefault("templates.path", defaults.Templates.Path)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "roundtable")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roundtable"
	}
	return filepath.Join(home, ".config", "roundtable")
}

// ConfigFile returns the path to the user-level config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
