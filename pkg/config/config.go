// Package config loads taskcore's TOML configuration. A global file under
// the user's config directory is overlaid by an optional project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/logging"
	"github.com/jg-phare/taskcore/pkg/subagent"
	"github.com/jg-phare/taskcore/pkg/types"
)

// FileName is the name of a configuration file.
const FileName = "config.toml"

// ProjectDir is where a project keeps its configuration.
const ProjectDir = ".taskcore"

// Config is the merged configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Log       LogConfig       `toml:"log"`
	Hooks     HooksConfig     `toml:"hooks"`
	Approval  approval.Policy `toml:"approval"`
	Subagents SubagentsConfig `toml:"subagents"`
	Agent     AgentConfig     `toml:"agent"`
	Worktree  WorktreeConfig  `toml:"worktree"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
	// Origins are accepted cross-origin hosts for websocket upgrades.
	Origins []string `toml:"origins"`
}

type StorageConfig struct {
	Dir string `toml:"dir"`
	// RetentionDays is how long idle tasks survive `tasks prune`.
	RetentionDays int `toml:"retention_days"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type HooksConfig struct {
	GlobalDir  string                `toml:"global_dir"`
	ProjectDir string                `toml:"project_dir"`
	DebounceMS int                   `toml:"debounce_ms"`
	TimeoutMS  int                   `toml:"timeout_ms"`
	Command    []hooks.CommandConfig `toml:"command"`
}

type SubagentsConfig struct {
	GlobalDir     string `toml:"global_dir"`
	ProjectDir    string `toml:"project_dir"`
	MaxDepth      int    `toml:"max_depth"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

type AgentConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	EditorModel  string `toml:"editor_model"`
	WeakModel    string `toml:"weak_model"`
	MaxTurns     int    `toml:"max_turns"`
	MaxTokens    int    `toml:"max_tokens"`
	SystemPrompt string `toml:"system_prompt"`
}

type WorktreeConfig struct {
	Dir        string `toml:"dir"`
	BaseBranch string `toml:"base_branch"`
}

// Default returns the configuration used when no file sets a value.
// dataDir roots the storage, hook and profile directories.
func Default(dataDir string) *Config {
	return &Config{
		Server:  ServerConfig{Listen: "127.0.0.1:7420"},
		Storage: StorageConfig{Dir: filepath.Join(dataDir, "tasks"), RetentionDays: 30},
		Log:     LogConfig{Level: "info", Format: "text"},
		Hooks: HooksConfig{
			GlobalDir:  filepath.Join(dataDir, "hooks"),
			ProjectDir: hooks.DefaultProjectSubdir,
			DebounceMS: int(hooks.DefaultDebounce / time.Millisecond),
		},
		Approval: approval.DefaultPolicy(),
		Subagents: SubagentsConfig{
			GlobalDir:     filepath.Join(dataDir, "agents"),
			ProjectDir:    subagent.DefaultProjectSubdir,
			MaxDepth:      subagent.DefaultMaxDepth,
			MaxConcurrent: subagent.DefaultMaxConcurrent,
		},
		Agent: AgentConfig{
			Provider: "anthropic",
			Model:    "anthropic/claude-sonnet-4-5",
			MaxTurns: 50,
		},
	}
}

// Loader reads configuration files.
type Loader struct {
	// GlobalDir holds the global config.toml. Empty skips it.
	GlobalDir string
	// DataDir roots default paths. Empty means GlobalDir.
	DataDir string
}

// NewLoader creates a Loader rooted at the user's config directory.
func NewLoader() *Loader {
	return &Loader{GlobalDir: DefaultGlobalDir()}
}

// DefaultGlobalDir returns $XDG_CONFIG_HOME/taskcore or
// ~/.config/taskcore.
func DefaultGlobalDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "taskcore")
}

// Load returns defaults overlaid by the global file and then by the
// project file when projectDir is set. Missing files are skipped.
func (l *Loader) Load(projectDir string) (*Config, error) {
	dataDir := l.DataDir
	if dataDir == "" {
		dataDir = l.GlobalDir
	}
	cfg := Default(dataDir)

	if l.GlobalDir != "" {
		if err := decodeFile(filepath.Join(l.GlobalDir, FileName), cfg); err != nil {
			return nil, err
		}
	}
	if projectDir != "" {
		project := &Config{}
		path := filepath.Join(projectDir, ProjectDir, FileName)
		if err := decodeFile(path, project); err != nil {
			return nil, err
		}
		cfg.overlay(project)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile decodes path onto cfg. Keys absent from the file keep their
// current value.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// overlay applies a project file. Only agent, approval, hooks and
// worktree settings may be changed per project; the approval policy is
// merged so project entries win.
func (c *Config) overlay(p *Config) {
	c.Approval = c.Approval.Merge(p.Approval)
	c.Hooks.Command = append(c.Hooks.Command, p.Hooks.Command...)

	if p.Agent.Model != "" {
		c.Agent.Model = p.Agent.Model
	}
	if p.Agent.EditorModel != "" {
		c.Agent.EditorModel = p.Agent.EditorModel
	}
	if p.Agent.WeakModel != "" {
		c.Agent.WeakModel = p.Agent.WeakModel
	}
	if p.Agent.MaxTurns > 0 {
		c.Agent.MaxTurns = p.Agent.MaxTurns
	}
	if p.Agent.SystemPrompt != "" {
		c.Agent.SystemPrompt = p.Agent.SystemPrompt
	}
	if p.Worktree.Dir != "" {
		c.Worktree.Dir = p.Worktree.Dir
	}
	if p.Worktree.BaseBranch != "" {
		c.Worktree.BaseBranch = p.Worktree.BaseBranch
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Approval.Validate(); err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	for i, h := range c.Hooks.Command {
		if _, err := hooks.NewCommandHandler(h); err != nil {
			return fmt.Errorf("hooks.command[%d]: %w", i, err)
		}
	}
	return nil
}

// Models returns the default model selection of new tasks.
func (c *Config) Models() types.Models {
	return types.Models{Main: c.Agent.Model, Editor: c.Agent.EditorModel, Weak: c.Agent.WeakModel}
}

// HookDebounce returns the hook watcher debounce.
func (c *Config) HookDebounce() time.Duration {
	return time.Duration(c.Hooks.DebounceMS) * time.Millisecond
}

// HookTimeout returns the per-handler timeout, zero meaning the runner
// default.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.TimeoutMS) * time.Millisecond
}

// Retention returns how long idle tasks are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}
