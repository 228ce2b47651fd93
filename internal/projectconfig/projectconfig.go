// Package projectconfig reads and writes the per-project settings stored in
// <root>/.devpulse/config.yaml.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/storage"
	pkgconfig "github.com/starford/devpulse/pkg/config"
)

const (
	// DirName is the per-project state directory.
	DirName = ".devpulse"
	// FileName is the config file inside DirName.
	FileName = "config.yaml"
	// DBName is the change store file inside DirName.
	DBName = "history.db"
)

// Quiet window bounds.
const (
	MinQuietWindow     = 5 * time.Second
	MaxQuietWindow     = 10 * time.Second
	DefaultQuietWindow = 10 * time.Second
)

// DefaultIgnorePatterns are applied when a project does not configure its own.
var DefaultIgnorePatterns = []string{
	"node_modules/**",
	"dist/**",
	"build/**",
	"*.log",
	".git/**",
	"coverage/**",
	DirName + "/**",
}

// Config is the per-project configuration. It is read once when a pipeline is
// constructed; edits take effect on the next daemon start.
type Config struct {
	Provider       llm.Provider  `yaml:"ai_provider"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url,omitempty"`
	Region         string        `yaml:"region,omitempty"`
	QuietWindow    time.Duration `yaml:"quiet_window"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
	Features       Features      `yaml:"features"`
	Project        ProjectInfo   `yaml:"project"`
}

// Features toggles optional pipeline behaviour.
type Features struct {
	AutoDocumentation bool `yaml:"auto_documentation"`
	TechnicalDebt     bool `yaml:"technical_debt"`
	Analytics         bool `yaml:"analytics"`
}

// ProjectInfo is the context handed to the model with every batch.
type ProjectInfo struct {
	Name         string   `yaml:"name"`
	TechStack    []string `yaml:"tech_stack"`
	Architecture string   `yaml:"architecture"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	providers := make([]any, len(llm.Providers))
	for i, p := range llm.Providers {
		providers[i] = p
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(providers...)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.QuietWindow, validation.Min(MinQuietWindow), validation.Max(MaxQuietWindow)),
		validation.Field(&c.Region, validation.When(c.Provider == llm.Bedrock, validation.Required)),
		validation.Field(&c.IgnorePatterns, validation.Each(validation.Required)),
	)
}

// DefaultModels is the model chosen for each provider when none is given.
var DefaultModels = map[llm.Provider]string{
	llm.OpenRouter: "anthropic/claude-3.5-sonnet",
	llm.Groq:       "llama-3.3-70b-versatile",
	llm.Bedrock:    "anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// Default returns the configuration written by `devpulse init`.
func Default(name string) *Config {
	return &Config{
		Provider:       llm.OpenRouter,
		Model:          DefaultModels[llm.OpenRouter],
		QuietWindow:    DefaultQuietWindow,
		IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
		Features: Features{
			AutoDocumentation: true,
			TechnicalDebt:     true,
			Analytics:         true,
		},
		Project: ProjectInfo{
			Name:      name,
			TechStack: []string{},
		},
	}
}

// Dir returns the state directory of the project rooted at root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// Path returns the config file location of the project rooted at root.
func Path(root string) string {
	return filepath.Join(Dir(root), FileName)
}

// DBPath returns the change store location of the project rooted at root.
func DBPath(root string) string {
	return filepath.Join(Dir(root), DBName)
}

// Exists reports whether root carries a project configuration.
func Exists(root string) bool {
	info, err := os.Stat(Path(root))
	return err == nil && !info.IsDir()
}

// Load reads the configuration of the project rooted at root. Keys absent
// from the file keep their defaults.
func Load(root string) (*Config, error) {
	path := Path(root)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("projectconfig: %s is not initialised", root)
	}
	cfg := Default(filepath.Base(root))
	if err := pkgconfig.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("projectconfig: %w", err)
	}
	if cfg.QuietWindow == 0 {
		cfg.QuietWindow = DefaultQuietWindow
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(root)
	}
	return cfg, nil
}

// Save writes cfg for the project rooted at root.
func Save(root string, cfg *Config) error {
	data, err := pkgconfig.Save(cfg)
	if err != nil {
		return fmt.Errorf("projectconfig: %w", err)
	}
	if err := storage.WriteAtomic(Path(root), data, 0o644); err != nil {
		return fmt.Errorf("projectconfig: %w", err)
	}
	return nil
}
