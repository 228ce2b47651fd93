package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/devpulse/internal/registry"
	"github.com/starford/devpulse/internal/supervisor"
	pkgconfig "github.com/starford/devpulse/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// HomeDirName is the global devpulse directory under the user's home.
const HomeDirName = ".devpulse"

// LogFileName is the default daemon log inside the global directory.
const LogFileName = "daemon.log"

// Config represents the daemon configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Daemon DaemonConfig      `yaml:"daemon"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Daemon.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile receives the JSON log. Empty means daemon.log in the daemon
	// home; "-" means stdout.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.When(c.Enabled, validation.Required), validation.Min(1), validation.Max(65535)),
	)
}

// DaemonConfig holds supervisor settings.
type DaemonConfig struct {
	// Home holds the project registry, the PID marker and the default log.
	Home            string        `yaml:"home"`
	ReloadInterval  time.Duration `yaml:"reload_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Validate validates the daemon configuration.
func (c *DaemonConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Home, validation.Required),
		validation.Field(&c.ReloadInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// RegistryPath returns the project registry file.
func (c *DaemonConfig) RegistryPath() string {
	return filepath.Join(c.Home, registry.FileName)
}

// PIDPath returns the daemon PID marker.
func (c *DaemonConfig) PIDPath() string {
	return filepath.Join(c.Home, supervisor.PIDFileName)
}

// LogPath returns the default daemon log file.
func (c *DaemonConfig) LogPath() string {
	return filepath.Join(c.Home, LogFileName)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// DefaultHome returns ~/.devpulse, or .devpulse in the working directory
// when the home directory cannot be resolved.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return HomeDirName
	}
	return filepath.Join(home, HomeDirName)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Enabled: false,
				Port:    7420,
			},
		},
		Daemon: DaemonConfig{
			Home:            DefaultHome(),
			ReloadInterval:  supervisor.DefaultReloadInterval,
			ShutdownTimeout: supervisor.DefaultShutdownTimeout,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

// LoadWithDefaults reads path over the defaults. A missing file yields the
// defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := pkgconfig.LoadOptional(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
