package internal

import "github.com/starford/devpulse/internal/supervisor"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	newBackend supervisor.BackendFactory
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithBackendFactory replaces the model backend constructor.
func WithBackendFactory(f supervisor.BackendFactory) Option {
	return func(a *application) {
		a.newBackend = f
	}
}
