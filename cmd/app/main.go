package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/devpulse/internal"
)

const version = "0.1.0"

// loadConfig reads the daemon configuration named by --config, falling back
// to ~/.devpulse/config.yaml.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	path := cmd.String("config")
	if path == "" {
		path = filepath.Join(internal.DefaultHome(), "config.yaml")
	}
	cfg, err := internal.LoadWithDefaults(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("http") {
		cfg.App.HTTP.Enabled = true
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("daemon run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "devpulse",
		Usage:   "Watch project directories and keep a semantic history of code changes",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to daemon config file",
				DefaultText: "~/.devpulse/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			daemonCommand(),
			projectCommand(),
			initCommand(),
			debtCommand(),
			summarizeCommand(),
			checkCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
