package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/devpulse/internal"
	"github.com/starford/devpulse/internal/annotator"
	"github.com/starford/devpulse/internal/credentials"
	"github.com/starford/devpulse/internal/debt"
	"github.com/starford/devpulse/internal/history"
	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/mcpserver"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/registry"
	"github.com/starford/devpulse/internal/supervisor"
)

// projectRoot resolves the optional path argument, defaulting to the
// working directory.
func projectRoot(cmd *cli.Command) (string, error) {
	path := cmd.Args().First()
	if path == "" {
		path = "."
	}
	return registry.Normalize(path)
}

func openRegistry(cmd *cli.Command) (*registry.Registry, *internal.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(cfg.Daemon.RegistryPath()), cfg, nil
}

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run or inspect the background watcher",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Watch every registered project until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "http", Usage: "Serve the history API even if the config disables it"},
				},
				Action: runDaemon,
			},
			{
				Name:  "status",
				Usage: "Report whether a daemon is running",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					running, pid, err := supervisor.NewPIDFile(cfg.Daemon.PIDPath()).IsRunning()
					if err != nil {
						return err
					}
					if running {
						fmt.Printf("daemon running (pid %d)\n", pid)
					} else {
						fmt.Println("daemon not running")
					}
					reg := registry.New(cfg.Daemon.RegistryPath())
					fmt.Printf("%d project(s) registered\n", len(reg.Load()))
					return nil
				},
			},
		},
	}
}

func projectCommand() *cli.Command {
	return &cli.Command{
		Name:  "project",
		Usage: "Manage the projects watched by the daemon",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register a project directory",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name (default: directory name)"},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					root, err := projectRoot(cmd)
					if err != nil {
						return err
					}
					reg, _, err := openRegistry(cmd)
					if err != nil {
						return err
					}
					name := cmd.String("name")
					if name == "" {
						name = filepath.Base(root)
					}
					e, err := reg.Add(root, name)
					if err != nil {
						return err
					}
					fmt.Printf("registered %s (%s)\n", e.Name, e.Path)
					if !projectconfig.Exists(root) {
						fmt.Printf("note: %s has no %s yet; run `devpulse init %s`\n", root, projectconfig.FileName, root)
					}
					fmt.Println("restart the daemon to start monitoring it")
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Unregister a project directory",
				ArgsUsage: "[path]",
				Action: func(_ context.Context, cmd *cli.Command) error {
					root, err := projectRoot(cmd)
					if err != nil {
						return err
					}
					reg, _, err := openRegistry(cmd)
					if err != nil {
						return err
					}
					removed, err := reg.Remove(root)
					if err != nil {
						return err
					}
					if !removed {
						return fmt.Errorf("%s is not registered", root)
					}
					fmt.Printf("unregistered %s\n", root)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List registered projects",
				Action: func(_ context.Context, cmd *cli.Command) error {
					reg, _, err := openRegistry(cmd)
					if err != nil {
						return err
					}
					return printProjects(os.Stdout, reg.Load())
				},
			},
		},
	}
}

func printProjects(out io.Writer, entries []registry.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no projects registered")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tSTATUS\tADDED")
	for _, e := range entries {
		status := "ready"
		if _, err := os.Stat(e.Path); err != nil {
			status = "missing"
		} else if !projectconfig.Exists(e.Path) {
			status = "not initialised"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Path, status, e.AddedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Create the project configuration and change store",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Project name (default: directory name)"},
			&cli.StringFlag{Name: "provider", Value: string(llm.OpenRouter), Usage: "Model provider: openrouter, groq or bedrock"},
			&cli.StringFlag{Name: "model", Usage: "Model name (default depends on provider)"},
			&cli.StringFlag{Name: "region", Usage: "Bedrock region"},
			&cli.StringSliceFlag{Name: "tech", Usage: "Tech stack entry (repeatable)"},
			&cli.StringFlag{Name: "architecture", Usage: "Short architecture description"},
			&cli.StringFlag{Name: "api-key", Usage: "Store this API key in the project's credentials file", Sources: cli.EnvVars("DEVPULSE_API_KEY")},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing configuration"},
			&cli.BoolFlag{Name: "no-register", Usage: "Do not add the project to the daemon registry"},
		},
		Action: runInit,
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	if projectconfig.Exists(root) && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", projectconfig.Path(root))
	}

	name := cmd.String("name")
	if name == "" {
		name = filepath.Base(root)
	}
	cfg := projectconfig.Default(name)
	cfg.Provider = llm.Provider(cmd.String("provider"))
	if m := cmd.String("model"); m != "" {
		cfg.Model = m
	} else if dm, ok := projectconfig.DefaultModels[cfg.Provider]; ok {
		cfg.Model = dm
	}
	cfg.Region = cmd.String("region")
	if tech := cmd.StringSlice("tech"); len(tech) > 0 {
		cfg.Project.TechStack = tech
	}
	cfg.Project.Architecture = cmd.String("architecture")

	if err := projectconfig.Save(root, cfg); err != nil {
		return err
	}
	db, _, err := supervisor.OpenStore(root, name, cfg)
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	fmt.Printf("initialised %s\n", projectconfig.Dir(root))

	if key := cmd.String("api-key"); key != "" {
		if err := credentials.Store(root, cfg.Provider, key); err != nil {
			return err
		}
		fmt.Printf("stored %s in %s\n", credentials.EnvKey(cfg.Provider), credentials.Path(root))
	} else if _, ok := credentials.Lookup(root, cfg.Provider); !ok {
		fmt.Printf("no %s configured: the daemon will watch without analysing until one is set\n", credentials.EnvKey(cfg.Provider))
	}

	if !cmd.Bool("no-register") {
		reg, _, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		if _, err := reg.Add(root, name); err != nil {
			return err
		}
		fmt.Printf("registered %s; restart the daemon to start monitoring it\n", name)
	}
	return nil
}

func debtCommand() *cli.Command {
	return &cli.Command{
		Name:  "debt",
		Usage: "Technical-debt tools",
		Commands: []*cli.Command{
			{
				Name:      "scan",
				Usage:     "Scan a project for large files and TODO markers and store the findings",
				ArgsUsage: "[path]",
				Action: func(_ context.Context, cmd *cli.Command) error {
					root, err := projectRoot(cmd)
					if err != nil {
						return err
					}
					cfg, err := projectconfig.Load(root)
					if err != nil {
						return err
					}
					db, projectID, err := supervisor.OpenStore(root, cfg.Project.Name, cfg)
					if err != nil {
						return err
					}
					defer db.Close()

					items, err := debt.Run(db, projectID, root)
					if err != nil {
						return err
					}
					if len(items) == 0 {
						fmt.Println("no technical debt found")
						return nil
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "SEVERITY\tTYPE\tFILE\tDESCRIPTION")
					for _, it := range items {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Severity, it.Type, it.FilePath, it.Description)
					}
					return w.Flush()
				},
			},
		},
	}
}

// projectAnnotator builds the annotator for root from its configuration and
// credentials.
func projectAnnotator(root string, cfg *projectconfig.Config) (llm.Backend, *annotator.Annotator, error) {
	key, err := credentials.Require(root, cfg.Provider)
	if err != nil {
		return nil, nil, err
	}
	backend, err := llm.New(llm.Config{
		Provider: cfg.Provider,
		APIKey:   key,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		Region:   cfg.Region,
	})
	if err != nil {
		return nil, nil, err
	}
	return backend, annotator.New(backend, slog.Default()), nil
}

func summarizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "summarize",
		Usage:     "Ask the model for a prose summary of the project's recent history",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "recent", Value: 10, Usage: "Number of recent changes to include"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := projectconfig.Load(root)
			if err != nil {
				return err
			}
			_, ann, err := projectAnnotator(root, cfg)
			if err != nil {
				return err
			}
			db, projectID, err := supervisor.OpenStore(root, cfg.Project.Name, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			recent, err := history.NewService(db, projectID).RecentSummaries(ctx, int(cmd.Int("recent")))
			if err != nil {
				return err
			}
			summary, err := ann.SummarizeProject(ctx, annotator.ProjectContext{
				Name:         cfg.Project.Name,
				TechStack:    cfg.Project.TechStack,
				Architecture: cfg.Project.Architecture,
			}, recent)
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimSpace(summary))
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Validate the project configuration, credential and model connectivity",
		ArgsUsage: "[path]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := projectconfig.Load(root)
			if err != nil {
				return err
			}
			fmt.Printf("config: ok (%s, %s)\n", cfg.Provider, cfg.Model)

			backend, _, err := projectAnnotator(root, cfg)
			if err != nil {
				return err
			}
			fmt.Println("credential: ok")

			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if !llm.Validate(ctx, backend) {
				return errors.New("model: round-trip failed")
			}
			fmt.Println("model: ok")
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve a project's change history over MCP (stdio)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Value: ".", Usage: "Project root"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			// stdout carries the protocol.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

			root, err := registry.Normalize(cmd.String("project"))
			if err != nil {
				return err
			}
			cfg, err := projectconfig.Load(root)
			if err != nil {
				return err
			}
			db, projectID, err := supervisor.OpenStore(root, cfg.Project.Name, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := mcpserver.New(history.NewService(db, projectID, history.WithAnalytics(cfg.Features.Analytics)), version)
			return srv.ServeStdio()
		},
	}
}
