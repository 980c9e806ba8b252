package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/marginalia/internal"
	pkgconfig "github.com/starford/marginalia/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.Storage.Root = root
	}
	return cfg, nil
}

func run(entry func(context.Context, ...internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := entry(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("APP_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "root",
			Aliases: []string{"r"},
			Usage:   "Storage root directory (overrides config)",
			Sources: cli.EnvVars("MARGINALIA_ROOT"),
		},
	}

	cmd := &cli.Command{
		Name:  "marginalia",
		Usage: "Durable per-line source annotations with filesystem-only cross-process coordination",
		Flags: flags,
		// Bare invocation serves one caller session on stdin/stdout.
		Action: run(internal.RunChannel),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the framed message channel for one caller session on stdin/stdout",
				Flags:  flags,
				Action: run(internal.RunChannel),
			},
			{
				Name:   "httpd",
				Usage:  "Serve the read-only HTTP inspector over the configured storage root",
				Flags:  flags,
				Action: run(internal.RunHTTP),
			},
			{
				Name:   "mcp",
				Usage:  "Serve annotation tools to MCP clients on stdin/stdout",
				Flags:  flags,
				Action: run(internal.RunMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
