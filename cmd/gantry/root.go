package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eleven-am/gantry/internal/config"
	"github.com/eleven-am/gantry/internal/domain"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gantry",
		Short:         "Gantry runs CI/CD pipelines with gates, approvals and artifacts",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "config file (default gantry.yaml when present)")
	persistent.String("log-level", "", "log level (debug|info|warn|error)")
	persistent.String("log-format", "", "log format (json|text)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// loadConfig reads the config file and applies the logging flags. The logger
// writes to w.
func loadConfig(cmd *cobra.Command, w io.Writer) (*domain.Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("parse --config: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		if cfg.Log.Level, err = flags.GetString("log-level"); err != nil {
			return nil, fmt.Errorf("parse --log-level: %w", err)
		}
	}
	if flags.Changed("log-format") {
		if cfg.Log.Format, err = flags.GetString("log-format"); err != nil {
			return nil, fmt.Errorf("parse --log-format: %w", err)
		}
	}

	logger, err := newLogger(cfg.Log, w)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	return cfg, nil
}

func newLogger(cfg domain.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, domain.NewConfigError("log.level", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, domain.NewConfigError("log.format", fmt.Errorf("unknown format %q", cfg.Format))
	}
}
