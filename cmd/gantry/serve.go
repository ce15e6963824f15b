package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eleven-am/gantry/internal/core"
	"github.com/eleven-am/gantry/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("pipelines", "", "pipeline directory (overrides pipelines.dir)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("pipelines") {
		cfg.Pipelines.Dir, _ = cmd.Flags().GetString("pipelines")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := core.NewManager(cfg)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.Server, manager, manager.Collector().Registry(), cfg.Logger)
	serveErr := srv.ListenAndServe(ctx)

	if err := manager.Stop(); err != nil {
		cfg.Logger.Error("shutdown failed", "error", err)
	}
	if serveErr != nil && serveErr != context.Canceled {
		return serveErr
	}
	return nil
}
