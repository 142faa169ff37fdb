package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/murmur/internal/app"
	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/lock"
	"github.com/mattjoyce/murmur/internal/log"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Connect to the backend and serve plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runStart(cmd.Context(), configPath)
		},
	}
}

func runStart(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(cfg.SourcePath)
	if err != nil {
		return fmt.Errorf("fingerprint config: %w", err)
	}
	logger.Info("murmur starting", "version", version, "config", cfg.SourcePath, "fingerprint", fingerprint[:12])

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, builtins())
	if err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("murmur stopped with error", "error", err)
		return err
	}
	logger.Info("murmur stopped")
	return nil
}
