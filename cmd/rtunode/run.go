// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffutop/rtu-node/internal/config"
	"github.com/ffutop/rtu-node/internal/node"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every channel of the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		setupLogger(cfg.Log)

		if len(cfg.Channels) == 0 {
			return fmt.Errorf("no channels configured")
		}

		slog.Info("Starting RTU node...", "node", cfg.Node.Name)
		n, err := node.New(cfg, node.Options{})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.Run(ctx); err != nil {
			return err
		}
		slog.Info("Goodbye.")
		return nil
	},
}
