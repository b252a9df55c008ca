// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ffutop/rtu-node/internal/config"
)

var (
	cfgFile  string
	logLevel string

	// Serial line flags of the one-shot master commands
	portName        string
	baudRate        int
	dataBits        int
	parity          string
	stopBits        int
	rs485           bool
	slaveID         uint8
	responseTimeout = config.DefaultResponseTimeout
)

var rootCmd = &cobra.Command{
	Use:   "rtunode",
	Short: "Modbus RTU serial node",
	Long: `rtunode runs Modbus RTU master and slave channels on serial ports.

The run command starts every channel of the configuration file, their local
slaves, Modbus TCP bridges and pollers. The read, write and ident commands
open one port as a master and perform a single transaction.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	for _, cmd := range []*cobra.Command{readCmd, writeCmd, identCmd} {
		cmd.Flags().StringVarP(&portName, "port", "p", "", "Serial port device")
		cmd.Flags().Uint8VarP(&slaveID, "slave", "s", 1, "Slave address (0 broadcasts writes)")
		cmd.Flags().DurationVar(&responseTimeout, "timeout", config.DefaultResponseTimeout, "Response timeout")
		cmd.Flags().BoolVar(&rs485, "rs485", false, "Drive RTS for an RS485 transceiver")
		cmd.MarkFlagRequired("port")
	}
	for _, cmd := range []*cobra.Command{readCmd, writeCmd, identCmd, timingCmd} {
		cmd.Flags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate")
		cmd.Flags().IntVar(&dataBits, "data-bits", 8, "Data bits")
		cmd.Flags().StringVar(&parity, "parity", "N", "Parity: N, E or O")
		cmd.Flags().IntVar(&stopBits, "stop-bits", 1, "Stop bits")
	}

	rootCmd.AddCommand(runCmd, readCmd, writeCmd, identCmd, timingCmd, versionCmd)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
