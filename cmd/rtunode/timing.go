// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
	"github.com/ffutop/rtu-node/uart"
)

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "Print the character time and frame silences of a line format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := uart.Format{BaudRate: baudRate, DataBits: dataBits, StopBits: stopBits, Parity: parity}.Normalize()
		t := rtupacket.NewTiming(f.BaudRate, f.BitsPerChar())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "format:    %d %d%s%d (%d bits/char)\n", f.BaudRate, f.DataBits, f.Parity, f.StopBits, f.BitsPerChar())
		fmt.Fprintf(out, "char:      %v\n", t.Char)
		fmt.Fprintf(out, "1.5 char:  %v\n", t.InterChar)
		fmt.Fprintf(out, "3.5 char:  %v\n", t.Frame)
		fmt.Fprintf(out, "max frame: %v\n", t.Transmission(rtupacket.MaxSize))
		return nil
	},
}

// version is set with -ldflags "-X main.version=...".
var version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if v == "" {
			v = "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				v = info.Main.Version
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rtunode %s\n", v)
	},
}
