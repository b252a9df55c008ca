// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ffutop/rtu-node/internal/config"
	"github.com/ffutop/rtu-node/internal/jobq"
	"github.com/ffutop/rtu-node/internal/node"
	"github.com/ffutop/rtu-node/internal/timer"
	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport/rtu"
	"github.com/ffutop/rtu-node/uart"
)

var (
	readTable string
)

var readCmd = &cobra.Command{
	Use:   "read <address> <quantity>",
	Short: "Read registers, coils or discrete inputs from a slave",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint16(args[0])
		if err != nil {
			return err
		}
		quantity, err := parseUint16(args[1])
		if err != nil {
			return err
		}

		var request func(*rtu.Channel, rtu.ResponseHandler) error
		switch readTable {
		case "holding":
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.ReadHoldingRegisters(slaveID, address, quantity, h, nil)
			}
		case "input":
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.ReadInputRegisters(slaveID, address, quantity, h, nil)
			}
		case "coils":
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.ReadCoils(slaveID, address, quantity, h, nil)
			}
		case "discrete":
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.ReadDiscreteInputs(slaveID, address, quantity, h, nil)
			}
		default:
			return fmt.Errorf("unknown table %q", readTable)
		}

		pdu, err := transact(cmd.Context(), request)
		if err != nil {
			return err
		}
		if len(pdu.Data) < 1 {
			return modbus.ErrUnexpectedResponse
		}
		data := pdu.Data[1:]
		for i := 0; i < int(quantity); i++ {
			if readTable == "coils" || readTable == "discrete" {
				if i/8 >= len(data) {
					break
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\n", int(address)+i, data[i/8]>>uint(i%8)&1)
				continue
			}
			if 2*i+2 > len(data) {
				break
			}
			v := binary.BigEndian.Uint16(data[2*i:])
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\t0x%04X\n", int(address)+i, v, v)
		}
		return nil
	},
}

var writeCoil bool

var writeCmd = &cobra.Command{
	Use:   "write <address> <value>...",
	Short: "Write one or more holding registers, or a coil",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint16(args[0])
		if err != nil {
			return err
		}
		values := make([]uint16, 0, len(args)-1)
		for _, a := range args[1:] {
			v, err := parseUint16(a)
			if err != nil {
				return err
			}
			values = append(values, v)
		}

		var request func(*rtu.Channel, rtu.ResponseHandler) error
		switch {
		case writeCoil:
			if len(values) != 1 {
				return fmt.Errorf("a coil takes one value")
			}
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.WriteSingleCoil(slaveID, address, values[0] != 0, h, nil)
			}
		case len(values) == 1:
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.WriteSingleRegister(slaveID, address, values[0], h, nil)
			}
		default:
			request = func(ch *rtu.Channel, h rtu.ResponseHandler) error {
				return ch.WriteMultipleRegisters(slaveID, address, values, h, nil)
			}
		}

		if _, err := transact(cmd.Context(), request); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var identCmd = &cobra.Command{
	Use:   "ident",
	Short: "Report the server ID of a slave",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pdu, err := transact(cmd.Context(), func(ch *rtu.Channel, h rtu.ResponseHandler) error {
			return ch.ReportServerID(slaveID, h, nil)
		})
		if err != nil {
			return err
		}
		if len(pdu.Data) < 2 || int(pdu.Data[0]) != len(pdu.Data)-1 {
			return fmt.Errorf("%w: malformed server id", modbus.ErrUnexpectedResponse)
		}
		id := pdu.Data[1 : len(pdu.Data)-1]
		run := pdu.Data[len(pdu.Data)-1]
		fmt.Fprintf(cmd.OutOrStdout(), "server id: %q (% X)\nrun indicator: 0x%02X\n", id, id, run)
		return nil
	},
}

func init() {
	readCmd.Flags().StringVarP(&readTable, "table", "t", "holding", "Table: holding, input, coils, discrete")
	writeCmd.Flags().BoolVar(&writeCoil, "coil", false, "Write a coil instead of registers")
}

// transact opens the port as a master, performs one transaction and closes it.
func transact(ctx context.Context, request func(*rtu.Channel, rtu.ResponseHandler) error) (modbus.ProtocolDataUnit, error) {
	setupLogger(config.LogConfig{Level: logLevel})
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	chCfg := config.ChannelConfig{
		Name: "cli",
		Role: "master",
		Serial: config.SerialConfig{
			Device:   portName,
			BaudRate: baudRate,
			DataBits: dataBits,
			Parity:   parity,
			StopBits: stopBits,
			Timeout:  100 * time.Millisecond,
			RS485:    rs485,
		},
	}
	drv, err := node.SerialDriver(chCfg)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	jobs := jobq.New(jobq.DefaultCapacity)
	ch, err := rtu.NewChannel(uart.NewPool(), timer.NewReal(), jobs, rtu.Options{
		Name:            chCfg.Name,
		Role:            rtu.RoleMaster,
		Format:          uart.Format{BaudRate: baudRate, DataBits: dataBits, StopBits: stopBits, Parity: parity},
		Driver:          drv,
		ResponseTimeout: responseTimeout,
	})
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	defer ch.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go jobs.Run(ctx)

	if err := rtu.NewClient(ch).Connect(ctx); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	type outcome struct {
		pdu modbus.ProtocolDataUnit
		err error
	}
	done := make(chan outcome, 1)
	handler := func(_ byte, pdu modbus.ProtocolDataUnit, err error, _ any) {
		done <- outcome{
			pdu: modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: append([]byte(nil), pdu.Data...)},
			err: err,
		}
	}
	if err := request(ch, handler); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	select {
	case <-ctx.Done():
		return modbus.ProtocolDataUnit{}, ctx.Err()
	case o := <-done:
		st := ch.Stats()
		slog.Debug("Transaction done", "requests", st.Requests, "frames", st.Frames, "crcErrors", st.CRCErrors, "err", o.err)
		var exc *modbus.ExceptionError
		if errors.As(o.err, &exc) {
			return o.pdu, fmt.Errorf("slave %d: %w", slaveID, exc)
		}
		return o.pdu, o.err
	}
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint16(v), nil
}
