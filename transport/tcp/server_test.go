// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	gmodbus "github.com/goburrow/modbus"

	"github.com/ffutop/rtu-node/modbus"
	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
	"github.com/ffutop/rtu-node/transport"
)

// startServer runs a server on a free local port and returns its address.
func startServer(t *testing.T, handler transport.RequestHandler) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close() // Close so Server can bind to it immediately

	s := NewServer(addr)
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- s.Start(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errChan:
			if err != nil {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return addr
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not listening on %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newClient(t *testing.T, addr string, slaveID byte) gmodbus.Client {
	t.Helper()
	h := gmodbus.NewTCPClientHandler(addr)
	h.Timeout = time.Second
	h.SlaveId = slaveID
	if err := h.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return gmodbus.NewClient(h)
}

func expectException(t *testing.T, err error, code byte) {
	t.Helper()
	var mbErr *gmodbus.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("expected modbus exception %d, got %v", code, err)
	}
	if mbErr.ExceptionCode != code {
		t.Errorf("Exception mismatch. Want: %d, Got: %d", code, mbErr.ExceptionCode)
	}
}

func TestServer_ReadAndWrite(t *testing.T) {
	regs := map[uint16]uint16{0: 0xAABB, 1: 0xCCDD}
	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 1 {
			return modbus.ProtocolDataUnit{}, ErrNoRoute
		}
		switch pdu.FunctionCode {
		case modbus.FuncCodeReadHoldingRegisters:
			return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte{0x04, 0xAA, 0xBB, 0xCC, 0xDD}}, nil
		case modbus.FuncCodeWriteSingleRegister:
			regs[uint16(pdu.Data[0])<<8|uint16(pdu.Data[1])] = uint16(pdu.Data[2])<<8 | uint16(pdu.Data[3])
			return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: append([]byte(nil), pdu.Data...)}, nil
		}
		return modbus.ProtocolDataUnit{}, &modbus.ExceptionError{FunctionCode: pdu.FunctionCode, ExceptionCode: modbus.ExceptionCodeIllegalFunction}
	}
	addr := startServer(t, handler)
	client := newClient(t, addr, 1)

	results, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if want := []byte{0xAA, 0xBB, 0xCC, 0xDD}; !bytes.Equal(results, want) {
		t.Errorf("Read mismatch.\nWant: %X\nGot:  %X", want, results)
	}

	results, err = client.WriteSingleRegister(5, 0x1234)
	if err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	if want := []byte{0x12, 0x34}; !bytes.Equal(results, want) {
		t.Errorf("Write mismatch.\nWant: %X\nGot:  %X", want, results)
	}
	if regs[5] != 0x1234 {
		t.Errorf("register 5 = %04X, want 1234", regs[5])
	}

	_, err = client.ReadCoils(0, 1)
	expectException(t, err, modbus.ExceptionCodeIllegalFunction)
}

func TestServer_NoRoute(t *testing.T) {
	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("slave %d: %w", slaveID, ErrNoRoute)
	}
	addr := startServer(t, handler)
	client := newClient(t, addr, 9)

	_, err := client.ReadInputRegisters(0, 1)
	expectException(t, err, modbus.ExceptionCodeGatewayPathUnavailable)
}

func TestExceptionCode(t *testing.T) {
	// A response too short to decode, as the RTU channel reports it.
	_, shortErr := rtupacket.Decode([]byte{0x01, 0x03, 0x02})
	short := fmt.Errorf("%w: %w", modbus.ErrCorruptedFrame, shortErr)

	tests := []struct {
		err  error
		want byte
	}{
		{&modbus.ExceptionError{ExceptionCode: modbus.ExceptionCodeIllegalDataAddress}, modbus.ExceptionCodeIllegalDataAddress},
		{ErrNoRoute, modbus.ExceptionCodeGatewayPathUnavailable},
		{fmt.Errorf("x: %w", modbus.ErrNoResponse), modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond},
		{modbus.ErrCorruptedFrame, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond},
		{short, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond},
		{modbus.ErrFraming, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond},
		{context.DeadlineExceeded, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond},
		{modbus.ErrBusy, modbus.ExceptionCodeServerDeviceBusy},
		{errors.New("boom"), modbus.ExceptionCodeServerDeviceFailure},
	}
	for _, tt := range tests {
		if got := ExceptionCode(tt.err); got != tt.want {
			t.Errorf("ExceptionCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	raw := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	adu, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if adu.TransactionID != 7 || adu.SlaveID != 0x11 || adu.Pdu.FunctionCode != 0x03 {
		t.Errorf("header mismatch: %+v", adu)
	}
	if want := []byte{0x00, 0x6B, 0x00, 0x03}; !bytes.Equal(adu.Pdu.Data, want) {
		t.Errorf("PDU mismatch.\nWant: %X\nGot:  %X", want, adu.Pdu.Data)
	}

	encoded, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(encoded, raw) {
		t.Errorf("Encode mismatch.\nWant: %X\nGot:  %X", raw, encoded)
	}

	if _, err := Decode(raw[:len(raw)-1]); !errors.Is(err, modbus.ErrInvalidFrame) {
		t.Errorf("truncated ADU: expected ErrInvalidFrame, got %v", err)
	}
	bad := append([]byte(nil), raw...)
	bad[3] = 0x01
	if _, err := Decode(bad); !errors.Is(err, modbus.ErrInvalidFrame) {
		t.Errorf("bad protocol id: expected ErrInvalidFrame, got %v", err)
	}
}
