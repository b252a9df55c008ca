// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/rtu-node/modbus"
)

func TestEncode(t *testing.T) {
	adu := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(raw, want) {
		t.Errorf("Encode = % X, want % X", raw, want)
	}
}

func TestEncodeTooLong(t *testing.T) {
	adu := &ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: make([]byte, MaxPDUData+1)}}
	if _, err := adu.Encode(); !errors.Is(err, modbus.ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x02, 0x12, 0x34, 0xB5, 0x33}
	adu, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if adu.SlaveID != 0x01 || adu.Pdu.FunctionCode != 0x03 {
		t.Errorf("unexpected header %+v", adu)
	}
	if !bytes.Equal(adu.Pdu.Data, []byte{0x02, 0x12, 0x34}) {
		t.Errorf("unexpected data % X", adu.Pdu.Data)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"Short", []byte{0x01, 0x03, 0xFF}, modbus.ErrInvalidFrame},
		{"BadCRC", []byte{0x01, 0x03, 0x02, 0xAA, 0xBB, 0xFF, 0xFF}, modbus.ErrCorruptedFrame},
		{"TooLong", make([]byte, MaxSize+1), modbus.ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x10, 0x00, 0x02, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	req := &ApplicationDataUnit{SlaveID: 0x11, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: payload}}
	raw, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.SlaveID != req.SlaveID || got.Pdu.FunctionCode != req.Pdu.FunctionCode || !bytes.Equal(got.Pdu.Data, payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestVerify(t *testing.T) {
	req := &ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x03}}
	if err := req.Verify(&ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x83}}); err != nil {
		t.Errorf("exception response should verify, got %v", err)
	}
	if err := req.Verify(&ApplicationDataUnit{SlaveID: 2, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x03}}); !errors.Is(err, modbus.ErrUnexpectedResponse) {
		t.Errorf("slave mismatch should fail, got %v", err)
	}
	if err := req.Verify(&ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x04}}); !errors.Is(err, modbus.ErrUnexpectedResponse) {
		t.Errorf("function mismatch should fail, got %v", err)
	}
}
