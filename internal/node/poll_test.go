// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/rtu-node/internal/config"
	"github.com/ffutop/rtu-node/modbus"
)

type fakeDownstream struct {
	requests []modbus.ProtocolDataUnit
	respond  func(slaveID byte) (modbus.ProtocolDataUnit, error)
}

func (f *fakeDownstream) Send(_ context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	f.requests = append(f.requests, pdu)
	return f.respond(slaveID)
}
func (f *fakeDownstream) Connect(context.Context) error { return nil }
func (f *fakeDownstream) Close() error { return nil }

type recordingPublisher struct {
	readings []Reading
}

func (p *recordingPublisher) Publish(r Reading) error {
	p.readings = append(p.readings, r)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

func TestPoller_PollOnce(t *testing.T) {
	ds := &fakeDownstream{respond: func(slaveID byte) (modbus.ProtocolDataUnit, error) {
		if slaveID == 2 {
			return modbus.ProtocolDataUnit{}, modbus.ErrNoResponse
		}
		return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadInputRegisters, Data: []byte{0x04, 0x00, 0x01, 0x00, 0x02}}, nil
	}}
	pub := &recordingPublisher{}
	cfg := config.PollConfig{SlaveIDs: "1,2", Function: "input", Address: 0x10, Quantity: 2, Interval: time.Second}

	p, err := NewPoller("node", "field", ds, cfg, 0, pub)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	readings := p.PollOnce(context.Background())
	require.Len(t, readings, 2)
	assert.Equal(t, readings, pub.readings)

	require.Len(t, ds.requests, 2)
	assert.Equal(t, byte(modbus.FuncCodeReadInputRegisters), ds.requests[0].FunctionCode)
	assert.Equal(t, []byte{0x00, 0x10, 0x00, 0x02}, ds.requests[0].Data)

	assert.Equal(t, Reading{Node: "node", Channel: "field", SlaveID: 1, Function: "input", Address: 0x10, Values: []uint16{1, 2}, Time: now}, readings[0])
	assert.Equal(t, byte(2), readings[1].SlaveID)
	assert.Nil(t, readings[1].Values)
	assert.Contains(t, readings[1].Error, "no response")
}

func TestPoller_ShortResponse(t *testing.T) {
	ds := &fakeDownstream{respond: func(byte) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x01}}, nil
	}}
	pub := &recordingPublisher{}
	p, err := NewPoller("node", "field", ds, config.PollConfig{SlaveIDs: "5", Quantity: 2, Interval: time.Second}, 0, pub)
	require.NoError(t, err)

	readings := p.PollOnce(context.Background())
	require.Len(t, readings, 1)
	assert.Contains(t, readings[0].Error, "unexpected response")
}

func TestNewPoller_Invalid(t *testing.T) {
	ds := &fakeDownstream{}
	tests := []struct {
		name string
		cfg  config.PollConfig
	}{
		{"bad ids", config.PollConfig{SlaveIDs: "x", Quantity: 1}},
		{"broadcast", config.PollConfig{SlaveIDs: "0", Quantity: 1}},
		{"quantity zero", config.PollConfig{SlaveIDs: "1"}},
		{"quantity too large", config.PollConfig{SlaveIDs: "1", Quantity: 126}},
		{"unknown function", config.PollConfig{SlaveIDs: "1", Quantity: 1, Function: "coils"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoller("node", "field", ds, tt.cfg, 0, LogPublisher{})
			assert.Error(t, err)
		})
	}
}

func TestPoller_DefaultFunctionIsPublished(t *testing.T) {
	ds := &fakeDownstream{respond: func(byte) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x07}}, nil
	}}
	cfg := config.PollConfig{SlaveIDs: "3", Quantity: 1}

	p, err := NewPoller("node", "field", ds, cfg, 0, &recordingPublisher{})
	require.NoError(t, err)
	readings := p.PollOnce(context.Background())
	require.Len(t, readings, 1)
	assert.Equal(t, "holding", readings[0].Function)
	assert.Equal(t, []uint16{7}, readings[0].Values)
	assert.Equal(t, byte(modbus.FuncCodeReadHoldingRegisters), ds.requests[0].FunctionCode)
}
