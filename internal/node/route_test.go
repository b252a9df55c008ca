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

	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
	"github.com/ffutop/rtu-node/transport/tcp"
)

func TestParseSlaveIDs(t *testing.T) {
	tests := []struct {
		input   string
		want    []byte
		wantErr bool
	}{
		{"1", []byte{1}, false},
		{"1,2, 5", []byte{1, 2, 5}, false},
		{"1-3,7", []byte{1, 2, 3, 7}, false},
		{"", nil, false},
		{"3-1", nil, true},
		{"1-2-3", nil, true},
		{"256", nil, true},
		{"a", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseSlaveIDs(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestRouter_Handle(t *testing.T) {
	one := &fakeDownstream{respond: func(byte) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x01}}, nil
	}}
	fallback := &fakeDownstream{respond: func(byte) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02}}, nil
	}}
	r := &Router{Name: "test", Routes: map[byte]transport.Downstream{1: one}, Timeout: time.Second}

	resp, err := r.Handle(context.Background(), 1, modbus.ProtocolDataUnit{FunctionCode: 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, resp.Data)

	_, err = r.Handle(context.Background(), 2, modbus.ProtocolDataUnit{FunctionCode: 0x03})
	assert.ErrorIs(t, err, tcp.ErrNoRoute)

	r.DefaultRoute = fallback
	resp, err = r.Handle(context.Background(), 2, modbus.ProtocolDataUnit{FunctionCode: 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, resp.Data)
}
