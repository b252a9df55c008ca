// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
node:
  name: pump-house
channels:
  - name: field
    role: master
    serial:
      device: /dev/ttyUSB0
      baud_rate: 19200
      parity: e
    routes: "1-3"
    poll:
      slave_ids: "1,2"
      address: 100
      quantity: 4
      interval: 2s
  - name: scada
    role: slave
    address: 17
    response_timeout: 1s
    slave:
      identity: "RTU-17"
      persistence:
        type: file
        path: /var/lib/rtunode/scada.bin
tcp:
  - address: ":5020"
    channel: field
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "pump-house", cfg.Node.Name)
	require.Len(t, cfg.Channels, 2)

	field := cfg.Channels[0]
	assert.Equal(t, "master", field.Role)
	assert.Equal(t, 19200, field.Serial.BaudRate)
	assert.Equal(t, "E", field.Serial.Parity)
	assert.Equal(t, 8, field.Serial.DataBits)
	assert.Equal(t, 1, field.Serial.StopBits)
	assert.Equal(t, DefaultResponseTimeout, field.ResponseTimeout)
	assert.Equal(t, DefaultBroadcastTurnaround, field.BroadcastTurnaround)
	assert.Equal(t, DefaultTurnaround, field.Turnaround)
	assert.Equal(t, "1-3", field.Routes)
	assert.Equal(t, uint16(100), field.Poll.Address)
	assert.Equal(t, uint16(4), field.Poll.Quantity)
	assert.Equal(t, 2*time.Second, field.Poll.Interval)
	assert.Equal(t, "holding", field.Poll.Function)

	scada := cfg.Channels[1]
	assert.Equal(t, byte(17), scada.Address)
	assert.Equal(t, time.Second, scada.ResponseTimeout)
	assert.Equal(t, 9600, scada.Serial.BaudRate)
	assert.Equal(t, "N", scada.Serial.Parity)
	assert.Equal(t, "RTU-17", scada.Slave.Identity)
	assert.Equal(t, "file", scada.Slave.Persistence.Type)

	require.Len(t, cfg.Tcp, 1)
	assert.Equal(t, "field", cfg.Tcp[0].Channel)
	assert.Equal(t, FramingTCP, cfg.Tcp[0].Framing)
	assert.Equal(t, "tcp://localhost:1883", cfg.Mqtt.Broker)
	assert.Equal(t, "rtunode", cfg.Mqtt.Topic)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"slave address zero", "channels:\n  - name: a\n    role: slave\n"},
		{"slave address too high", "channels:\n  - name: a\n    role: slave\n    address: 248\n"},
		{"unknown role", "channels:\n  - name: a\n    role: observer\n"},
		{"duplicate name", "channels:\n  - name: a\n  - name: a\n"},
		{"unknown tcp channel", "channels:\n  - name: a\ntcp:\n  - address: \":502\"\n    channel: b\n"},
		{"unknown tcp framing", "channels:\n  - name: a\ntcp:\n  - address: \":502\"\n    framing: ascii\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
