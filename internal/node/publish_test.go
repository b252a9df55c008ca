// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package node

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

type fakeToken struct {
	paho.Token
	done bool
	err  error
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error { return t.err }

type fakeMQTTClient struct {
	paho.Client
	connect      *fakeToken
	disconnected bool
}

func (c *fakeMQTTClient) Connect() paho.Token { return c.connect }
func (c *fakeMQTTClient) Disconnect(uint) { c.disconnected = true }

func TestConnectMQTT(t *testing.T) {
	refused := errors.New("connection refused")
	tests := []struct {
		name           string
		token          *fakeToken
		wantErr        error
		wantDisconnect bool
	}{
		{"connected", &fakeToken{done: true}, nil, false},
		{"timed out", &fakeToken{}, nil, true},
		{"refused", &fakeToken{done: true, err: refused}, refused, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeMQTTClient{connect: tt.token}
			err := connectMQTT(c, "tcp://broker:1883", time.Millisecond)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantDisconnect:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantDisconnect, c.disconnected)
		})
	}
}

func TestMQTTPublisher_Topic(t *testing.T) {
	p := &MQTTPublisher{topic: "plant"}
	assert.Equal(t, "plant/node/field/7", p.Topic(Reading{Node: "node", Channel: "field", SlaveID: 7}))
}
