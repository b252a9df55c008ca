// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package node

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ffutop/rtu-node/internal/config"
)

// Reading is the outcome of one poll of one slave.
type Reading struct {
	Node     string    `json:"node"`
	Channel  string    `json:"channel"`
	SlaveID  byte      `json:"slave_id"`
	Function string    `json:"function"`
	Address  uint16    `json:"address"`
	Values   []uint16  `json:"values,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Publisher receives poll readings.
type Publisher interface {
	Publish(r Reading) error
	Close() error
}

// LogPublisher writes readings to the log.
type LogPublisher struct{}

func (LogPublisher) Publish(r Reading) error {
	if r.Error != "" {
		slog.Warn("Poll failed", "channel", r.Channel, "slaveID", r.SlaveID, "err", r.Error)
		return nil
	}
	slog.Info("Poll", "channel", r.Channel, "slaveID", r.SlaveID, "function", r.Function, "address", r.Address, "values", r.Values)
	return nil
}

func (LogPublisher) Close() error { return nil }

const mqttTimeout = 5 * time.Second

// MQTTPublisher publishes readings as JSON to <topic>/<node>/<channel>/<slave id>.
type MQTTPublisher struct {
	client paho.Client
	topic  string
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg config.MqttConfig) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("MQTT connection lost", "broker", cfg.Broker, "err", err)
		})

	client := paho.NewClient(opts)
	if err := connectMQTT(client, cfg.Broker, mqttTimeout); err != nil {
		return nil, err
	}
	slog.Info("Connected to MQTT broker", "broker", cfg.Broker)
	return &MQTTPublisher{client: client, topic: cfg.Topic}, nil
}

// connectMQTT connects client, disconnecting it again on failure so a
// reconnecting client does not outlive the error.
func connectMQTT(client paho.Client, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt: connect to %s: %w", broker, err)
	}
	return nil
}

// Topic returns the topic a reading is published on.
func (p *MQTTPublisher) Topic(r Reading) string {
	return fmt.Sprintf("%s/%s/%s/%d", p.topic, r.Node, r.Channel, r.SlaveID)
}

func (p *MQTTPublisher) Publish(r Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(r), 0, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", p.Topic(r))
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
