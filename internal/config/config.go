// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultResponseTimeout     = 200 * time.Millisecond
	DefaultBroadcastTurnaround = 100 * time.Millisecond
	DefaultTurnaround          = 5 * time.Millisecond
	DefaultPollInterval        = time.Second
)

// Config defines the global configuration structure
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Node     NodeConfig      `mapstructure:"node"`
	Channels []ChannelConfig `mapstructure:"channels"`
	Tcp      []TcpConfig     `mapstructure:"tcp"`
	Mqtt     MqttConfig      `mapstructure:"mqtt"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// NodeConfig names the node in logs and MQTT topics.
type NodeConfig struct {
	Name string `mapstructure:"name"`
}

// ChannelConfig defines one Modbus RTU channel on a UART.
type ChannelConfig struct {
	Name    string       `mapstructure:"name"`
	Role    string       `mapstructure:"role"`    // "master" or "slave"
	Address byte         `mapstructure:"address"` // Slave role only, 1..247
	Serial  SerialConfig `mapstructure:"serial"`

	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	BroadcastTurnaround time.Duration `mapstructure:"broadcast_turnaround"`
	Turnaround          time.Duration `mapstructure:"turnaround"`

	Slave  SlaveConfig `mapstructure:"slave"`  // Used if Role is "slave"
	Routes string      `mapstructure:"routes"` // Master only. Slave IDs bridged to this channel: "1", "1,2", "1-10"
	Poll   PollConfig  `mapstructure:"poll"`   // Master only
}

// SlaveConfig defines the local register model served by a slave channel.
type SlaveConfig struct {
	Identity    string            `mapstructure:"identity"` // Report Server ID payload
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path"` // File path for "file/mmap", DSN for "sql"
}

// PollConfig defines a periodic holding register read on a master channel.
type PollConfig struct {
	SlaveIDs string        `mapstructure:"slave_ids"`
	Function string        `mapstructure:"function"` // "holding" or "input"
	Address  uint16        `mapstructure:"address"`
	Quantity uint16        `mapstructure:"quantity"`
	Interval time.Duration `mapstructure:"interval"`
}

// Framings of a TCP listener.
const (
	FramingTCP = "tcp"
	FramingRTU = "rtu"
)

// TcpConfig defines a Modbus TCP listener bridged onto master channels.
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502"
	Channel string `mapstructure:"channel"` // Optional default channel for unrouted slave IDs
	Framing string `mapstructure:"framing"` // "tcp" (MBAP, default) or "rtu" (raw RTU frames)
}

// MqttConfig defines where poll results are published.
type MqttConfig struct {
	Broker   string `mapstructure:"broker"` // e.g. "tcp://localhost:1883"; empty disables MQTT
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"` // Topic prefix
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read timeout of the port

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rtunode/")
		v.AddConfigPath("$HOME/.rtunode")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("RTUNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("node.name", "rtunode")
	v.SetDefault("mqtt.client_id", "rtunode")
	v.SetDefault("mqtt.topic", "rtunode")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

// fixup applies defaults and validates channel settings.
func (c *Config) fixup() error {
	names := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("ch%d", i)
		}
		if names[ch.Name] {
			return fmt.Errorf("channel %q: duplicate name", ch.Name)
		}
		names[ch.Name] = true

		ch.Role = strings.ToLower(ch.Role)
		switch ch.Role {
		case "", "master":
			ch.Role = "master"
		case "slave":
			if ch.Address < 1 || ch.Address > 247 {
				return fmt.Errorf("channel %q: slave address %d out of range 1..247", ch.Name, ch.Address)
			}
		default:
			return fmt.Errorf("channel %q: unknown role %q", ch.Name, ch.Role)
		}

		fixupSerial(&ch.Serial)
		if ch.ResponseTimeout == 0 {
			ch.ResponseTimeout = DefaultResponseTimeout
		}
		if ch.BroadcastTurnaround == 0 {
			ch.BroadcastTurnaround = DefaultBroadcastTurnaround
		}
		if ch.Turnaround == 0 {
			ch.Turnaround = DefaultTurnaround
		}
		if ch.Poll.Interval == 0 {
			ch.Poll.Interval = DefaultPollInterval
		}
		ch.Poll.Function = strings.ToLower(ch.Poll.Function)
		if ch.Poll.Function == "" {
			ch.Poll.Function = "holding"
		}
	}

	for i := range c.Tcp {
		t := &c.Tcp[i]
		if t.Channel != "" && !names[t.Channel] {
			return fmt.Errorf("tcp %s: unknown channel %q", t.Address, t.Channel)
		}
		t.Framing = strings.ToLower(t.Framing)
		switch t.Framing {
		case "":
			t.Framing = FramingTCP
		case FramingTCP, FramingRTU:
		default:
			return fmt.Errorf("tcp %s: unknown framing %q", t.Address, t.Framing)
		}
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}
