// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ffutop/rtu-node/internal/config"
	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
)

// Poller periodically reads a register block from a list of slaves on a
// master channel and hands the readings to a Publisher.
type Poller struct {
	node     string
	channel  string
	client   transport.Downstream
	ids      []byte
	cfg      config.PollConfig
	timeout  time.Duration
	pub      Publisher
	now      func() time.Time
	function byte
}

// NewPoller validates cfg. timeout bounds each request.
func NewPoller(node, channel string, client transport.Downstream, cfg config.PollConfig, timeout time.Duration, pub Publisher) (*Poller, error) {
	ids, err := ParseSlaveIDs(cfg.SlaveIDs)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", channel, err)
	}
	var fc byte
	cfg.Function = strings.ToLower(cfg.Function)
	switch cfg.Function {
	case "", "holding":
		cfg.Function = "holding"
		fc = modbus.FuncCodeReadHoldingRegisters
	case "input":
		fc = modbus.FuncCodeReadInputRegisters
	default:
		return nil, fmt.Errorf("poll %s: unknown function %q", channel, cfg.Function)
	}
	if cfg.Quantity < 1 || cfg.Quantity > 125 {
		return nil, fmt.Errorf("poll %s: %w: %d", channel, modbus.ErrInvalidQuantity, cfg.Quantity)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultPollInterval
	}
	for _, id := range ids {
		if id == modbus.BroadcastAddress {
			return nil, fmt.Errorf("poll %s: cannot poll the broadcast address", channel)
		}
	}
	return &Poller{
		node:     node,
		channel:  channel,
		client:   client,
		ids:      ids,
		cfg:      cfg,
		timeout:  timeout,
		pub:      pub,
		now:      time.Now,
		function: fc,
	}, nil
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce reads every slave once and publishes the readings.
func (p *Poller) PollOnce(ctx context.Context) []Reading {
	readings := make([]Reading, 0, len(p.ids))
	for _, id := range p.ids {
		if ctx.Err() != nil {
			break
		}
		r := p.read(ctx, id)
		if err := p.pub.Publish(r); err != nil {
			slog.Error("Failed to publish reading", "channel", p.channel, "slaveID", id, "err", err)
		}
		readings = append(readings, r)
	}
	return readings
}

func (p *Poller) read(ctx context.Context, id byte) Reading {
	r := Reading{
		Node:     p.node,
		Channel:  p.channel,
		SlaveID:  id,
		Function: p.cfg.Function,
		Address:  p.cfg.Address,
		Time:     p.now(),
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], p.cfg.Address)
	binary.BigEndian.PutUint16(data[2:4], p.cfg.Quantity)
	resp, err := p.client.Send(ctx, id, modbus.ProtocolDataUnit{FunctionCode: p.function, Data: data})
	if err == nil {
		r.Values, err = registers(resp, p.cfg.Quantity)
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// registers decodes a read registers response.
func registers(resp modbus.ProtocolDataUnit, quantity uint16) ([]uint16, error) {
	if len(resp.Data) < 1 || int(resp.Data[0]) != len(resp.Data)-1 || int(resp.Data[0]) != int(quantity)*2 {
		return nil, fmt.Errorf("%w: byte count does not match quantity %d", modbus.ErrUnexpectedResponse, quantity)
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(resp.Data[1+i*2:])
	}
	return values, nil
}
