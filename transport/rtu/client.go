// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ffutop/rtu-node/modbus"
)

// Client implements Downstream interface (Modbus RTU Master) on a master channel.
// Send blocks until the outcome arrives on the mainline loop, so it must not be
// called from the mainline loop itself.
type Client struct {
	ch *Channel
	mu sync.Mutex
}

// NewClient wraps a master channel.
func NewClient(ch *Channel) *Client {
	return &Client{ch: ch}
}

// Channel returns the underlying channel.
func (mb *Client) Channel() *Channel {
	return mb.ch
}

type result struct {
	pdu modbus.ProtocolDataUnit
	err error
}

// Send sends a PDU to the Downstream Slave. A busy channel is retried until ctx
// is done; protocol failures are returned as they are, without retry.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	done := make(chan result, 1)
	handler := func(_ byte, resp modbus.ProtocolDataUnit, err error, _ any) {
		done <- result{
			pdu: modbus.ProtocolDataUnit{FunctionCode: resp.FunctionCode, Data: append([]byte(nil), resp.Data...)},
			err: err,
		}
	}

	for {
		err := mb.ch.Request(slaveID, pdu, handler, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, modbus.ErrBusy) {
			return modbus.ProtocolDataUnit{}, err
		}
		if err := mb.wait(ctx); err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
	}

	select {
	case <-ctx.Done():
		return modbus.ProtocolDataUnit{}, ctx.Err()
	case r := <-done:
		return r.pdu, r.err
	}
}

// Connect waits until the channel has seen the bus silent and gone Idle.
func (mb *Client) Connect(ctx context.Context) error {
	for mb.ch.State() == StateStarting {
		if err := mb.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (mb *Client) Close() error {
	return mb.ch.Close()
}

// wait sleeps for one frame silence.
func (mb *Client) wait(ctx context.Context) error {
	d := mb.ch.Timing().Frame
	if d < time.Millisecond {
		d = time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
