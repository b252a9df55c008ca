// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the two sides of a request path through the
// node: upstreams receive requests from masters, downstreams answer them.
package transport

import (
	"context"

	"github.com/ffutop/rtu-node/modbus"
)

// RequestHandler serves one request. Upstreams pass the unframed PDU and
// frame the returned PDU the same way. An error is reported to the master
// as an exception.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream accepts requests from masters, e.g. a TCP listener or a slave
// role RTU channel.
type Upstream interface {
	// Start serves until ctx is done or Close is called.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Downstream answers requests addressed to a slave ID, e.g. a master role
// RTU channel or the local slave.
type Downstream interface {
	// Send blocks until the response PDU arrives, ctx is done or the
	// transaction fails. Broadcasts return an empty PDU.
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}
