// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"log/slog"

	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
)

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, answering requests from an external Master.
// The handler runs on the mainline loop and must not block on other channels.
type Server struct {
	ch *Channel
}

// NewServer creates a new RTU Server on a slave channel.
func NewServer(ch *Channel) *Server {
	return &Server{ch: ch}
}

// Start installs handler and blocks until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	s.ch.SetRequestHandler(func(slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return handler(ctx, slaveID, pdu)
	})
	slog.Info("RTU Server listening", "channel", s.ch.Name(), "address", s.ch.Address())

	<-ctx.Done()
	s.ch.SetRequestHandler(nil)
	return nil
}

func (s *Server) Close() error {
	return s.ch.Close()
}
