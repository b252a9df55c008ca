// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp bridges Modbus TCP masters onto the node.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
)

// ErrNoRoute is returned by handlers when no channel serves the slave ID.
// It is answered with a gateway path unavailable exception.
var ErrNoRoute = errors.New("tcp: no route to slave")

// Server implements a Modbus TCP Server (Upstream).
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	conns    sync.WaitGroup
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{Address: address}
}

// Start listens and serves until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()
	slog.Info("Modbus TCP server listening", "addr", listener.Addr())

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.conns.Wait()
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn, handler)
		}()
	}
}

// Close closes the listener and every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	s.cancel()
	err := s.listener.Close()
	s.listener = nil
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, tcpMaxSize)
	for {
		if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				slog.Info("TCP client disconnected", "addr", conn.RemoteAddr())
			} else {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		adu, n, err := decodeHeader(buf[:headerSize])
		if err != nil {
			// The stream cannot be resynchronized after a bad header.
			slog.Error("Failed to decode TCP request", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		if _, err := io.ReadFull(conn, buf[headerSize:headerSize+n]); err != nil {
			slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		adu.Pdu.FunctionCode = buf[headerSize]
		adu.Pdu.Data = buf[headerSize+1 : headerSize+n]

		resp, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			slog.Debug("Request failed", "slaveID", adu.SlaveID, "func", adu.Pdu.FunctionCode, "err", err)
			resp = modbus.Exception(adu.Pdu.FunctionCode, ExceptionCode(err))
		}

		respAdu := &ApplicationDataUnit{
			TransactionID: adu.TransactionID,
			ProtocolID:    adu.ProtocolID,
			SlaveID:       adu.SlaveID,
			Pdu:           resp,
		}
		raw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode TCP response", "err", err)
			raw, _ = (&ApplicationDataUnit{
				TransactionID: adu.TransactionID,
				SlaveID:       adu.SlaveID,
				Pdu:           modbus.Exception(adu.Pdu.FunctionCode, modbus.ExceptionCodeServerDeviceFailure),
			}).Encode()
		}
		if _, err := conn.Write(raw); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}

// ExceptionCode maps a request failure onto the exception returned to the
// TCP master.
func ExceptionCode(err error) byte {
	var exc *modbus.ExceptionError
	switch {
	case errors.As(err, &exc):
		return exc.ExceptionCode
	case errors.Is(err, ErrNoRoute):
		return modbus.ExceptionCodeGatewayPathUnavailable
	case errors.Is(err, modbus.ErrNoResponse),
		errors.Is(err, modbus.ErrCorruptedFrame),
		errors.Is(err, modbus.ErrFraming),
		errors.Is(err, context.DeadlineExceeded):
		return modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond
	case errors.Is(err, modbus.ErrBusy):
		return modbus.ExceptionCodeServerDeviceBusy
	}
	return modbus.ExceptionCodeServerDeviceFailure
}
