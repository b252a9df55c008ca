// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp bridges masters that tunnel raw RTU frames over a TCP
// stream onto the node.
package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/rtu-node/modbus"
	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
	"github.com/ffutop/rtu-node/transport"
	"github.com/ffutop/rtu-node/transport/tcp"
)

// headerSize is enough of a request to size any supported function.
const headerSize = 7

// Server accepts RTU frames, CRC included, over TCP connections.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	conns    sync.WaitGroup
}

// NewServer creates a new RTU over TCP Server.
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
	slog.Info("RTU over TCP server listening", "addr", listener.Addr())

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
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, rtupacket.MaxSize)
	for {
		n, err := readFrame(conn, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				slog.Info("RTU over TCP client disconnected", "addr", conn.RemoteAddr())
			} else {
				// A stream cannot be resynchronized without silences.
				slog.Error("Failed to read RTU frame", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		adu, err := rtupacket.Decode(buf[:n])
		if err != nil {
			slog.Warn("Dropping RTU frame", "addr", conn.RemoteAddr(), "err", err)
			continue
		}

		resp, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			slog.Debug("Request failed", "slaveID", adu.SlaveID, "func", adu.Pdu.FunctionCode, "err", err)
			resp = modbus.Exception(adu.Pdu.FunctionCode, tcp.ExceptionCode(err))
		}
		if adu.SlaveID == modbus.BroadcastAddress {
			continue
		}

		raw, err := (&rtupacket.ApplicationDataUnit{SlaveID: adu.SlaveID, Pdu: resp}).Encode()
		if err != nil {
			slog.Error("Failed to encode RTU response", "err", err)
			raw, _ = (&rtupacket.ApplicationDataUnit{
				SlaveID: adu.SlaveID,
				Pdu:     modbus.Exception(adu.Pdu.FunctionCode, modbus.ExceptionCodeServerDeviceFailure),
			}).Encode()
		}
		if _, err := conn.Write(raw); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}

// readFrame reads one request into buf and returns its length. Report
// Server ID is the only request shorter than headerSize.
func readFrame(r io.Reader, buf []byte) (int, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return 0, err
	}
	have := 2
	if buf[1] != modbus.FuncCodeReportServerID {
		if _, err := io.ReadFull(r, buf[have:headerSize]); err != nil {
			return 0, err
		}
		have = headerSize
	}
	n, err := rtupacket.RequestLength(buf[:have])
	if err != nil {
		return 0, err
	}
	if n > len(buf) {
		return 0, fmt.Errorf("%w: length %d exceeds maximum %d", modbus.ErrInvalidFrame, n, len(buf))
	}
	if n > have {
		if _, err := io.ReadFull(r, buf[have:n]); err != nil {
			return 0, err
		}
	}
	return n, nil
}
