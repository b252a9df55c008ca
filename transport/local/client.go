// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"context"
	"log/slog"

	"github.com/ffutop/rtu-node/internal/config"
	localslave "github.com/ffutop/rtu-node/internal/local-slave"
	"github.com/ffutop/rtu-node/internal/local-slave/persistence"
	"github.com/ffutop/rtu-node/modbus"
)

// Client implements Downstream interface for the local register model of a
// slave channel. The same slave answers the serial bus and local callers.
type Client struct {
	slave *localslave.LocalSlave
}

// NewClient loads the register model from the configured storage.
// A storage that fails to load falls back to memory.
func NewClient(cfg config.SlaveConfig) *Client {
	storage, err := persistence.Open(cfg.Persistence.Type, cfg.Persistence.Path)
	if err != nil {
		slog.Error("Invalid persistence, using memory", "err", err)
		storage = persistence.NewMemoryStorage()
	}
	slog.Info("Initializing local slave", "persistence", cfg.Persistence.Type, "path", cfg.Persistence.Path)

	m, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, starting with fresh model", "err", err)
		storage = persistence.NewMemoryStorage()
		m, _ = storage.Load()
	}

	return &Client{slave: localslave.NewLocalSlave(m, storage, cfg.Identity)}
}

// Slave returns the protocol logic, for use as a channel request handler.
func (c *Client) Slave() *localslave.LocalSlave {
	return c.slave
}

// Send processes the PDU locally. Exceptions are returned as *modbus.ExceptionError.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return c.slave.Handle(slaveID, pdu)
}

// Connect is a no-op for local slave.
func (c *Client) Connect(ctx context.Context) error {
	return nil
}

// Close saves and closes the storage.
func (c *Client) Close() error {
	return c.slave.Close()
}
