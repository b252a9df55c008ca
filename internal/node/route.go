// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
	"github.com/ffutop/rtu-node/transport/tcp"
)

// ParseSlaveIDs parses a string of slave IDs (e.g. "1,2,5-10") into a slice of bytes.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			// Range
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := parseID(ranges[0])
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := parseID(ranges[1])
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				ids = append(ids, byte(i))
			}
		} else {
			id, err := parseID(part)
			if err != nil {
				return nil, fmt.Errorf("invalid id: %w", err)
			}
			ids = append(ids, byte(id))
		}
	}
	return ids, nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if id < 0 || id > 255 {
		return 0, fmt.Errorf("id out of range: %d", id)
	}
	return id, nil
}

// Router forwards requests to the downstream serving the slave ID.
type Router struct {
	Name         string
	Routes       map[byte]transport.Downstream
	DefaultRoute transport.Downstream
	Timeout      time.Duration
}

// Handle is a transport.RequestHandler.
func (r *Router) Handle(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	target, ok := r.Routes[slaveID]
	if !ok {
		target = r.DefaultRoute
	}
	if target == nil {
		slog.Warn("No route found for slave ID", "node", r.Name, "slaveID", slaveID)
		return modbus.ProtocolDataUnit{}, tcp.ErrNoRoute
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	resp, err := target.Send(ctx, slaveID, pdu)
	if err != nil {
		slog.Debug("Downstream request failed", "node", r.Name, "slaveID", slaveID, "func", pdu.FunctionCode, "err", err)
		return modbus.ProtocolDataUnit{}, err
	}
	return resp, nil
}
