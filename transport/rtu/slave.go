// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/rtu-node/internal/timer"
	"github.com/ffutop/rtu-node/modbus"
	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
)

// serve validates a request addressed to this slave, runs the request handler
// and schedules the reply after the turnaround delay. Broadcasts are executed
// but never answered.
func (c *Channel) serve(frame []byte) {
	adu, err := rtupacket.Decode(frame)
	if err != nil {
		c.stats.crcErrors.Add(1)
		c.logger.Debug("discard request", "frame", fmt.Sprintf("% X", frame), "err", err)
		return
	}
	if n, err := rtupacket.RequestLength(frame); err == nil && n != len(frame) {
		c.stats.malformed.Add(1)
		c.logger.Debug("discard request", "frame", fmt.Sprintf("% X", frame), "expected", n)
		return
	}
	c.stats.requests.Add(1)

	c.mu.Lock()
	handler := c.reqHandler
	c.mu.Unlock()

	var resp modbus.ProtocolDataUnit
	if handler == nil {
		err = &modbus.ExceptionError{FunctionCode: adu.Pdu.FunctionCode, ExceptionCode: modbus.ExceptionCodeIllegalFunction}
	} else {
		resp, err = handler(adu.SlaveID, adu.Pdu)
	}
	if err != nil {
		var exc *modbus.ExceptionError
		if errors.As(err, &exc) {
			resp = modbus.Exception(adu.Pdu.FunctionCode, exc.ExceptionCode)
		} else {
			c.logger.Warn("request handler failed", "slave", adu.SlaveID, "function", adu.Pdu.FunctionCode, "err", err)
			resp = modbus.Exception(adu.Pdu.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
		}
	}
	if adu.SlaveID == modbus.BroadcastAddress {
		return
	}

	reply := rtupacket.ApplicationDataUnit{SlaveID: c.address, Pdu: resp}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateIdle || c.completing {
		return
	}
	raw, err := reply.AppendEncode(c.reply[:0])
	if err != nil {
		c.stats.txErrors.Add(1)
		c.logger.Warn("encode reply failed", "function", resp.FunctionCode, "err", err)
		return
	}
	c.replyLen = len(raw)
	c.cancelSilence()
	c.rxLen = 0
	c.state = StateTransmitting
	c.cancelTx()
	c.turnTimer = c.timers.Start(c.turnaround, timer.SingleShot, c.onTurnaround, c.txEpoch)
}
