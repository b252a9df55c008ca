// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/rtu-node/modbus"
	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
)

// Request encodes pdu for slaveID, appends the CRC and starts the transaction.
// Slave address 0 is sent as a broadcast.
func (c *Channel) Request(slaveID byte, pdu modbus.ProtocolDataUnit, handler ResponseHandler, userData any) error {
	adu := rtupacket.ApplicationDataUnit{SlaveID: slaveID, Pdu: pdu}
	var buf [rtupacket.MaxSize]byte
	raw, err := adu.AppendEncode(buf[:0])
	if err != nil {
		return err
	}
	return c.AttemptTransmission(raw, handler, userData, slaveID == modbus.BroadcastAddress)
}

// ReadCoils requests quantity coil states starting at address.
func (c *Channel) ReadCoils(slaveID byte, address, quantity uint16, handler ResponseHandler, userData any) error {
	if quantity < 1 || quantity > 2000 {
		return fmt.Errorf("%w: '%v' must be between '%v' and '%v'", modbus.ErrInvalidQuantity, quantity, 1, 2000)
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadCoils,
		Data:         dataBlock(address, quantity),
	}, handler, userData)
}

// ReadDiscreteInputs requests quantity discrete input states starting at address.
func (c *Channel) ReadDiscreteInputs(slaveID byte, address, quantity uint16, handler ResponseHandler, userData any) error {
	if quantity < 1 || quantity > 2000 {
		return fmt.Errorf("%w: '%v' must be between '%v' and '%v'", modbus.ErrInvalidQuantity, quantity, 1, 2000)
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadDiscreteInputs,
		Data:         dataBlock(address, quantity),
	}, handler, userData)
}

// ReadHoldingRegisters requests quantity holding registers starting at address.
func (c *Channel) ReadHoldingRegisters(slaveID byte, address, quantity uint16, handler ResponseHandler, userData any) error {
	if quantity < 1 || quantity > 125 {
		return fmt.Errorf("%w: '%v' must be between '%v' and '%v'", modbus.ErrInvalidQuantity, quantity, 1, 125)
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         dataBlock(address, quantity),
	}, handler, userData)
}

// ReadInputRegisters requests quantity input registers starting at address.
func (c *Channel) ReadInputRegisters(slaveID byte, address, quantity uint16, handler ResponseHandler, userData any) error {
	if quantity < 1 || quantity > 125 {
		return fmt.Errorf("%w: '%v' must be between '%v' and '%v'", modbus.ErrInvalidQuantity, quantity, 1, 125)
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadInputRegisters,
		Data:         dataBlock(address, quantity),
	}, handler, userData)
}

// WriteSingleCoil sets or clears one coil.
func (c *Channel) WriteSingleCoil(slaveID byte, address uint16, on bool, handler ResponseHandler, userData any) error {
	var value uint16
	if on {
		value = 0xFF00
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         dataBlock(address, value),
	}, handler, userData)
}

// WriteSingleRegister writes one holding register.
func (c *Channel) WriteSingleRegister(slaveID byte, address, value uint16, handler ResponseHandler, userData any) error {
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         dataBlock(address, value),
	}, handler, userData)
}

// WriteMultipleRegisters writes consecutive holding registers starting at address.
func (c *Channel) WriteMultipleRegisters(slaveID byte, address uint16, values []uint16, handler ResponseHandler, userData any) error {
	quantity := len(values)
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("%w: '%v' must be between '%v' and '%v'", modbus.ErrInvalidQuantity, quantity, 1, 123)
	}
	data := make([]byte, 5+2*quantity)
	binary.BigEndian.PutUint16(data, address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	data[4] = byte(2 * quantity)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return c.Request(slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         data,
	}, handler, userData)
}

// ReportServerID asks a slave to identify itself.
func (c *Channel) ReportServerID(slaveID byte, handler ResponseHandler, userData any) error {
	return c.Request(slaveID, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReportServerID}, handler, userData)
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}
