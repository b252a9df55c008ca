// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/modbus/crc"
)

// ApplicationDataUnit is an RTU frame: slave address, PDU and CRC.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses a received frame. CRC mismatches wrap modbus.ErrCorruptedFrame.
// The returned PDU data aliases raw.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", modbus.ErrInvalidFrame, length, MinSize)
		return
	}
	if length > MaxSize {
		err = fmt.Errorf("%w: length '%v' exceeds maximum '%v'", modbus.ErrInvalidFrame, length, MaxSize)
		return
	}

	if !crc.Check(raw) {
		checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
		err = fmt.Errorf("%w: crc '%#04x' does not match expected '%#04x'", modbus.ErrCorruptedFrame, checksum, crc.Checksum(raw[:length-2]))
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	return adu.AppendEncode(nil)
}

// AppendEncode is Encode writing into dst, which is reused when it has room.
func (adu *ApplicationDataUnit) AppendEncode(dst []byte) (raw []byte, err error) {
	length := len(adu.Pdu.Data) + MinSize
	if length > MaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidFrame, length, MaxSize)
		return
	}
	raw = append(dst[:0], adu.SlaveID, adu.Pdu.FunctionCode)
	raw = append(raw, adu.Pdu.Data...)
	raw = crc.Append(raw)
	return
}

// Verify checks that resp answers req: same slave and same function, or its exception.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("%w: slave id '%v' does not match request '%v'", modbus.ErrUnexpectedResponse, resp.SlaveID, req.SlaveID)
		return
	}
	if resp.Pdu.FunctionCode&^modbus.ExceptionFlag != req.Pdu.FunctionCode {
		err = fmt.Errorf("%w: function '%v' does not match request '%v'", modbus.ErrUnexpectedResponse, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
		return
	}
	return
}
