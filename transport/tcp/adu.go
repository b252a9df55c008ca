// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/rtu-node/modbus"
)

const (
	headerSize = 7 // MBAP header: transaction, protocol, length, unit
	tcpMinSize = 8
	tcpMaxSize = 260
)

// ApplicationDataUnit is a Modbus TCP frame: MBAP header and PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit identifier + PDU
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// decodeHeader parses the MBAP header and returns the number of PDU bytes
// that follow it.
func decodeHeader(raw []byte) (adu *ApplicationDataUnit, pduLength int, err error) {
	adu = &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:4]),
		Length:        binary.BigEndian.Uint16(raw[4:6]),
		SlaveID:       raw[6],
	}
	if adu.ProtocolID != 0 {
		return nil, 0, fmt.Errorf("%w: protocol id '%v'", modbus.ErrInvalidFrame, adu.ProtocolID)
	}
	pduLength = int(adu.Length) - 1
	if pduLength < 1 || headerSize+pduLength > tcpMaxSize {
		return nil, 0, fmt.Errorf("%w: length '%v' out of range", modbus.ErrInvalidFrame, adu.Length)
	}
	return adu, pduLength, nil
}

// Decode parses a complete frame. The PDU data aliases raw.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < tcpMinSize {
		return nil, fmt.Errorf("%w: length '%v' does not meet minimum '%v'", modbus.ErrInvalidFrame, len(raw), tcpMinSize)
	}
	adu, n, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) != headerSize+n {
		return nil, fmt.Errorf("%w: length '%v' does not match header '%v'", modbus.ErrInvalidFrame, len(raw), headerSize+n)
	}
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]
	return adu, nil
}

// Encode builds the frame, computing Length from the PDU.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		return nil, fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidFrame, length, tcpMaxSize)
	}
	adu.Length = uint16(2 + len(adu.Pdu.Data))

	raw = make([]byte, length)
	binary.BigEndian.PutUint16(raw[0:2], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:4], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:6], adu.Length)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}
