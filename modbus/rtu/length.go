// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/rtu-node/modbus"
)

// ErrUnknownLength is returned for function codes whose request length is not fixed by the header.
var ErrUnknownLength = errors.New("rtu: request length not determined by function code")

// RequestLength returns the expected total length of the request RTU ADU based on the header.
func RequestLength(header []byte) (int, error) {
	// [SlaveID, Func, Appd1, Appd2, Appd3, Appd4/ByteCount]
	if len(header) < 2 {
		return 0, fmt.Errorf("need 2 bytes to determine length, got %d", len(header))
	}
	funcCode := header[1]

	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeReportServerID:
		// [SlaveID, Func, CRC(2)]
		return MinSize, nil
	case modbus.FuncCodeMaskWriteRegister:
		return 10, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < 7 {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		return 7 + int(header[6]) + 2, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownLength, funcCode)
	}
}
