// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// BroadcastAddress is the slave address every station accepts and none answers.
const BroadcastAddress = 0

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeReportServerID         = 0x11
	FuncCodeMaskWriteRegister      = 0x16

	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

// ExceptionFlag is set in the function code of an exception response.
const ExceptionFlag = 0x80

// Exception Codes
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

var (
	// ErrBusy is returned when a transmission is requested on a channel that is not idle.
	ErrBusy = errors.New("modbus: channel busy")
	// ErrFraming reports a silence longer than 1.5 character times inside a frame.
	ErrFraming = errors.New("modbus: framing error")
	// ErrCorruptedFrame reports a received frame whose CRC does not match.
	ErrCorruptedFrame = errors.New("modbus: corrupted frame")
	// ErrNoResponse reports that the response timeout elapsed without a complete frame.
	ErrNoResponse = errors.New("modbus: no response")
	// ErrUnexpectedResponse reports a valid frame that does not answer the pending request.
	ErrUnexpectedResponse = errors.New("modbus: unexpected response")
	// ErrInvalidFrame is returned for frames outside the RTU size limits.
	ErrInvalidFrame = errors.New("modbus: invalid frame")
	// ErrNotMaster is returned when a slave channel is asked to start a transaction.
	ErrNotMaster = errors.New("modbus: channel is not a master")
	// ErrInvalidQuantity is returned by request builders for out-of-range quantities.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU is an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionFlag != 0
}

// Err returns the exception carried by the PDU, or nil for a normal response.
func (pdu ProtocolDataUnit) Err() error {
	if !pdu.IsException() {
		return nil
	}
	e := &ExceptionError{FunctionCode: pdu.FunctionCode &^ ExceptionFlag}
	if len(pdu.Data) > 0 {
		e.ExceptionCode = pdu.Data[0]
	}
	return e
}

// Exception builds the exception response for the given function code.
func Exception(functionCode, exceptionCode byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: functionCode | ExceptionFlag,
		Data:         []byte{exceptionCode},
	}
}

// ExceptionError is an exception response returned by a slave.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode)
}
