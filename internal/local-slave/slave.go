// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package localslave answers Modbus requests from a local register model.
//
// Holding registers carry the station configuration (read with 0x03, written
// with 0x06 and 0x10), input registers carry measured data (0x04) and Report
// Server ID (0x11) returns the station identity.
package localslave

import (
	"encoding/binary"
	"errors"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
	"github.com/ffutop/rtu-node/internal/local-slave/persistence"
	"github.com/ffutop/rtu-node/modbus"
)

// RunIndicatorOn is the run indicator status reported by Report Server ID.
const RunIndicatorOn = 0xFF

// LocalSlave implements the Modbus protocol logic on top of a DataModel.
type LocalSlave struct {
	model    *model.DataModel
	storage  persistence.Storage
	identity []byte
}

// NewLocalSlave creates a LocalSlave. Every write to m is forwarded to storage.
func NewLocalSlave(m *model.DataModel, storage persistence.Storage, identity string) *LocalSlave {
	s := &LocalSlave{model: m, storage: storage, identity: []byte(identity)}
	if storage != nil {
		m.SetWriteHook(storage.OnWrite)
	}
	return s
}

// Model returns the register model.
func (s *LocalSlave) Model() *model.DataModel {
	return s.model
}

// Close saves and closes the storage.
func (s *LocalSlave) Close() error {
	if s.storage == nil {
		return nil
	}
	return errors.Join(s.storage.Save(s.model), s.storage.Close())
}

// Handle serves one request. Protocol failures are returned as
// *modbus.ExceptionError.
func (s *LocalSlave) Handle(slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.readBits(req, 2000, s.model.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.readBits(req, 2000, s.model.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.readBits(req, 125, s.model.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.readBits(req, 125, s.model.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.writeSingle(req, s.model.WriteSingleCoil)
	case modbus.FuncCodeWriteSingleRegister:
		return s.writeSingle(req, s.model.WriteSingleRegister)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.writeMultiple(req, 1968, 0, s.model.WriteMultipleCoils)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.writeMultiple(req, 123, 2, s.model.WriteMultipleRegisters)
	case modbus.FuncCodeReportServerID:
		return s.reportServerID(req)
	default:
		return exception(req, modbus.ExceptionCodeIllegalFunction)
	}
}

// Process is Handle for callers that want exceptions as PDUs.
func (s *LocalSlave) Process(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	resp, err := s.Handle(0, req)
	var exc *modbus.ExceptionError
	if errors.As(err, &exc) {
		return modbus.Exception(req.FunctionCode, exc.ExceptionCode), nil
	}
	return resp, err
}

// readBits serves the four read functions: [addr:2][quantity:2] answered by
// [byte count:1][data].
func (s *LocalSlave) readBits(req modbus.ProtocolDataUnit, max uint16, read func(address, quantity uint16) ([]byte, error)) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > max {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := read(address, quantity)
	if err != nil {
		return exception(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, nil
}

// writeSingle serves 0x05 and 0x06, which echo the request.
func (s *LocalSlave) writeSingle(req modbus.ProtocolDataUnit, write func(address, value uint16) error) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := write(address, value); err != nil {
		if errors.Is(err, model.ErrInvalidValue) {
			return exception(req, modbus.ExceptionCodeIllegalDataValue)
		}
		return exception(req, modbus.ExceptionCodeIllegalDataAddress)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data...)}, nil
}

// writeMultiple serves 0x0F and 0x10: [addr:2][quantity:2][byte count:1][data]
// answered by [addr:2][quantity:2]. wordSize is 2 for registers; 0 selects
// packed bits.
func (s *LocalSlave) writeMultiple(req modbus.ProtocolDataUnit, max uint16, wordSize int, write func(address, quantity uint16, data []byte) error) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 6 {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])

	if quantity < 1 || quantity > max {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}
	want := int(quantity) * wordSize
	if wordSize == 0 {
		want = (int(quantity) + 7) / 8
	}
	if byteCount != want || len(req.Data)-5 != byteCount {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := write(address, quantity, req.Data[5:]); err != nil {
		return exception(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, nil
}

// reportServerID answers [byte count][server id...][run indicator].
func (s *LocalSlave) reportServerID(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return exception(req, modbus.ExceptionCodeIllegalDataValue)
	}
	id := s.identity
	if len(id) > 250 {
		id = id[:250]
	}
	respData := make([]byte, 0, 2+len(id))
	respData = append(respData, byte(len(id)+1))
	respData = append(respData, id...)
	respData = append(respData, RunIndicatorOn)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, nil
}

func exception(req modbus.ProtocolDataUnit, code byte) (modbus.ProtocolDataUnit, error) {
	return modbus.Exception(req.FunctionCode, code), &modbus.ExceptionError{FunctionCode: req.FunctionCode, ExceptionCode: code}
}
