// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

var (
	// ErrOutOfRange is returned for address ranges outside the tables.
	ErrOutOfRange = errors.New("model: address range out of bounds")
	// ErrInvalidValue is returned for values the protocol does not allow.
	ErrInvalidValue = errors.New("model: invalid value")
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete-inputs"
	case TableHoldingRegisters:
		return "holding-registers"
	case TableInputRegisters:
		return "input-registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// WriteHook is called after a range of a table has changed, outside the model lock.
type WriteHook func(table TableType, address, quantity uint16)

// DataModel holds the four Modbus tables of a station.
// It covers the full 16-bit address space of each table. The slices may be
// backed by a persistent mapping, see the persistence package.
type DataModel struct {
	mu   sync.RWMutex
	hook WriteHook

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only on the bus). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write). Configuration of the station.
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only on the bus). Measured data of the station.
	InputRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

// SetWriteHook installs the hook called after every successful write.
func (m *DataModel) SetWriteHook(h WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

func (m *DataModel) written(table TableType, address, quantity uint16) {
	m.mu.RLock()
	h := m.hook
	m.mu.RUnlock()
	if h != nil {
		h(table, address, quantity)
	}
}

// ReadCoils returns a range of coils packed LSB first.
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.Coils, address, quantity)
}

// ReadDiscreteInputs returns a range of discrete inputs packed LSB first.
func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.DiscreteInputs, address, quantity)
}

// ReadHoldingRegisters returns a range of holding registers as big-endian bytes.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.HoldingRegisters, address, quantity)
}

// ReadInputRegisters returns a range of input registers as big-endian bytes.
func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.InputRegisters, address, quantity)
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	var bit byte
	switch value {
	case 0xFF00:
		bit = 1
	case 0x0000:
	default:
		return fmt.Errorf("%w: coil value %#04x", ErrInvalidValue, value)
	}

	m.mu.Lock()
	m.Coils[address] = bit
	m.mu.Unlock()

	m.written(TableCoils, address, 1)
	return nil
}

// WriteMultipleCoils writes a range of coils from bits packed LSB first.
func (m *DataModel) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("%w: %d bytes for %d coils", ErrInvalidValue, len(data), quantity)
	}

	m.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		m.Coils[int(address)+i] = (data[i/8] >> uint(i%8)) & 1
	}
	m.mu.Unlock()

	m.written(TableCoils, address, quantity)
	return nil
}

// WriteSingleRegister writes a single holding register.
func (m *DataModel) WriteSingleRegister(address uint16, value uint16) error {
	m.mu.Lock()
	m.HoldingRegisters[address] = value
	m.mu.Unlock()

	m.written(TableHoldingRegisters, address, 1)
	return nil
}

// WriteMultipleRegisters writes a range of holding registers from big-endian bytes.
func (m *DataModel) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("%w: %d bytes for %d registers", ErrInvalidValue, len(data), quantity)
	}

	m.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		m.HoldingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	m.mu.Unlock()

	m.written(TableHoldingRegisters, address, quantity)
	return nil
}

// SetInputRegisters updates measured data. Input registers are read-only on
// the bus; the station application publishes its readings here.
func (m *DataModel) SetInputRegisters(address uint16, values ...uint16) error {
	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}

	m.mu.Lock()
	copy(m.InputRegisters[address:], values)
	m.mu.Unlock()

	m.written(TableInputRegisters, address, uint16(len(values)))
	return nil
}

// SetDiscreteInputs updates discrete inputs from the station application.
func (m *DataModel) SetDiscreteInputs(address uint16, values ...bool) error {
	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}

	m.mu.Lock()
	for i, v := range values {
		var bit byte
		if v {
			bit = 1
		}
		m.DiscreteInputs[int(address)+i] = bit
	}
	m.mu.Unlock()

	m.written(TableDiscreteInputs, address, uint16(len(values)))
	return nil
}

// HoldingRegister returns one holding register.
func (m *DataModel) HoldingRegister(address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.HoldingRegisters[address]
}

func packBits(table []byte, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

func packWords(table []uint16, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], table[int(address)+i])
	}
	return result, nil
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("%w: quantity must be greater than 0", ErrOutOfRange)
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
