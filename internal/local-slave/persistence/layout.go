// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

// Image layout shared by file and mmap storage:
//
//	Coils            65536 bytes      offset 0
//	DiscreteInputs   65536 bytes      offset 65536
//	HoldingRegisters 65536 * 2 bytes  offset 131072
//	InputRegisters   65536 * 2 bytes  offset 262144
const (
	sizeCoils    = model.MaxAddress + 1
	sizeDiscrete = model.MaxAddress + 1
	sizeHolding  = (model.MaxAddress + 1) * 2
	sizeInput    = (model.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToModel constructs a DataModel backed by data.
// Registers are stored in host byte order, so an image is not portable across
// architectures of different endianness.
func mapBytesToModel(data []byte) *model.DataModel {
	holding := data[offsetHolding : offsetHolding+sizeHolding]
	input := data[offsetInput : offsetInput+sizeInput]
	return &model.DataModel{
		Coils:            data[offsetCoils : offsetCoils+sizeCoils],
		DiscreteInputs:   data[offsetDiscrete : offsetDiscrete+sizeDiscrete],
		HoldingRegisters: unsafe.Slice((*uint16)(unsafe.Pointer(&holding[0])), sizeHolding/2),
		InputRegisters:   unsafe.Slice((*uint16)(unsafe.Pointer(&input[0])), sizeInput/2),
	}
}

// span returns the byte range of the image holding a table range.
func span(table model.TableType, address, quantity uint16) (off, n int) {
	switch table {
	case model.TableCoils:
		return offsetCoils + int(address), int(quantity)
	case model.TableDiscreteInputs:
		return offsetDiscrete + int(address), int(quantity)
	case model.TableHoldingRegisters:
		return offsetHolding + int(address)*2, int(quantity) * 2
	case model.TableInputRegisters:
		return offsetInput + int(address)*2, int(quantity) * 2
	}
	return 0, 0
}
