// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the Modbus RTU CRC16 (reflected polynomial 0xA001,
// initial register 0xFFFF).
package crc

const (
	polynomial = 0xA001
	initial    = 0xFFFF
)

var table [256]uint16

func init() {
	for i := range table {
		c := uint16(i)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = c>>1 ^ polynomial
			} else {
				c >>= 1
			}
		}
		table[i] = c
	}
}

// CRC is a streaming Modbus CRC16 register.
type CRC struct {
	value uint16
}

// Reset loads the initial register value.
func (crc *CRC) Reset() *CRC {
	crc.value = initial
	return crc
}

// PushBytes feeds bs into the register.
func (crc *CRC) PushBytes(bs []byte) *CRC {
	v := crc.value
	for _, b := range bs {
		v = v>>8 ^ table[byte(v)^b]
	}
	crc.value = v
	return crc
}

// Value returns the current checksum. On the wire the low byte goes first.
func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC16 of b.
func Checksum(b []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(b).Value()
}

// Append appends the CRC16 of b to b, low byte first.
func Append(b []byte) []byte {
	sum := Checksum(b)
	return append(b, byte(sum), byte(sum>>8))
}

// Check reports whether the trailing two bytes of frame hold the little-endian
// CRC16 of the bytes before them.
func Check(frame []byte) bool {
	n := len(frame)
	if n < 2 {
		return false
	}
	sum := Checksum(frame[:n-2])
	return frame[n-2] == byte(sum) && frame[n-1] == byte(sum>>8)
}
