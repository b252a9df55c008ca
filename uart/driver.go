// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package uart

import (
	"strings"
	"time"
)

// Format is the serial character format of a channel.
type Format struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
}

// Normalize fills zero fields with 9600 8N1.
func (f Format) Normalize() Format {
	if f.BaudRate <= 0 {
		f.BaudRate = 9600
	}
	if f.DataBits <= 0 {
		f.DataBits = 8
	}
	if f.StopBits <= 0 {
		f.StopBits = 1
	}
	f.Parity = strings.ToUpper(f.Parity)
	if f.Parity == "" {
		f.Parity = "N"
	}
	return f
}

// BitsPerChar counts start, data, parity and stop bits.
func (f Format) BitsPerChar() int {
	f = f.Normalize()
	bits := 1 + f.DataBits + f.StopBits
	if f.Parity != "N" {
		bits++
	}
	return bits
}

// CharTime is the time one character occupies on the wire.
func (f Format) CharTime() time.Duration {
	f = f.Normalize()
	return time.Duration(f.BitsPerChar()) * time.Second / time.Duration(f.BaudRate)
}

// TxTrigger selects which transmit interrupt a driver raises.
type TxTrigger int32

const (
	// TxTriggerOff raises no transmit interrupt.
	TxTriggerOff TxTrigger = iota
	// TxTriggerEmpty raises TxEmpty whenever the data register is empty.
	TxTriggerEmpty
	// TxTriggerComplete raises TxComplete once the shift register has emptied.
	TxTriggerComplete
)

func (t TxTrigger) String() string {
	switch t {
	case TxTriggerOff:
		return "off"
	case TxTriggerEmpty:
		return "empty"
	case TxTriggerComplete:
		return "complete"
	}
	return "unknown"
}

// Interrupts is the interrupt vector a driver raises into.
//
// Drivers raise interrupts from their own goroutines, never synchronously from
// one of their Driver methods, and never while holding a lock of their own.
type Interrupts interface {
	RxByte(b byte)
	TxEmpty()
	TxComplete()
}

// Driver is the per-channel hardware operation table.
type Driver interface {
	// Open starts the hardware and routes its interrupts to irq.
	Open(irq Interrupts) error
	// Configure programs the character format. It is called while closed.
	Configure(f Format) error
	// TxIdle reports whether both the data and shift registers are empty.
	TxIdle() bool
	// WriteData loads the transmit data register.
	WriteData(b byte)
	// SetTxTrigger selects the transmit interrupt source.
	SetTxTrigger(t TxTrigger)
	// Close stops the hardware. No interrupt is raised after Close returns.
	Close() error
}
