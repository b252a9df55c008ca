// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package uart

import "sync"

// SimDriver is a software UART. Nothing moves on its own: Inject raises
// receive interrupts and Flush shifts the transmit registers out, raising
// transmit interrupts as hardware would. Two linked drivers form a bus.
type SimDriver struct {
	mu       sync.Mutex
	irq      Interrupts
	open     bool
	format   Format
	trigger  TxTrigger
	hasData  bool
	data     byte
	shifting bool
	shift    byte
	sent     []byte
	peers    []*SimDriver
}

// NewSimDriver creates a closed SimDriver.
func NewSimDriver() *SimDriver {
	return &SimDriver{}
}

// Link connects the drivers so that bytes shifted out by one are received by
// every other. Link(a, b) is a point-to-point wire; more drivers form a bus.
func Link(drivers ...*SimDriver) {
	for _, d := range drivers {
		d.mu.Lock()
		for _, other := range drivers {
			if other != d {
				d.peers = append(d.peers, other)
			}
		}
		d.mu.Unlock()
	}
}

func (d *SimDriver) Open(irq Interrupts) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irq = irq
	d.open = true
	return nil
}

func (d *SimDriver) Configure(f Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = f
	return nil
}

func (d *SimDriver) TxIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.hasData && !d.shifting
}

func (d *SimDriver) WriteData(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = b
	d.hasData = true
}

func (d *SimDriver) SetTxTrigger(t TxTrigger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trigger = t
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.irq = nil
	d.trigger = TxTriggerOff
	d.hasData = false
	d.shifting = false
	return nil
}

// Inject delivers bytes as if they had arrived on the wire.
func (d *SimDriver) Inject(bs ...byte) {
	for _, b := range bs {
		d.mu.Lock()
		irq := d.irq
		open := d.open
		d.mu.Unlock()
		if open && irq != nil {
			irq.RxByte(b)
		}
	}
}

// Flush runs the transmitter until it has nothing left to do and returns the
// bytes shifted out. Linked peers receive each byte as it leaves.
func (d *SimDriver) Flush() []byte {
	var out []byte
	for {
		d.mu.Lock()
		if !d.open {
			d.mu.Unlock()
			return out
		}
		if d.hasData && !d.shifting {
			d.shift, d.shifting, d.hasData = d.data, true, false
		}
		irq := d.irq
		switch {
		case !d.hasData && d.trigger == TxTriggerEmpty:
			d.mu.Unlock()
			irq.TxEmpty()
		case d.shifting:
			b := d.shift
			d.shifting = false
			d.sent = append(d.sent, b)
			peers := d.peers
			d.mu.Unlock()
			out = append(out, b)
			for _, p := range peers {
				p.Inject(b)
			}
		case d.trigger == TxTriggerComplete:
			d.mu.Unlock()
			irq.TxComplete()
		default:
			d.mu.Unlock()
			return out
		}
	}
}

// Sent returns every byte shifted out since creation.
func (d *SimDriver) Sent() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.sent...)
}

// Format returns the last configured format.
func (d *SimDriver) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// Trigger returns the current transmit trigger.
func (d *SimDriver) Trigger() TxTrigger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trigger
}
