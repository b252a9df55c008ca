// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package uart is a fixed pool of serial channels. Each reserved channel owns a
// circular transmit buffer and a driver, and reports received bytes and finished
// transmissions to its owner at interrupt level.
package uart

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// NumChannels is the number of channels in a Pool.
	NumChannels = 4
	// TxBufferSize is the capacity of each channel's transmit buffer.
	TxBufferSize = 256
)

var (
	// ErrNoResources is returned by Reserve when every channel is taken.
	ErrNoResources = errors.New("uart: no free channel")
	// ErrBadInput is returned for invalid handles or configurations.
	ErrBadInput = errors.New("uart: bad input")
	// ErrBufferOverflow is returned when a payload does not fit the transmit buffer.
	ErrBufferOverflow = errors.New("uart: transmit buffer overflow")
)

// Status of a channel.
type Status int

const (
	Free Status = iota
	Reserved
)

func (s Status) String() string {
	if s == Reserved {
		return "reserved"
	}
	return "free"
}

// Mode enables the receive and transmit halves of a channel.
type Mode int

const (
	ModeRx Mode = 1 << iota
	ModeTx
)

// Handle identifies a reserved channel.
type Handle int

// Config describes a reservation.
type Config struct {
	Name   string
	Mode   Mode
	Format Format
	Driver Driver
	// OnReceive is called at interrupt level for every received byte.
	OnReceive func(b byte)
	// OnTxDone is called at interrupt level once the buffer has drained and
	// the last character has left the shift register.
	OnTxDone func()
}

type channel struct {
	mu     sync.Mutex
	gen    uint32
	status Status
	name   string
	mode   Mode
	format Format
	drv    Driver
	tx     ring

	onReceive func(byte)
	onTxDone  func()
}

// irq binds a driver to one reservation of a channel. Interrupts raised by a
// driver of an earlier reservation are ignored.
type irq struct {
	c   *channel
	gen uint32
}

// Pool is the UART channel pool.
type Pool struct {
	channels [NumChannels]channel
}

// NewPool creates a pool with every channel free.
func NewPool() *Pool {
	return &Pool{}
}

// Reserve claims the first free channel, resets its transmit buffer and opens
// its driver.
func (p *Pool) Reserve(cfg Config) (Handle, error) {
	if cfg.Mode&(ModeRx|ModeTx) == 0 {
		return -1, fmt.Errorf("%w: channel '%s' enables neither rx nor tx", ErrBadInput, cfg.Name)
	}
	if cfg.Driver == nil {
		return -1, fmt.Errorf("%w: channel '%s' has no driver", ErrBadInput, cfg.Name)
	}

	for i := range p.channels {
		c := &p.channels[i]
		c.mu.Lock()
		if c.status != Free {
			c.mu.Unlock()
			continue
		}
		c.status = Reserved
		c.gen++
		c.name = cfg.Name
		c.mode = cfg.Mode
		c.format = cfg.Format.Normalize()
		c.drv = cfg.Driver
		c.onReceive = cfg.OnReceive
		c.onTxDone = cfg.OnTxDone
		c.tx.reset()
		binding := &irq{c: c, gen: c.gen}
		format := c.format
		c.mu.Unlock()

		if err := cfg.Driver.Configure(format); err != nil {
			p.free(c)
			return -1, fmt.Errorf("configure channel '%s': %w", cfg.Name, err)
		}
		if err := cfg.Driver.Open(binding); err != nil {
			p.free(c)
			return -1, fmt.Errorf("open channel '%s': %w", cfg.Name, err)
		}
		return Handle(i), nil
	}
	return -1, ErrNoResources
}

func (p *Pool) free(c *channel) Driver {
	c.mu.Lock()
	defer c.mu.Unlock()

	drv := c.drv
	c.status = Free
	c.gen++
	c.drv = nil
	c.onReceive = nil
	c.onTxDone = nil
	c.tx.reset()
	return drv
}

func (p *Pool) get(h Handle) (*channel, error) {
	if h < 0 || int(h) >= len(p.channels) {
		return nil, fmt.Errorf("%w: handle %d", ErrBadInput, h)
	}
	return &p.channels[h], nil
}

// Release closes the driver and frees the channel.
func (p *Pool) Release(h Handle) error {
	c, err := p.get(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	reserved := c.status == Reserved
	c.mu.Unlock()
	if !reserved {
		return fmt.Errorf("%w: channel %d is not reserved", ErrBadInput, h)
	}
	if drv := p.free(c); drv != nil {
		return drv.Close()
	}
	return nil
}

// Transmit queues data for sending. When the driver is idle and the buffer is
// empty the first byte goes straight to the data register. Either all of data
// is accepted or none of it is.
func (p *Pool) Transmit(h Handle, data []byte) error {
	c, err := p.get(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != Reserved || c.mode&ModeTx == 0 {
		return fmt.Errorf("%w: channel %d cannot transmit", ErrBadInput, h)
	}
	if len(data) == 0 {
		return nil
	}

	direct := c.tx.len() == 0 && c.drv.TxIdle()
	rest := data
	if direct {
		rest = data[1:]
	}
	if len(rest) > c.tx.free() {
		return fmt.Errorf("%w: %d bytes, %d free", ErrBufferOverflow, len(rest), c.tx.free())
	}
	if direct {
		c.drv.WriteData(data[0])
	}
	c.tx.push(rest)
	if c.tx.len() > 0 {
		c.drv.SetTxTrigger(TxTriggerEmpty)
	} else {
		c.drv.SetTxTrigger(TxTriggerComplete)
	}
	return nil
}

// Configure changes the character format, reopening the driver.
func (p *Pool) Configure(h Handle, f Format) error {
	c, err := p.get(h)
	if err != nil {
		return err
	}
	f = f.Normalize()

	c.mu.Lock()
	if c.status != Reserved {
		c.mu.Unlock()
		return fmt.Errorf("%w: channel %d is not reserved", ErrBadInput, h)
	}
	c.format = f
	c.tx.reset()
	drv := c.drv
	binding := &irq{c: c, gen: c.gen}
	c.mu.Unlock()

	if err := drv.Close(); err != nil {
		return fmt.Errorf("close channel %d: %w", h, err)
	}
	if err := drv.Configure(f); err != nil {
		return fmt.Errorf("configure channel %d: %w", h, err)
	}
	return drv.Open(binding)
}

// Pending returns the number of bytes waiting in the transmit buffer.
func (p *Pool) Pending(h Handle) int {
	c, err := p.get(h)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx.len()
}

// Status returns the reservation status of a channel.
func (p *Pool) Status(h Handle) Status {
	c, err := p.get(h)
	if err != nil {
		return Free
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Owner returns the name a channel was reserved under.
func (p *Pool) Owner(h Handle) string {
	c, err := p.get(h)
	if err != nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Format returns the current character format of a channel.
func (p *Pool) Format(h Handle) Format {
	c, err := p.get(h)
	if err != nil {
		return Format{}.Normalize()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

func (q *irq) live() bool {
	return q.c.gen == q.gen && q.c.status == Reserved
}

func (q *irq) RxByte(b byte) {
	c := q.c
	c.mu.Lock()
	if !q.live() || c.mode&ModeRx == 0 {
		c.mu.Unlock()
		return
	}
	fn := c.onReceive
	c.mu.Unlock()

	if fn != nil {
		fn(b)
	}
}

func (q *irq) TxEmpty() {
	c := q.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !q.live() {
		return
	}
	b, ok := c.tx.pop()
	if !ok {
		c.drv.SetTxTrigger(TxTriggerComplete)
		return
	}
	c.drv.WriteData(b)
	if c.tx.len() == 0 {
		c.drv.SetTxTrigger(TxTriggerComplete)
	}
}

func (q *irq) TxComplete() {
	c := q.c
	c.mu.Lock()
	if !q.live() {
		c.mu.Unlock()
		return
	}
	if c.tx.len() > 0 {
		// Data was queued while the last character drained.
		c.drv.SetTxTrigger(TxTriggerEmpty)
		c.mu.Unlock()
		return
	}
	c.drv.SetTxTrigger(TxTriggerOff)
	fn := c.onTxDone
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}
