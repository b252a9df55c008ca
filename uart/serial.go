// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grid-x/serial"
)

const (
	// Default read timeout. Reads return early as soon as bytes arrive.
	serialTimeout = 100 * time.Millisecond
	// Backoff after a failed read so a vanished device does not spin.
	serialErrorBackoff = 10 * time.Millisecond
)

// SerialDriver drives a host serial port. A receive goroutine raises RxByte
// for every byte read, and a transmit goroutine emulates the data and shift
// registers: TxEmpty as each byte is handed to the port and TxComplete once
// the written characters have had time to leave the wire.
type SerialDriver struct {
	// Serial port configuration. Character format fields are overwritten by
	// Configure.
	serial.Config

	// openPort opens the device, serial.Open unless replaced.
	openPort func(*serial.Config) (io.ReadWriteCloser, error)

	mu   sync.Mutex
	port io.ReadWriteCloser
	done chan struct{}
	wg   sync.WaitGroup

	charTime atomic.Int64
	trigger  atomic.Int32
	busy     atomic.Bool
	data     chan byte
	kick     chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// NewSerialDriver creates a driver for the given port configuration.
func NewSerialDriver(cfg serial.Config) *SerialDriver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = serialTimeout
	}
	return &SerialDriver{
		Config:   cfg,
		openPort: openSerial,
		data:     make(chan byte, 1),
		kick:     make(chan struct{}, 1),
	}
}

func openSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

func (d *SerialDriver) Configure(f Format) error {
	f = f.Normalize()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return fmt.Errorf("serial %s: configure while open", d.Address)
	}
	d.BaudRate = f.BaudRate
	d.DataBits = f.DataBits
	d.StopBits = f.StopBits
	d.Parity = f.Parity
	d.charTime.Store(int64(f.CharTime()))
	return nil
}

func (d *SerialDriver) Open(irq Interrupts) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return nil
	}
	port, err := d.openPort(&d.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", d.Address, err)
	}
	d.port = port
	d.done = make(chan struct{})
	d.trigger.Store(int32(TxTriggerOff))
	d.busy.Store(false)
	select {
	case <-d.data:
	default:
	}

	d.wg.Add(2)
	go d.rxLoop(port, irq, d.done)
	go d.txLoop(port, irq, d.done)
	return nil
}

func (d *SerialDriver) Close() (err error) {
	d.mu.Lock()
	port, done := d.port, d.done
	d.port = nil
	d.mu.Unlock()

	if port == nil {
		return nil
	}
	close(done)
	err = port.Close()
	d.wg.Wait()
	return
}

func (d *SerialDriver) TxIdle() bool {
	return !d.busy.Load() && len(d.data) == 0
}

func (d *SerialDriver) WriteData(b byte) {
	select {
	case d.data <- b:
	default:
		// The pool only loads an empty data register.
	}
}

func (d *SerialDriver) SetTxTrigger(t TxTrigger) {
	d.trigger.Store(int32(t))
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Err returns the last port error seen by the driver goroutines.
func (d *SerialDriver) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastErr
}

func (d *SerialDriver) setErr(err error) {
	d.errMu.Lock()
	d.lastErr = err
	d.errMu.Unlock()
}

func (d *SerialDriver) rxLoop(port io.Reader, irq Interrupts, done chan struct{}) {
	defer d.wg.Done()

	var buf [MaxReadChunk]byte
	for {
		n, err := port.Read(buf[:])
		select {
		case <-done:
			return
		default:
		}
		for _, b := range buf[:n] {
			irq.RxByte(b)
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			d.setErr(err)
			time.Sleep(serialErrorBackoff)
		}
	}
}

func (d *SerialDriver) txLoop(port io.Writer, irq Interrupts, done chan struct{}) {
	defer d.wg.Done()

	var (
		one     [1]byte
		start   time.Time
		written int
	)
	for {
		select {
		case <-done:
			return
		case b := <-d.data:
			if written == 0 {
				d.busy.Store(true)
				start = time.Now()
			}
			one[0] = b
			if _, err := port.Write(one[:]); err != nil {
				d.setErr(err)
			}
			written++
		case <-d.kick:
		}

	service:
		for len(d.data) == 0 {
			select {
			case <-done:
				return
			default:
			}
			switch TxTrigger(d.trigger.Load()) {
			case TxTriggerEmpty:
				irq.TxEmpty()
			case TxTriggerComplete:
				if written > 0 {
					// The port accepts writes long before the characters are on the wire.
					drain := time.Duration(written+1) * time.Duration(d.charTime.Load())
					if wait := time.Until(start.Add(drain)); wait > 0 {
						select {
						case <-done:
							return
						case <-time.After(wait):
						}
					}
					written = 0
					continue
				}
				d.busy.Store(false)
				irq.TxComplete()
			default:
				break service
			}
		}
	}
}

// MaxReadChunk is the largest number of bytes taken from the port per read.
const MaxReadChunk = 64
