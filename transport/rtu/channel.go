// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu runs Modbus RTU over a channel of the UART pool. Frames are
// delimited purely by bus silence: a gap of 1.5 character times closes a frame
// and a gap of 3.5 character times completes it.
//
// Byte reception, silence timers and transmit completion run in interrupt
// context (driver goroutines and timer callbacks) and only rearm timers, flip
// state and enqueue work. CRC validation and every application callback run as
// jobs on the mainline loop.
package rtu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/rtu-node/internal/jobq"
	"github.com/ffutop/rtu-node/internal/timer"
	"github.com/ffutop/rtu-node/modbus"
	rtupacket "github.com/ffutop/rtu-node/modbus/rtu"
	"github.com/ffutop/rtu-node/uart"
)

const (
	DefaultResponseTimeout     = 200 * time.Millisecond
	DefaultBroadcastTurnaround = 100 * time.Millisecond
	DefaultTurnaround          = 5 * time.Millisecond
)

// gapResolution is the smallest gap longer than 1.5T. A byte arriving exactly
// 1.5T after the previous one still belongs to the frame.
const gapResolution = time.Microsecond

// Role of a channel on the bus.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

func (r Role) String() string {
	if r == RoleSlave {
		return "slave"
	}
	return "master"
}

// State of the channel state machine.
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateTransmitting
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateTransmitting:
		return "transmitting"
	case StateAwaitingResponse:
		return "awaiting-response"
	}
	return "unknown"
}

// ResponseHandler receives the outcome of a master transaction on the mainline
// loop. err is nil for a valid response or a finished broadcast; otherwise it
// wraps one of the modbus errors or is a *modbus.ExceptionError, in which case
// pdu holds the exception response. pdu.Data is only valid during the call.
type ResponseHandler func(slaveID byte, pdu modbus.ProtocolDataUnit, err error, userData any)

// RequestHandler serves a request addressed to a slave channel on the mainline
// loop. A *modbus.ExceptionError result is answered with that exception, any
// other error with a server device failure. pdu.Data is only valid during the call.
type RequestHandler func(slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// FrameHandler receives complete frames heard by an idle master, unvalidated.
type FrameHandler func(frame []byte)

// Options configures a Channel.
type Options struct {
	Name    string
	Role    Role
	Address byte // own station address, slave role only
	Format  uart.Format
	Driver  uart.Driver

	ResponseTimeout     time.Duration
	BroadcastTurnaround time.Duration
	Turnaround          time.Duration

	Logger *slog.Logger
}

// Stats are cumulative channel counters.
type Stats struct {
	Requests      uint64 // transactions started (master) or requests served (slave)
	Frames        uint64 // frames completed by silence
	CRCErrors     uint64
	FramingErrors uint64
	NoResponses   uint64
	Overruns      uint64
	Ignored       uint64 // requests for other stations
	Malformed     uint64 // valid CRC, length disagrees with the function code
	Dropped       uint64 // outcomes lost to a full job queue
	TxErrors      uint64
}

type counters struct {
	requests, frames, crcErrors, framingErrors, noResponses atomic.Uint64
	overruns, ignored, malformed, dropped, txErrors         atomic.Uint64
}

type completion int

const (
	completeResponse completion = iota
	completeUnsolicited
	completeRequest
)

// Channel is a Modbus RTU station bound to one UART channel.
type Channel struct {
	pool    *uart.Pool
	timers  timer.Service
	jobs    *jobq.Queue
	handle  uart.Handle
	name    string
	role    Role
	address byte
	logger  *slog.Logger

	responseTimeout     time.Duration
	broadcastTurnaround time.Duration
	turnaround          time.Duration

	completeJob jobq.Job
	stats       counters

	mu     sync.Mutex
	closed bool
	state  State
	timing rtupacket.Timing

	// Receive side.
	rx          [rtupacket.MaxSize]byte
	rxLen       int
	frameClosed bool // 1.5T elapsed since the last byte
	discarding  bool // swallow bytes until 3.5T silence
	rxEpoch     uint64
	t15, t35    timer.Handle

	// Transmit side.
	txEpoch    uint64
	respTimer  timer.Handle
	turnTimer  timer.Handle
	handler    ResponseHandler
	userData   any
	broadcast  bool
	reqSlave   byte
	reqFunc    byte
	reply      [rtupacket.MaxSize]byte
	replyLen   int
	reqHandler RequestHandler
	unsolicit  FrameHandler

	// Completion handed to the mainline loop.
	completing bool
	kind       completion
	outcome    error
	frame      [rtupacket.MaxSize]byte
	frameLen   int

	// Mainline-only copy of the completed frame.
	work [rtupacket.MaxSize]byte
}

// NewChannel reserves a UART channel and starts the state machine in Starting.
// The channel becomes Idle after 3.5 character times of silence.
func NewChannel(pool *uart.Pool, timers timer.Service, jobs *jobq.Queue, opts Options) (*Channel, error) {
	c := &Channel{
		pool:                pool,
		timers:              timers,
		jobs:                jobs,
		name:                opts.Name,
		role:                opts.Role,
		address:             opts.Address,
		logger:              opts.Logger,
		responseTimeout:     opts.ResponseTimeout,
		broadcastTurnaround: opts.BroadcastTurnaround,
		turnaround:          opts.Turnaround,
		state:               StateStarting,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("channel", c.name, "role", c.role.String())
	if c.responseTimeout <= 0 {
		c.responseTimeout = DefaultResponseTimeout
	}
	if c.broadcastTurnaround <= 0 {
		c.broadcastTurnaround = DefaultBroadcastTurnaround
	}
	if c.turnaround <= 0 {
		c.turnaround = DefaultTurnaround
	}
	if c.role == RoleSlave && (c.address == modbus.BroadcastAddress || c.address > 247) {
		return nil, fmt.Errorf("channel '%s': invalid slave address %d", c.name, c.address)
	}
	c.completeJob = c.complete

	format := opts.Format.Normalize()
	c.timing = rtupacket.NewTiming(format.BaudRate, format.BitsPerChar())

	h, err := pool.Reserve(uart.Config{
		Name:      opts.Name,
		Mode:      uart.ModeRx | uart.ModeTx,
		Format:    format,
		Driver:    opts.Driver,
		OnReceive: c.onByte,
		OnTxDone:  c.onTxDone,
	})
	if err != nil {
		return nil, fmt.Errorf("channel '%s': %w", c.name, err)
	}
	c.handle = h

	c.mu.Lock()
	c.armFrameTimer()
	c.mu.Unlock()
	return c, nil
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Role() Role { return c.role }

func (c *Channel) Address() byte { return c.address }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Timing returns the silence intervals for the current format.
func (c *Channel) Timing() rtupacket.Timing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing
}

// RxPending returns the number of bytes in the receive buffer.
func (c *Channel) RxPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxLen
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Requests:      c.stats.requests.Load(),
		Frames:        c.stats.frames.Load(),
		CRCErrors:     c.stats.crcErrors.Load(),
		FramingErrors: c.stats.framingErrors.Load(),
		NoResponses:   c.stats.noResponses.Load(),
		Overruns:      c.stats.overruns.Load(),
		Ignored:       c.stats.ignored.Load(),
		Malformed:     c.stats.malformed.Load(),
		Dropped:       c.stats.dropped.Load(),
		TxErrors:      c.stats.txErrors.Load(),
	}
}

// SetRequestHandler installs the handler serving requests on a slave channel.
func (c *Channel) SetRequestHandler(h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqHandler = h
}

// SetUnsolicitedHandler installs the handler for frames heard while a master is idle.
func (c *Channel) SetUnsolicitedHandler(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsolicit = h
}

// SetFormat reprograms the line format and recomputes the silence timing. The
// channel goes back to Starting and waits for 3.5T of silence.
func (c *Channel) SetFormat(f uart.Format) error {
	f = f.Normalize()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel '%s': %w", c.name, uart.ErrBadInput)
	}
	if c.state == StateTransmitting || c.state == StateAwaitingResponse || c.completing {
		c.mu.Unlock()
		return modbus.ErrBusy
	}
	c.state = StateStarting
	c.cancelSilence()
	c.rxLen = 0
	c.mu.Unlock()

	if err := c.pool.Configure(c.handle, f); err != nil {
		return fmt.Errorf("channel '%s': %w", c.name, err)
	}

	c.mu.Lock()
	c.timing = rtupacket.NewTiming(f.BaudRate, f.BitsPerChar())
	c.armFrameTimer()
	c.mu.Unlock()
	c.logger.Debug("format changed", "baud", f.BaudRate, "char", c.timing.Char, "t15", c.timing.InterChar, "t35", c.timing.Frame)
	return nil
}

// Close cancels every timer and releases the UART channel. A pending
// transaction is abandoned without an outcome.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelSilence()
	c.cancelTx()
	c.handler = nil
	c.userData = nil
	c.completing = false
	c.mu.Unlock()

	return c.pool.Release(c.handle)
}

// AttemptTransmission sends a complete frame (address, PDU and CRC) and reports
// the outcome to handler. It fails with modbus.ErrBusy unless the channel is Idle.
func (c *Channel) AttemptTransmission(frame []byte, handler ResponseHandler, userData any, broadcast bool) error {
	if c.role != RoleMaster {
		return modbus.ErrNotMaster
	}
	if len(frame) < rtupacket.MinSize || len(frame) > rtupacket.MaxSize {
		return fmt.Errorf("%w: length %d", modbus.ErrInvalidFrame, len(frame))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateIdle || c.completing {
		return modbus.ErrBusy
	}
	c.cancelSilence()
	c.cancelTx()
	c.rxLen = 0
	c.handler = handler
	c.userData = userData
	c.broadcast = broadcast
	c.reqSlave = frame[0]
	c.reqFunc = frame[1]
	c.state = StateTransmitting

	if err := c.pool.Transmit(c.handle, frame); err != nil {
		c.state = StateIdle
		c.handler = nil
		c.userData = nil
		return err
	}
	c.stats.requests.Add(1)
	return nil
}

// Caller holds c.mu for every method below up to complete.

func (c *Channel) cancelSilence() {
	c.rxEpoch++
	if c.t15 != 0 {
		c.timers.Cancel(c.t15)
		c.t15 = 0
	}
	if c.t35 != 0 {
		c.timers.Cancel(c.t35)
		c.t35 = 0
	}
	c.frameClosed = false
	c.discarding = false
}

func (c *Channel) cancelTx() {
	c.txEpoch++
	if c.respTimer != 0 {
		c.timers.Cancel(c.respTimer)
		c.respTimer = 0
	}
	if c.turnTimer != 0 {
		c.timers.Cancel(c.turnTimer)
		c.turnTimer = 0
	}
}

// armSilence restarts both silence timers after an accepted byte.
func (c *Channel) armSilence() {
	c.cancelSilence()
	c.t15 = c.timers.Start(c.timing.InterChar+gapResolution, timer.SingleShot, c.on15, c.rxEpoch)
	c.t35 = c.timers.Start(c.timing.Frame, timer.SingleShot, c.on35, c.rxEpoch)
}

// armFrameTimer restarts only the 3.5T timer. Used while starting up and while
// swallowing the remainder of a broken frame.
func (c *Channel) armFrameTimer() {
	discarding := c.discarding
	c.cancelSilence()
	c.discarding = discarding
	c.t35 = c.timers.Start(c.timing.Frame, timer.SingleShot, c.on35, c.rxEpoch)
}

// discard drops the receive buffer and swallows bytes until the bus is silent.
func (c *Channel) discard() {
	c.rxLen = 0
	c.discarding = true
	c.armFrameTimer()
}

// finish hands an outcome to the mainline loop.
func (c *Channel) finish(kind completion, outcome error) {
	c.frameLen = copy(c.frame[:], c.rx[:c.rxLen])
	c.rxLen = 0
	c.kind = kind
	c.outcome = outcome
	c.completing = true
	if err := c.jobs.Enqueue(c.completeJob, nil); err != nil {
		c.stats.dropped.Add(1)
		c.completing = false
		c.handler = nil
		c.userData = nil
		if c.role == RoleMaster {
			c.state = StateIdle
		}
	}
}

func (c *Channel) onByte(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return
	case c.state == StateTransmitting:
		// Own echo on a half-duplex bus.
		return
	case c.state == StateStarting:
		c.armFrameTimer()
		return
	case c.completing:
		// The previous frame has not reached the mainline yet.
		c.discard()
		return
	case c.discarding:
		c.armFrameTimer()
		return
	case c.frameClosed:
		c.stats.framingErrors.Add(1)
		if c.state == StateAwaitingResponse {
			c.cancelTx()
			c.rxLen = 0
			c.finish(completeResponse, modbus.ErrFraming)
		}
		c.discard()
		return
	case c.rxLen == len(c.rx):
		c.stats.overruns.Add(1)
		c.discard()
		return
	}
	c.rx[c.rxLen] = b
	c.rxLen++
	c.armSilence()
}

func (c *Channel) on15(data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || data.(uint64) != c.rxEpoch {
		return
	}
	c.t15 = 0
	c.frameClosed = true
}

func (c *Channel) on35(data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || data.(uint64) != c.rxEpoch {
		return
	}
	c.t35 = 0
	c.t15 = 0
	c.frameClosed = false

	if c.state == StateStarting {
		c.state = StateIdle
		c.rxLen = 0
		c.discarding = false
		return
	}
	if c.discarding {
		c.discarding = false
		c.rxLen = 0
		return
	}
	if c.rxLen == 0 || c.completing {
		c.rxLen = 0
		return
	}
	c.stats.frames.Add(1)

	switch {
	case c.role == RoleMaster && c.state == StateAwaitingResponse:
		c.cancelTx()
		c.finish(completeResponse, nil)
	case c.role == RoleMaster && c.state == StateIdle:
		if c.unsolicit == nil {
			c.rxLen = 0
			return
		}
		c.finish(completeUnsolicited, nil)
	case c.role == RoleSlave && c.state == StateIdle:
		if addr := c.rx[0]; addr != c.address && addr != modbus.BroadcastAddress {
			c.stats.ignored.Add(1)
			c.rxLen = 0
			return
		}
		c.finish(completeRequest, nil)
	default:
		c.rxLen = 0
	}
}

func (c *Channel) onTxDone() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateTransmitting {
		return
	}
	if c.role == RoleSlave {
		c.state = StateIdle
		return
	}
	c.cancelTx()
	if c.broadcast {
		c.turnTimer = c.timers.Start(c.broadcastTurnaround, timer.SingleShot, c.onBroadcastDone, c.txEpoch)
		return
	}
	c.state = StateAwaitingResponse
	c.rxLen = 0
	c.respTimer = c.timers.Start(c.responseTimeout, timer.SingleShot, c.onResponseTimeout, c.txEpoch)
}

func (c *Channel) onBroadcastDone(data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || data.(uint64) != c.txEpoch || c.state != StateTransmitting {
		return
	}
	c.turnTimer = 0
	c.rxLen = 0
	c.finish(completeResponse, nil)
}

func (c *Channel) onResponseTimeout(data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || data.(uint64) != c.txEpoch || c.state != StateAwaitingResponse || c.completing {
		return
	}
	c.respTimer = 0
	c.stats.noResponses.Add(1)
	partial := c.rxLen > 0
	c.cancelSilence()
	c.rxLen = 0
	c.finish(completeResponse, modbus.ErrNoResponse)
	if partial {
		c.discard()
	}
}

func (c *Channel) onTurnaround(data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || data.(uint64) != c.txEpoch || c.state != StateTransmitting {
		return
	}
	c.turnTimer = 0
	c.cancelSilence()
	if err := c.pool.Transmit(c.handle, c.reply[:c.replyLen]); err != nil {
		c.stats.txErrors.Add(1)
		c.state = StateIdle
	}
}

// complete runs on the mainline loop and delivers the pending outcome.
func (c *Channel) complete(any) {
	c.mu.Lock()
	if !c.completing {
		c.mu.Unlock()
		return
	}
	kind, outcome := c.kind, c.outcome
	frame := c.work[:copy(c.work[:], c.frame[:c.frameLen])]
	handler, userData := c.handler, c.userData
	broadcast, reqSlave, reqFunc := c.broadcast, c.reqSlave, c.reqFunc
	unsolicit := c.unsolicit
	c.completing = false
	c.outcome = nil
	if kind == completeResponse {
		c.handler = nil
		c.userData = nil
		c.state = StateIdle
	}
	c.mu.Unlock()

	switch kind {
	case completeResponse:
		c.deliver(handler, userData, frame, outcome, broadcast, reqSlave, reqFunc)
	case completeUnsolicited:
		if unsolicit != nil {
			c.logger.Debug("unsolicited frame", "frame", fmt.Sprintf("% X", frame))
			unsolicit(frame)
		}
	case completeRequest:
		c.serve(frame)
	}
}

func (c *Channel) deliver(handler ResponseHandler, userData any, frame []byte, outcome error, broadcast bool, reqSlave, reqFunc byte) {
	if handler == nil {
		handler = func(byte, modbus.ProtocolDataUnit, error, any) {}
	}
	if outcome != nil {
		c.logger.Debug("transaction failed", "slave", reqSlave, "function", reqFunc, "err", outcome)
		handler(reqSlave, modbus.ProtocolDataUnit{FunctionCode: reqFunc}, outcome, userData)
		return
	}
	if broadcast {
		handler(modbus.BroadcastAddress, modbus.ProtocolDataUnit{FunctionCode: reqFunc}, nil, userData)
		return
	}

	adu, err := rtupacket.Decode(frame)
	if err != nil {
		// A frame completed by silence that fails validation is corrupted,
		// whether the CRC or the length is wrong.
		if !errors.Is(err, modbus.ErrCorruptedFrame) {
			err = fmt.Errorf("%w: %w", modbus.ErrCorruptedFrame, err)
		}
		c.stats.crcErrors.Add(1)
		c.logger.Debug("discard response", "frame", fmt.Sprintf("% X", frame), "err", err)
		handler(reqSlave, modbus.ProtocolDataUnit{FunctionCode: reqFunc}, err, userData)
		return
	}
	req := rtupacket.ApplicationDataUnit{SlaveID: reqSlave, Pdu: modbus.ProtocolDataUnit{FunctionCode: reqFunc}}
	if err := req.Verify(adu); err != nil {
		c.logger.Debug("unexpected response", "frame", fmt.Sprintf("% X", frame), "err", err)
		handler(reqSlave, adu.Pdu, err, userData)
		return
	}
	c.logger.Debug("response", "slave", adu.SlaveID, "function", adu.Pdu.FunctionCode, "frame", fmt.Sprintf("% X", frame))
	handler(adu.SlaveID, adu.Pdu, adu.Pdu.Err(), userData)
}
