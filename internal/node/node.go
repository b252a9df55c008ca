// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package node assembles a serial node from configuration: the UART pool,
// timer service and job queue shared by all channels, the RTU channels with
// their local slaves, the Modbus TCP bridges and the pollers.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grid-x/serial"

	"github.com/ffutop/rtu-node/internal/config"
	"github.com/ffutop/rtu-node/internal/jobq"
	"github.com/ffutop/rtu-node/internal/timer"
	"github.com/ffutop/rtu-node/modbus"
	"github.com/ffutop/rtu-node/transport"
	"github.com/ffutop/rtu-node/transport/local"
	"github.com/ffutop/rtu-node/transport/rtu"
	"github.com/ffutop/rtu-node/transport/rtuovertcp"
	"github.com/ffutop/rtu-node/transport/tcp"
	"github.com/ffutop/rtu-node/uart"
)

// DriverFactory opens the UART driver of a channel.
type DriverFactory func(cfg config.ChannelConfig) (uart.Driver, error)

// SerialDriver is the DriverFactory for real serial ports.
func SerialDriver(cfg config.ChannelConfig) (uart.Driver, error) {
	if cfg.Serial.Device == "" {
		return nil, fmt.Errorf("channel %q: no serial device", cfg.Name)
	}
	sc := serial.Config{
		Address:  cfg.Serial.Device,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
		Timeout:  cfg.Serial.Timeout,
	}
	if cfg.Serial.RS485 {
		sc.RS485.Enabled = true
		sc.RS485.DelayRtsBeforeSend = cfg.Serial.DelayRtsBeforeSend
		sc.RS485.DelayRtsAfterSend = cfg.Serial.DelayRtsAfterSend
		sc.RS485.RtsHighDuringSend = cfg.Serial.RtsHighDuringSend
		sc.RS485.RtsHighAfterSend = cfg.Serial.RtsHighAfterSend
		sc.RS485.RxDuringTx = cfg.Serial.RxDuringTx
	}
	return uart.NewSerialDriver(sc), nil
}

// Options overrides the node's runtime services, mainly for tests.
type Options struct {
	Timers    timer.Service // default timer.NewReal()
	Drivers   DriverFactory // default SerialDriver
	Publisher Publisher     // default MQTT when configured, else the log
	QueueSize int           // default jobq.DefaultCapacity
}

type slaveChannel struct {
	server *rtu.Server
	local  *local.Client
}

// Node is a running set of channels.
type Node struct {
	name   string
	pool   *uart.Pool
	timers timer.Service
	jobs   *jobq.Queue

	channels  []*rtu.Channel
	masters   map[string]*rtu.Client
	slaves    map[string]*slaveChannel
	bridges   []bridge
	routers   []*Router
	pollers   []*Poller
	publisher Publisher

	closeOnce sync.Once
	closeErr  error
}

// New builds the node. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (_ *Node, err error) {
	if opts.Timers == nil {
		opts.Timers = timer.NewReal()
	}
	if opts.Drivers == nil {
		opts.Drivers = SerialDriver
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = jobq.DefaultCapacity
	}

	n := &Node{
		name:    cfg.Node.Name,
		pool:    uart.NewPool(),
		timers:  opts.Timers,
		jobs:    jobq.New(opts.QueueSize),
		masters: make(map[string]*rtu.Client),
		slaves:  make(map[string]*slaveChannel),
	}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	routes := make(map[byte]transport.Downstream)
	for _, chCfg := range cfg.Channels {
		drv, err := opts.Drivers(chCfg)
		if err != nil {
			return nil, err
		}
		role := rtu.RoleMaster
		if chCfg.Role == "slave" {
			role = rtu.RoleSlave
		}
		ch, err := rtu.NewChannel(n.pool, n.timers, n.jobs, rtu.Options{
			Name:    chCfg.Name,
			Role:    role,
			Address: chCfg.Address,
			Format: uart.Format{
				BaudRate: chCfg.Serial.BaudRate,
				DataBits: chCfg.Serial.DataBits,
				StopBits: chCfg.Serial.StopBits,
				Parity:   chCfg.Serial.Parity,
			},
			Driver:              drv,
			ResponseTimeout:     chCfg.ResponseTimeout,
			BroadcastTurnaround: chCfg.BroadcastTurnaround,
			Turnaround:          chCfg.Turnaround,
		})
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", chCfg.Name, err)
		}
		n.channels = append(n.channels, ch)

		if role == rtu.RoleSlave {
			sc := &slaveChannel{server: rtu.NewServer(ch), local: local.NewClient(chCfg.Slave)}
			n.slaves[chCfg.Name] = sc
			addRoute(routes, chCfg.Address, sc.local, chCfg.Name)
			continue
		}

		client := rtu.NewClient(ch)
		n.masters[chCfg.Name] = client
		ids, err := ParseSlaveIDs(chCfg.Routes)
		if err != nil {
			return nil, fmt.Errorf("channel %q routes: %w", chCfg.Name, err)
		}
		for _, id := range ids {
			addRoute(routes, id, client, chCfg.Name)
		}
	}

	n.publisher = opts.Publisher
	if n.publisher == nil {
		n.publisher = LogPublisher{}
		if cfg.Mqtt.Broker != "" {
			pub, err := NewMQTTPublisher(cfg.Mqtt)
			if err != nil {
				return nil, err
			}
			n.publisher = pub
		}
	}

	for _, chCfg := range cfg.Channels {
		client, ok := n.masters[chCfg.Name]
		if !ok || chCfg.Poll.SlaveIDs == "" {
			continue
		}
		p, err := NewPoller(n.name, chCfg.Name, client, chCfg.Poll, 4*chCfg.ResponseTimeout, n.publisher)
		if err != nil {
			return nil, err
		}
		n.pollers = append(n.pollers, p)
	}

	for _, t := range cfg.Tcp {
		r := &Router{Name: n.name, Routes: routes}
		if t.Channel != "" {
			client, ok := n.masters[t.Channel]
			if !ok {
				return nil, fmt.Errorf("tcp %s: channel %q is not a master", t.Address, t.Channel)
			}
			r.DefaultRoute = client
		}
		n.routers = append(n.routers, r)
		n.bridges = append(n.bridges, newBridge(t))
	}
	return n, nil
}

// bridge is a TCP listener feeding a Router.
type bridge struct {
	transport.Upstream
	addr    string
	framing string
}

func newBridge(t config.TcpConfig) bridge {
	b := bridge{addr: t.Address, framing: t.Framing}
	if t.Framing == config.FramingRTU {
		b.Upstream = rtuovertcp.NewServer(t.Address)
	} else {
		b.Upstream = tcp.NewServer(t.Address)
	}
	return b
}

// addRoute keeps the first channel claiming a slave ID.
func addRoute(routes map[byte]transport.Downstream, id byte, ds transport.Downstream, channel string) {
	if _, ok := routes[id]; ok {
		slog.Warn("Slave ID already routed, ignoring", "slaveID", id, "channel", channel)
		return
	}
	routes[id] = ds
}

// Client returns the blocking master client of a channel.
func (n *Node) Client(name string) (*rtu.Client, bool) {
	c, ok := n.masters[name]
	return c, ok
}

// Slave returns the local slave of a slave channel.
func (n *Node) Slave(name string) (*local.Client, bool) {
	s, ok := n.slaves[name]
	if !ok {
		return nil, false
	}
	return s.local, true
}

// Channels returns every channel in configuration order.
func (n *Node) Channels() []*rtu.Channel {
	return n.channels
}

// Run drives the mainline loop and every server until ctx is done, then
// closes the node.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.jobs.Run(ctx)
	}()

	for name, sc := range n.slaves {
		wg.Add(1)
		go func(name string, sc *slaveChannel) {
			defer wg.Done()
			slave := sc.local.Slave()
			if err := sc.server.Start(ctx, func(_ context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
				return slave.Handle(slaveID, pdu)
			}); err != nil {
				slog.Error("Slave stopped with error", "channel", name, "err", err)
			}
		}(name, sc)
	}

	for name, client := range n.masters {
		if err := client.Connect(ctx); err != nil {
			slog.Error("Failed to connect channel", "channel", name, "err", err)
		}
	}

	for i, b := range n.bridges {
		wg.Add(1)
		go func(b bridge, r *Router) {
			defer wg.Done()
			if err := b.Start(ctx, r.Handle); err != nil {
				slog.Error("TCP bridge stopped with error", "addr", b.addr, "framing", b.framing, "err", err)
				cancel()
			}
		}(b, n.routers[i])
	}

	for _, p := range n.pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}

	slog.Info("Node running", "node", n.name, "channels", len(n.channels), "bridges", len(n.bridges), "pollers", len(n.pollers))
	<-ctx.Done()
	wg.Wait()

	for _, ch := range n.channels {
		st := ch.Stats()
		slog.Info("Channel stats", "channel", ch.Name(), "requests", st.Requests, "frames", st.Frames,
			"crcErrors", st.CRCErrors, "framingErrors", st.FramingErrors, "noResponses", st.NoResponses, "dropped", st.Dropped)
	}
	return n.Close()
}

// Close releases every channel and storage.
func (n *Node) Close() error {
	n.closeOnce.Do(func() { n.closeErr = n.close() })
	return n.closeErr
}

func (n *Node) close() error {
	var errs []error
	for _, b := range n.bridges {
		errs = append(errs, b.Close())
	}
	for _, ch := range n.channels {
		errs = append(errs, ch.Close())
	}
	for _, sc := range n.slaves {
		errs = append(errs, sc.local.Close())
	}
	if n.publisher != nil {
		errs = append(errs, n.publisher.Close())
	}
	return errors.Join(errs...)
}
