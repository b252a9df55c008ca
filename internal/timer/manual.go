// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package timer

import (
	"sync"
	"time"
)

// Manual is a Service driven by a virtual clock. Nothing fires until Advance is
// called, which makes silence-timing tests deterministic.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	next   Handle
	timers []*manualTimer
}

type manualTimer struct {
	handle   Handle
	deadline time.Duration
	period   time.Duration
	cb       Callback
	data     any
}

// NewManual creates a Manual timer service at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Start(d time.Duration, mode Mode, cb Callback, data any) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.next++
	t := &manualTimer{handle: m.next, deadline: m.now + d, cb: cb, data: data}
	if mode == Periodic && d > 0 {
		t.period = d
	}
	m.timers = append(m.timers, t)
	return t.handle
}

func (m *Manual) Cancel(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.timers {
		if t.handle == h {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers started by a callback fire within the same Advance if they fall due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due *manualTimer
		idx := -1
		for i, t := range m.timers {
			if t.deadline > target {
				continue
			}
			if due == nil || t.deadline < due.deadline || (t.deadline == due.deadline && t.handle < due.handle) {
				due, idx = t, i
			}
		}
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = due.deadline
		if due.period > 0 {
			due.deadline += due.period
		} else {
			m.timers = append(m.timers[:idx], m.timers[idx+1:]...)
		}
		cb, data := due.cb, due.data
		m.mu.Unlock()

		cb(data)
	}
}
