// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package timer provides the single-shot/periodic callback timers the RTU state
// machine uses for silence detection, response timeouts and turnaround delays.
//
// Callbacks run in interrupt context: they must only rearm timers, flip flags or
// enqueue jobs.
package timer

import "time"

// Mode selects single-shot or periodic expiry.
type Mode int

const (
	SingleShot Mode = iota
	Periodic
)

// Handle identifies a started timer. The zero Handle is never returned by Start.
type Handle uint64

// Callback is invoked on expiry with the data given to Start.
type Callback func(data any)

// Service starts and cancels timers. A callback fires no earlier than its duration.
type Service interface {
	Start(d time.Duration, mode Mode, cb Callback, data any) Handle
	// Cancel stops the timer. A callback already running is not waited for.
	Cancel(h Handle)
}
