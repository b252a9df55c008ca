// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package timer

import (
	"sync"
	"time"
)

// Real is a Service backed by the runtime timer heap.
type Real struct {
	mu     sync.Mutex
	next   Handle
	timers map[Handle]*time.Timer
}

// NewReal creates a Real timer service.
func NewReal() *Real {
	return &Real{timers: make(map[Handle]*time.Timer)}
}

func (r *Real) Start(d time.Duration, mode Mode, cb Callback, data any) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	var fire func()
	fire = func() {
		r.mu.Lock()
		t, ok := r.timers[h]
		if ok {
			if mode == Periodic && d > 0 {
				t.Reset(d)
			} else {
				delete(r.timers, h)
			}
		}
		r.mu.Unlock()
		if ok {
			cb(data)
		}
	}
	r.timers[h] = time.AfterFunc(d, fire)
	return h
}

func (r *Real) Cancel(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[h]; ok {
		t.Stop()
		delete(r.timers, h)
	}
}

// Active returns the number of armed timers.
func (r *Real) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
