// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package jobq is the bounded FIFO that moves work out of interrupt context.
// Producers (driver goroutines, timer callbacks) only enqueue; a single
// mainline goroutine runs the jobs.
package jobq

import (
	"context"
	"errors"
	"sync"
)

// ErrFull is returned by Enqueue when the ring has no free slot.
var ErrFull = errors.New("jobq: queue full")

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 64

// Job is a unit of mainline work.
type Job func(data any)

type entry struct {
	fn   Job
	data any
}

// Queue is a fixed-capacity ring of jobs. Enqueue never allocates.
type Queue struct {
	mu     sync.Mutex
	ring   []entry
	head   int
	count  int
	notify chan struct{}
}

// New creates a queue holding at most capacity jobs.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ring:   make([]entry, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. It is safe from any goroutine.
func (q *Queue) Enqueue(fn Job, data any) error {
	q.mu.Lock()
	if q.count == len(q.ring) {
		q.mu.Unlock()
		return ErrFull
	}
	q.ring[(q.head+q.count)%len(q.ring)] = entry{fn: fn, data: data}
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) pop() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return entry{}, false
	}
	e := q.ring[q.head]
	q.ring[q.head] = entry{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return e, true
}

// RunPending runs queued jobs in FIFO order until the queue is empty, including
// jobs enqueued by the jobs themselves. It returns the number run.
func (q *Queue) RunPending() int {
	n := 0
	for {
		e, ok := q.pop()
		if !ok {
			return n
		}
		e.fn(e.data)
		n++
	}
}

// Run is the mainline loop. It returns when ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.ring)
}
