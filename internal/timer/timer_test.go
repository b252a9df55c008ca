// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string
	rec := func(data any) { order = append(order, data.(string)) }

	m.Start(3*time.Millisecond, SingleShot, rec, "c")
	m.Start(1*time.Millisecond, SingleShot, rec, "a")
	m.Start(2*time.Millisecond, SingleShot, rec, "b")

	m.Advance(1500 * time.Microsecond)
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, 1500*time.Microsecond, m.Now())

	m.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, m.Pending())
}

func TestManualNeverFiresEarly(t *testing.T) {
	m := NewManual()
	fired := false
	m.Start(1820*time.Microsecond, SingleShot, func(any) { fired = true }, nil)

	m.Advance(1819 * time.Microsecond)
	assert.False(t, fired)
	m.Advance(time.Microsecond)
	assert.True(t, fired)
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	fired := false
	h := m.Start(time.Millisecond, SingleShot, func(any) { fired = true }, nil)
	m.Cancel(h)
	m.Advance(time.Second)
	assert.False(t, fired)
}

func TestManualPeriodic(t *testing.T) {
	m := NewManual()
	count := 0
	h := m.Start(10*time.Millisecond, Periodic, func(any) { count++ }, nil)
	m.Advance(35 * time.Millisecond)
	assert.Equal(t, 3, count)
	m.Cancel(h)
	m.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestManualCallbackRearms(t *testing.T) {
	m := NewManual()
	var fires []time.Duration
	var rearm Callback
	rearm = func(any) {
		fires = append(fires, m.Now())
		if len(fires) < 3 {
			m.Start(time.Millisecond, SingleShot, rearm, nil)
		}
	}
	m.Start(time.Millisecond, SingleShot, rearm, nil)
	m.Advance(10 * time.Millisecond)
	require.Len(t, fires, 3)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, fires)
}

func TestRealSingleShot(t *testing.T) {
	r := NewReal()
	done := make(chan any, 1)
	r.Start(5*time.Millisecond, SingleShot, func(data any) { done <- data }, 42)

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, r.Active())
}

func TestRealCancel(t *testing.T) {
	r := NewReal()
	var fired atomic.Bool
	h := r.Start(20*time.Millisecond, SingleShot, func(any) { fired.Store(true) }, nil)
	r.Cancel(h)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestRealPeriodic(t *testing.T) {
	r := NewReal()
	var count atomic.Int32
	h := r.Start(2*time.Millisecond, Periodic, func(any) { count.Add(1) }, nil)
	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
	r.Cancel(h)
	assert.Zero(t, r.Active())
}
