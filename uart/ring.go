// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package uart

// ring is the circular transmit buffer of a channel.
type ring struct {
	buf   [TxBufferSize]byte
	read  int
	write int
	count int
}

func (r *ring) reset() {
	r.read, r.write, r.count = 0, 0, 0
}

func (r *ring) len() int { return r.count }

func (r *ring) free() int { return len(r.buf) - r.count }

// push appends b. The caller checks free first.
func (r *ring) push(b []byte) {
	for _, c := range b {
		r.buf[r.write] = c
		r.write = (r.write + 1) % len(r.buf)
	}
	r.count += len(b)
}

func (r *ring) pop() (byte, bool) {
	if r.count == 0 {
		return 0, false
	}
	c := r.buf[r.read]
	r.read = (r.read + 1) % len(r.buf)
	r.count--
	return c, true
}
