// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "time"

// Timing holds the silence intervals that delimit RTU frames at a given line format.
type Timing struct {
	// Char is the time to transmit one character.
	Char time.Duration
	// InterChar is the 1.5 character silence that closes a frame; a byte after it is a framing error.
	InterChar time.Duration
	// Frame is the 3.5 character silence that completes a frame.
	Frame time.Duration
}

// NewTiming derives the frame timing from the baud rate and the number of bits per
// character (start + data + parity + stop). Above 19200 baud the fixed 750µs/1750µs
// intervals apply.
func NewTiming(baudRate, bitsPerChar int) Timing {
	if baudRate <= 0 {
		baudRate = 9600
	}
	if bitsPerChar <= 0 {
		bitsPerChar = 10
	}
	charMicros := bitsPerChar * 1000000 / baudRate

	t := Timing{Char: time.Duration(charMicros) * time.Microsecond}
	if baudRate > highSpeedBaud {
		t.InterChar = highSpeedInterChar
		t.Frame = highSpeedFrame
	} else {
		t.InterChar = time.Duration(charMicros*3/2) * time.Microsecond
		t.Frame = time.Duration(charMicros*7/2) * time.Microsecond
	}
	return t
}

// Transmission returns the wire time of n characters.
func (t Timing) Transmission(n int) time.Duration {
	return time.Duration(n) * t.Char
}
