// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"math/rand"
	"testing"
)

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x1241 {
		t.Fatalf("crc expected %v, actual %v", 0x1241, crc.Value())
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"Empty", []byte{}, 0xFFFF},
		{"ReadHoldingRequest", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 0x0A84},
		{"ReadHoldingResponse", []byte{0x01, 0x03, 0x02, 0x12, 0x34}, 0x33B5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(% X) = %#04x, want %#04x", tt.data, got, tt.want)
			}
		})
	}
}

func TestStreamingMatchesChecksum(t *testing.T) {
	data := []byte{0x11, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}
	var crc CRC
	crc.Reset().PushBytes(data[:3]).PushBytes(data[3:])
	if crc.Value() != Checksum(data) {
		t.Fatalf("streaming %#04x != one-shot %#04x", crc.Value(), Checksum(data))
	}
}

func TestAppendLittleEndian(t *testing.T) {
	frame := Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if string(frame) != string(want) {
		t.Fatalf("Append = % X, want % X", frame, want)
	}
}

func TestCheck(t *testing.T) {
	if Check(nil) || Check([]byte{0xFF}) {
		t.Fatal("frames shorter than two bytes must not validate")
	}
	// The CRC of an empty body is 0xFFFF.
	if !Check([]byte{0xFF, 0xFF}) {
		t.Fatal("two-byte frame carrying the empty-body CRC must validate")
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		body := make([]byte, rng.Intn(254))
		rng.Read(body)
		frame := Append(append([]byte(nil), body...))
		if !Check(frame) {
			t.Fatalf("Check rejected a frame with appended CRC: % X", frame)
		}

		// Any single-byte corruption is detected.
		pos := rng.Intn(len(frame))
		frame[pos] ^= byte(1 + rng.Intn(255))
		if Check(frame) {
			t.Fatalf("Check accepted a corrupted frame: % X", frame)
		}

		// Check agrees with the definition for arbitrary input.
		raw := make([]byte, 2+rng.Intn(20))
		rng.Read(raw)
		sum := Checksum(raw[:len(raw)-2])
		want := raw[len(raw)-2] == byte(sum) && raw[len(raw)-1] == byte(sum>>8)
		if Check(raw) != want {
			t.Fatalf("Check(% X) = %v, want %v", raw, !want, want)
		}
	}
}
