// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"testing"
)

func TestRequestLength(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    int
		wantErr bool
	}{
		{"ReadHoldingRegisters", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"ReportServerID", []byte{0x01, 0x11}, 4, false},
		{"WriteMultipleRegisters_ShortHeader", []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", []byte{0x01, 0x99}, 0, true},
		{"TooShort", []byte{0x01}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequestLength(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("RequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("RequestLength() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := RequestLength([]byte{0x01, 0x99}); !errors.Is(err, ErrUnknownLength) {
		t.Errorf("unknown function should wrap ErrUnknownLength, got %v", err)
	}
}
