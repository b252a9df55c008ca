// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTimingCommand(t *testing.T) {
	out, err := execute(t, "timing", "--baud", "19200")
	require.NoError(t, err)
	assert.Contains(t, out, "19200 8N1 (10 bits/char)")
	assert.Contains(t, out, "char:      520µs")
	assert.Contains(t, out, "1.5 char:  780µs")
	assert.Contains(t, out, "3.5 char:  1.82ms")

	out, err = execute(t, "timing", "--baud", "115200", "--parity", "e")
	require.NoError(t, err)
	assert.Contains(t, out, "115200 8E1 (11 bits/char)")
	assert.Contains(t, out, "1.5 char:  750µs")
	assert.Contains(t, out, "3.5 char:  1.75ms")
}

func TestReadRequiresPort(t *testing.T) {
	_, err := execute(t, "read", "0", "1")
	assert.Error(t, err)
}

func TestParseUint16(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
		ok   bool
	}{
		{"10", 10, true},
		{"0x10", 16, true},
		{"65535", 65535, true},
		{"65536", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, err := parseUint16(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
