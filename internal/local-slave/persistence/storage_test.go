// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		typ  string
		want Storage
	}{
		{"", &MemoryStorage{}},
		{"memory", &MemoryStorage{}},
		{"file", &FileStorage{}},
		{"MMAP", &MmapStorage{}},
		{"sql", &SQLStorage{}},
		{"sqlite", &SQLStorage{}},
	}
	for _, tt := range tests {
		s, err := Open(tt.typ, "x")
		require.NoError(t, err, tt.typ)
		assert.IsType(t, tt.want, s, tt.typ)
	}

	_, err := Open("redis", "x")
	assert.Error(t, err)
}

// roundTrip writes through the model hook, closes the storage and reloads it.
func roundTrip(t *testing.T, open func() Storage) {
	t.Helper()

	s := open()
	m, err := s.Load()
	require.NoError(t, err)
	m.SetWriteHook(s.OnWrite)

	require.NoError(t, m.WriteSingleRegister(10, 0xBEEF))
	require.NoError(t, m.WriteMultipleRegisters(100, 2, []byte{0x00, 0x01, 0x00, 0x02}))
	require.NoError(t, m.WriteSingleCoil(3, 0xFF00))
	require.NoError(t, m.SetInputRegisters(7, 42))
	require.NoError(t, s.Close())

	s = open()
	m, err = s.Load()
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint16(0xBEEF), m.HoldingRegister(10))
	assert.Equal(t, uint16(1), m.HoldingRegister(100))
	assert.Equal(t, uint16(2), m.HoldingRegister(101))
	assert.Equal(t, byte(1), m.Coils[3])
	assert.Equal(t, uint16(42), m.InputRegisters[7])
	assert.Equal(t, uint16(0), m.HoldingRegister(11))
}

func TestFileStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.bin")
	roundTrip(t, func() Storage { return NewFileStorage(path) })
}

func TestMmapStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.mmap")
	roundTrip(t, func() Storage { return NewMmapStorage(path) })
}

func TestSQLStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.db")
	roundTrip(t, func() Storage { return NewSQLStorage("sqlite3", path) })
}

func TestSQLStorage_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.db")

	s := NewSQLStorage("sqlite3", path)
	m, err := s.Load()
	require.NoError(t, err)
	m.HoldingRegisters[500] = 7
	m.DiscreteInputs[9] = 1
	require.NoError(t, s.Save(m))
	require.NoError(t, s.Close())

	s = NewSQLStorage("sqlite3", path)
	m, err = s.Load()
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint16(7), m.HoldingRegister(500))
	assert.Equal(t, byte(1), m.DiscreteInputs[9])
}

func TestMemoryStorage_Fresh(t *testing.T) {
	s := NewMemoryStorage()
	m, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, m.WriteSingleRegister(1, 1))
	require.NoError(t, s.Save(m))

	m, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(0), m.HoldingRegister(1))
	assert.Len(t, m.HoldingRegisters, model.MaxAddress+1)
}
