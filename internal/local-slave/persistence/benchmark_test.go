// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

func benchStorages(b *testing.B) map[string]func() Storage {
	dir := b.TempDir()
	return map[string]func() Storage{
		TypeMemory: func() Storage { return NewMemoryStorage() },
		TypeFile:   func() Storage { return NewFileStorage(filepath.Join(dir, "slave.bin")) },
		TypeMmap:   func() Storage { return NewMmapStorage(filepath.Join(dir, "slave.mmap")) },
		TypeSQLite: func() Storage { return NewSQLStorage("sqlite3", filepath.Join(dir, "slave.db")) },
	}
}

// BenchmarkWriteRegister measures a Write Single Register as the local slave
// performs it, model update plus persistence hook.
func BenchmarkWriteRegister(b *testing.B) {
	for name, open := range benchStorages(b) {
		b.Run(name, func(b *testing.B) {
			st := open()
			m, err := st.Load()
			if err != nil {
				b.Fatalf("load: %v", err)
			}
			defer st.Close()
			m.SetWriteHook(st.OnWrite)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := m.WriteSingleRegister(10, uint16(i)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkWriteBlock writes the largest Write Multiple Registers payload.
func BenchmarkWriteBlock(b *testing.B) {
	data := make([]byte, 2*123)
	for name, open := range benchStorages(b) {
		b.Run(name, func(b *testing.B) {
			st := open()
			m, err := st.Load()
			if err != nil {
				b.Fatalf("load: %v", err)
			}
			defer st.Close()
			m.SetWriteHook(st.OnWrite)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				data[0] = byte(i)
				if err := m.WriteMultipleRegisters(100, 123, data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkLoad includes opening the image, so it is dominated by syscalls
// for file and mmap storage.
func BenchmarkLoad(b *testing.B) {
	for name, open := range benchStorages(b) {
		if name == TypeSQLite {
			// A fresh database has no rows, which says little.
			continue
		}
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				st := open()
				if _, err := st.Load(); err != nil {
					b.Fatalf("load: %v", err)
				}
				st.Close()
			}
		})
	}
}

// BenchmarkDataModel_Write is the in-memory baseline.
func BenchmarkDataModel_Write(b *testing.B) {
	m := model.NewDataModel()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.HoldingRegisters[10] = uint16(i)
	}
}
