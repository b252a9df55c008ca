// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the station register model across restarts.
package persistence

import (
	"fmt"
	"strings"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

// Storage types accepted by Open.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeMmap   = "mmap"
	TypeSQLite = "sqlite"
)

// Storage defines the interface for persisting the local slave data model.
type Storage interface {
	// Load returns the stored model, or a zeroed one when nothing is stored yet.
	Load() (*model.DataModel, error)

	// Save writes the whole model.
	Save(m *model.DataModel) error

	// OnWrite is called after a range of the model has been modified.
	OnWrite(table model.TableType, address, quantity uint16)

	// Close releases the storage. The model returned by Load must not be used
	// afterwards for file and mmap storage.
	Close() error
}

// Open creates the storage named by typ. path is the file or database path
// and is ignored for memory storage.
func Open(typ, path string) (Storage, error) {
	switch strings.ToLower(typ) {
	case "", TypeMemory:
		return NewMemoryStorage(), nil
	case TypeFile:
		return NewFileStorage(path), nil
	case TypeMmap:
		return NewMmapStorage(path), nil
	case TypeSQLite, "sqlite3", "sql":
		return NewSQLStorage("sqlite3", path), nil
	}
	return nil, fmt.Errorf("persistence: unknown storage type %q", typ)
}
