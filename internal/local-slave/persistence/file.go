// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

// FileStorage keeps the model image in a regular file. The model is held in
// memory and every write is copied back to the file and synced.
type FileStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load reads the image, creating a zeroed file when none exists.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}

	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fs.mu.Lock()
	fs.file = f
	fs.data = data
	fs.mu.Unlock()
	return mapBytesToModel(data), nil
}

// Save writes the whole image and syncs it.
func (fs *FileStorage) Save(*model.DataModel) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeLocked(0, len(fs.data))
}

// OnWrite writes the changed range and syncs it.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	off, n := span(table, address, quantity)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.writeLocked(off, n); err != nil {
		slog.Error("Failed to persist registers", "table", table, "address", address, "quantity", quantity, "err", err)
	}
}

func (fs *FileStorage) writeLocked(off, n int) error {
	if fs.file == nil || n == 0 {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data[off:off+n], int64(off)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close closes the file.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// openImage opens path read-write and sizes it to the image layout.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize %s: %w", path, err)
		}
	}
	return f, nil
}
