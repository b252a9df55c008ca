// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ffutop/rtu-node/internal/local-slave/model"
)

const upsertRegister = "INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?) " +
	"ON CONFLICT(table_type, address) DO UPDATE SET value=excluded.value"

// SQLStorage keeps one row per register in the modbus_registers table.
// Missing rows read as zero. The driver must be registered by the binary,
// e.g. with a blank import of github.com/mattn/go-sqlite3.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	model  *model.DataModel
}

// NewSQLStorage creates a new SQLStorage.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{driver: driver, dsn: dsn}
}

// Load connects to the database and reads every stored register.
func (s *SQLStorage) Load() (*model.DataModel, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	m := model.NewDataModel()
	rows, err := db.Query("SELECT table_type, address, value FROM modbus_registers")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query registers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t, addr, val int
		if err := rows.Scan(&t, &addr, &val); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to scan register: %w", err)
		}
		if addr < 0 || addr > model.MaxAddress {
			continue
		}
		switch model.TableType(t) {
		case model.TableCoils:
			m.Coils[addr] = byte(val)
		case model.TableDiscreteInputs:
			m.DiscreteInputs[addr] = byte(val)
		case model.TableHoldingRegisters:
			m.HoldingRegisters[addr] = uint16(val)
		case model.TableInputRegisters:
			m.InputRegisters[addr] = uint16(val)
		}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	s.model = m
	return m, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS modbus_registers (
		table_type INTEGER,
		address INTEGER,
		value INTEGER,
		PRIMARY KEY (table_type, address)
	);`)
	return err
}

// Save replaces the stored image with the non-zero registers of m in one
// transaction.
func (s *SQLStorage) Save(m *model.DataModel) error {
	if s.db == nil {
		return fmt.Errorf("sql: not loaded")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM modbus_registers"); err != nil {
		return err
	}
	stmt, err := tx.Prepare(upsertRegister)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, table := range []model.TableType{model.TableCoils, model.TableDiscreteInputs, model.TableHoldingRegisters, model.TableInputRegisters} {
		values, err := readTable(m, table, 0, model.MaxAddress+1)
		if err != nil {
			return err
		}
		for addr, v := range values {
			if v == 0 {
				continue
			}
			if _, err := stmt.Exec(int(table), addr, v); err != nil {
				return fmt.Errorf("failed to save %s %d: %w", table, addr, err)
			}
		}
	}
	return tx.Commit()
}

// OnWrite upserts the changed range in one transaction.
func (s *SQLStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if s.db == nil || s.model == nil {
		return
	}
	if err := s.upsert(table, address, int(quantity)); err != nil {
		slog.Error("Failed to persist registers", "table", table, "address", address, "quantity", quantity, "err", err)
	}
}

func (s *SQLStorage) upsert(table model.TableType, address uint16, quantity int) error {
	values, err := readTable(s.model, table, address, quantity)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertRegister)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range values {
		if _, err := stmt.Exec(int(table), int(address)+i, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// readTable copies a table range out of the model under its lock.
func readTable(m *model.DataModel, table model.TableType, address uint16, quantity int) ([]int, error) {
	values := make([]int, 0, quantity)
	words := table == model.TableHoldingRegisters || table == model.TableInputRegisters
	// A quantity of 65536 does not fit the uint16 model API.
	const chunk = 1 << 15
	for done := 0; done < quantity; {
		n := min(quantity-done, chunk)
		at := address + uint16(done)
		var raw []byte
		var err error
		switch table {
		case model.TableCoils:
			raw, err = m.ReadCoils(at, uint16(n))
		case model.TableDiscreteInputs:
			raw, err = m.ReadDiscreteInputs(at, uint16(n))
		case model.TableHoldingRegisters:
			raw, err = m.ReadHoldingRegisters(at, uint16(n))
		case model.TableInputRegisters:
			raw, err = m.ReadInputRegisters(at, uint16(n))
		default:
			return nil, fmt.Errorf("sql: unknown table %v", table)
		}
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if words {
				values = append(values, int(binary.BigEndian.Uint16(raw[i*2:])))
			} else {
				values = append(values, int(raw[i/8]>>uint(i%8)&1))
			}
		}
		done += n
	}
	return values, nil
}
