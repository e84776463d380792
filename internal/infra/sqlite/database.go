/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverMattn is the cgo driver registered by github.com/mattn/go-sqlite3.
	DriverMattn = "sqlite3"
	// DriverModernc is the pure Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"
)

// Options tunes the connection opened by InitDB.
type Options struct {
	Driver       string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultOptions uses the cgo driver with the pool sizing the server expects.
func DefaultOptions() Options {
	return Options{
		Driver:       DriverMattn,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// InitDB opens the SQLite database at dbPath, applies connection pragmas and
// migrates the schema to the latest version.
func InitDB(ctx context.Context, dbPath string, opts Options) (*sql.DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverMattn
	}
	if opts.MaxOpenConns < 1 {
		opts.MaxOpenConns = 1
	}

	db, err := sql.Open(opts.Driver, dsn(opts.Driver, dbPath, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := RetryWithBackoff(func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Every pooled connection to :memory: would see its own empty database.
	if isMemory(dbPath) {
		opts.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(min(5, opts.MaxOpenConns))

	// journal_mode is persistent per DB file and returns a row.
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := RetryWithBackoff(func() error {
			_, err := db.ExecContext(ctx, pragma)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if _, err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// dsn carries busy_timeout in the connection string so that every pooled
// connection gets it, not only the one a PRAGMA happened to run on.
func dsn(driver, dbPath string, busyTimeout time.Duration) string {
	ms := busyTimeout.Milliseconds()
	if ms <= 0 {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dbPath, sep, ms)
	default:
		return fmt.Sprintf("%s%s_busy_timeout=%d", dbPath, sep, ms)
	}
}

func isMemory(dbPath string) bool {
	return strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
