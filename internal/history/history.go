// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具
//
// Package history keeps finished conversion and export runs in SQLite.

package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/logger"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultLimit = 50

// timeLayout is fixed width so stored times sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one finished job
type Run struct {
	JobID     string        `json:"job_id"`
	Reference string        `json:"reference"`
	Kind      string        `json:"kind"`
	State     string        `json:"state"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	Frames    int           `json:"frames"`
	Bytes     int64         `json:"bytes"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// DB is the run history database
type DB struct {
	conn   *sql.DB
	logger logger.Logger
}

// Open opens or creates the database at path and applies migrations
func Open(path string, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.Nop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, logger: log}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()
		if d.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		d.logger.Debug("applied migration %s", name)
	}

	return nil
}

func (d *DB) isMigrationApplied(name string) bool {
	var applied int
	err := d.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// Save stores a finished run, replacing an earlier record of the same job
func (d *DB) Save(ctx context.Context, r Run) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (job_id, reference, kind, state, input, output, frames, bytes, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.JobID, r.Reference, r.Kind, r.State, r.Input, r.Output, r.Frames, r.Bytes,
		nullString(r.Error), r.StartedAt.UTC().Format(timeLayout), r.Duration.Milliseconds())
	return err
}

// Recent returns up to limit runs, newest first
func (d *DB) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := d.conn.QueryContext(ctx, `
		SELECT job_id, reference, kind, state, input, output, frames, bytes, error, started_at, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var errMsg sql.NullString
		var startedAt string
		var durationMs int64

		if err := rows.Scan(&r.JobID, &r.Reference, &r.Kind, &r.State, &r.Input, &r.Output, &r.Frames, &r.Bytes, &errMsg, &startedAt, &durationMs); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
