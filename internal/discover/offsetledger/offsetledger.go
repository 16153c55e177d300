// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package offsetledger persists, per archive base name, the last-processed
// meta-file byte offset and log-volume (number, offset) pair to a small
// sqlite database (spec §4.10). On discovery driver startup each archive
// resumes from its persisted offset instead of re-reading from byte zero;
// an archive with no ledger row starts fresh, at NEW.
//
// The connection and migration setup mirror the teacher's
// internal/repository package: a single sqlite connection registered with
// sqlhooks query logging, schema managed by golang-migrate against an
// embedded migration source. Reads and writes are built with squirrel
// rather than hand-written SQL strings, again following the teacher.
package offsetledger

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/qustavo/sqlhooks/v2"
	sqlite3drv "github.com/mattn/go-sqlite3"

	"github.com/performancecopilot/pmseries-core/pkg/log"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

var registerOnce sync.Once

// Offset is one archive's persisted progress.
type Offset struct {
	ArchiveName     string
	MetaOffset      int64
	LogVolumeNumber int64
	LogVolumeOffset int64
}

// Ledger wraps a sqlite-backed offset store.
type Ledger struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite database at path and migrates
// it to the current schema version. sqlite does not multithread well under
// concurrent writers, so the connection pool is capped at one connection,
// exactly as the teacher's dbConnection.go does for its sqlite backend.
func Open(path string) (*Ledger, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3drv.SQLiteDriver{}, &queryLogHooks{}))
	})

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("offsetledger: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB, path); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("offsetledger: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("offsetledger: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("offsetledger: migration setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("offsetledger: migrating %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the persisted offset for archive, and false if no row exists
// yet (a fresh archive, which the discovery driver treats as NEW).
func (l *Ledger) Get(archive string) (Offset, bool, error) {
	query, args, err := sq.Select("archive_name", "meta_offset", "log_volume_number", "log_volume_offset").
		From("archive_offset").
		Where(sq.Eq{"archive_name": archive}).
		ToSql()
	if err != nil {
		return Offset{}, false, fmt.Errorf("offsetledger: building select: %w", err)
	}

	var off Offset
	row := l.db.QueryRowx(query, args...)
	if err := row.Scan(&off.ArchiveName, &off.MetaOffset, &off.LogVolumeNumber, &off.LogVolumeOffset); err != nil {
		if err == sql.ErrNoRows {
			return Offset{}, false, nil
		}
		return Offset{}, false, fmt.Errorf("offsetledger: scanning %s: %w", archive, err)
	}
	return off, true, nil
}

// Put upserts off, recording the given updatedAtUnix as the write
// timestamp (passed in rather than taken from time.Now, so callers in a
// single-threaded event loop stay in full control of time sourcing).
func (l *Ledger) Put(off Offset, updatedAtUnix int64) error {
	query, args, err := sq.Insert("archive_offset").
		Columns("archive_name", "meta_offset", "log_volume_number", "log_volume_offset", "updated_at").
		Values(off.ArchiveName, off.MetaOffset, off.LogVolumeNumber, off.LogVolumeOffset, updatedAtUnix).
		Suffix("ON CONFLICT(archive_name) DO UPDATE SET meta_offset=excluded.meta_offset, log_volume_number=excluded.log_volume_number, log_volume_offset=excluded.log_volume_offset, updated_at=excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("offsetledger: building upsert: %w", err)
	}
	if _, err := l.db.Exec(query, args...); err != nil {
		return fmt.Errorf("offsetledger: upserting %s: %w", off.ArchiveName, err)
	}
	return nil
}

// Delete removes archive's row, for a purged archive that will never be
// resumed.
func (l *Ledger) Delete(archive string) error {
	query, args, err := sq.Delete("archive_offset").
		Where(sq.Eq{"archive_name": archive}).
		ToSql()
	if err != nil {
		return fmt.Errorf("offsetledger: building delete: %w", err)
	}
	if _, err := l.db.Exec(query, args...); err != nil {
		return fmt.Errorf("offsetledger: deleting %s: %w", archive, err)
	}
	return nil
}
