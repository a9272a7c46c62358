// Package sqlite implements the Record Store on an embedded SQLite database.
// It is the default backend for local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

var _ store.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the database at path and runs migrations. ":memory:" yields a
// private in-memory database.
func New(path string, logger *slog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// SQLite has a single writer, and every connection to :memory: is a
	// separate database. One connection serializes both cases.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	logger.Info("sqlite migrations completed", "path", path)
	return db, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return domain.Unavailable("pinging sqlite", err)
	}
	return nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar        TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			username   TEXT NOT NULL,
			score      INTEGER NOT NULL CHECK (score >= 0),
			mode       TEXT NOT NULL,
			avatar     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_mode_score ON leaderboard(mode, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_user_mode ON leaderboard(user_id, mode)`,
		`CREATE TABLE IF NOT EXISTS live_sessions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			username    TEXT NOT NULL,
			score       INTEGER NOT NULL DEFAULT 0 CHECK (score >= 0),
			mode        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'playing',
			viewers     INTEGER NOT NULL DEFAULT 0 CHECK (viewers >= 0),
			game_state  TEXT NOT NULL DEFAULT '',
			avatar      TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			last_update INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_live_status ON live_sessions(status)`,
		// At most one playing session per user, enforced by the database.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_one_playing ON live_sessions(user_id) WHERE status = 'playing'`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unavailable("beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unavailable("committing transaction", err)
	}
	return nil
}

// Timestamps are stored as unix microseconds so ordering is numeric.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
