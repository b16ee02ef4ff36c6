package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chainclaw/chainclaw/pkg/logger"
)

// FileName is the store file inside the data directory.
const FileName = "chainclaw.sqlite"

// DB wraps the embedded sqlite store. It is the single durability boundary.
type DB struct {
	conn *sqlx.DB
	path string
}

// Open opens (or creates) the store at <dataDir>/chainclaw.sqlite with WAL
// journalling, a busy timeout and foreign keys enabled, then applies pending
// migrations.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, FileName)
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		path,
	)

	conn, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serialises writers; a single connection avoids lock churn on
	// the write path while WAL keeps readers concurrent.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, path: path}

	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("database opened",
		zap.String("path", path),
	)

	return db, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*DB, error) {
	conn, err := sqlx.Connect("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: ":memory:"}
	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes database connection
func (db *DB) Close() error {
	if db.conn != nil {
		logger.Info("closing database connection")
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB (used by migrations)
func (db *DB) Conn() *sql.DB {
	return db.conn.DB
}

// DB returns the sqlx handle repositories work with
func (db *DB) DB() *sqlx.DB {
	return db.conn
}

// Path returns the store file path.
func (db *DB) Path() string {
	return db.path
}

// Ping checks if database is alive
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// BeginTxx starts a new sqlx transaction
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Vacuum reclaims free pages. sqlite refuses to vacuum while another
// transaction is open; callers treat failure as warn-and-continue.
func (db *DB) Vacuum(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := db.conn.ExecContext(ctx, "VACUUM")
	return err
}
