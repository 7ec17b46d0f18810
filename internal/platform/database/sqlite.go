package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/platform/config"
)

// Open connects to the sqlite database at the configured path. WAL mode
// and a busy timeout keep the single writer from starving the worker
// and API processes.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
