package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to the application database. SQLite is the default; a
// Postgres DSN may be supplied for shared deployments. The store layer
// only uses portable database/sql idioms, so both drivers serve it.
func Open(driver, sqlitePath, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	var (
		database *sql.DB
		err      error
	)
	switch driver {
	case "sqlite":
		if mkErr := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", mkErr)
		}
		database, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqlitePath))
	case "postgres":
		database, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(maxOpen)
	database.SetMaxIdleConns(maxIdle)
	database.SetConnMaxLifetime(maxLifetime)
	if err := database.Ping(); err != nil {
		return nil, err
	}
	return database, nil
}

// OpenSQLite opens a SQLite database directly; tests use this with a
// temp-dir path.
func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	return Open("sqlite", path, "", maxOpen, maxIdle, maxLifetime)
}
