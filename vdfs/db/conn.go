package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"
)

// ConnectToDB opens a libsql database at the given DSN. Plain filesystem
// paths are accepted and converted to file: DSNs, creating the parent
// directory when needed.
func ConnectToDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	dbURL := dsn
	if !strings.Contains(dsn, ":") {
		// Bare path, not a DSN.
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
		dbURL = fmt.Sprintf("file:%s", dsn)
	} else if strings.HasPrefix(dsn, "file:") {
		path := strings.TrimPrefix(dsn, "file:")
		if cut := strings.IndexByte(path, '?'); cut >= 0 {
			path = path[:cut]
		}
		if path != "" && !strings.HasPrefix(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("could not create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbURL, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", dbURL, err)
	}

	return db, nil
}
