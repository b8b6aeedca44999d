package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the local database used for the dead-letter queue.
type SQLite struct {
	DB     *sql.DB
	Path   string
	Logger *zap.SugaredLogger
}

const deadLetterSchema = `
CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	channel TEXT NOT NULL,
	message_id TEXT,
	raw_payload TEXT NOT NULL,
	error_reason TEXT NOT NULL,
	error_details TEXT,
	source_ip TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_dlq_timestamp ON dead_letter_queue(timestamp);
CREATE INDEX IF NOT EXISTS idx_dlq_reason ON dead_letter_queue(error_reason);
CREATE INDEX IF NOT EXISTS idx_dlq_status ON dead_letter_queue(status);
`

// NewSQLite opens (creating if needed) the database at dbPath and applies
// the schema. ":memory:" is accepted for tests.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// WAL mode allows one writer; a single connection also keeps an
	// in-memory database alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(deadLetterSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create dead letter schema: %w", err)
	}

	logger.Infow("SQLite database ready", "path", dbPath)
	return &SQLite{DB: db, Path: dbPath, Logger: logger}, nil
}

// HealthCheck pings the database
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// validateDatabasePath rejects traversal, null bytes and device files.
func validateDatabasePath(path string) error {
	if path == ":memory:" {
		return nil
	}
	if path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("database path contains null byte")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected: '..' not allowed in database path")
		}
	}
	if strings.HasPrefix(filepath.Clean(path), "/dev/") {
		return fmt.Errorf("database path cannot point at a device")
	}
	return nil
}
