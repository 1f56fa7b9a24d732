package artifact

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS generated_files (
	path     TEXT PRIMARY KEY,
	content  TEXT NOT NULL,
	written  TEXT NOT NULL
);
`

// ErrFileNotFound is returned by ReadFile for paths never written.
var ErrFileNotFound = errors.New("artifact: file not found")

// SQLiteStore persists generated file contents in a local SQLite database.
// It implements FileStore.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore creates or opens the database at dbPath and ensures the
// schema exists.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("artifact: open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("artifact: set journal mode: %w", err)
	}
	// SQLite does not support concurrent writers.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("artifact: ensure schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// WriteFile stores content under path, replacing any previous row.
func (s *SQLiteStore) WriteFile(path, content string) error {
	_, err := s.conn.Exec(
		`INSERT INTO generated_files (path, content, written) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET content = excluded.content, written = excluded.written`,
		path, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the stored content for path.
func (s *SQLiteStore) ReadFile(path string) (string, error) {
	var content string
	err := s.conn.QueryRow(`SELECT content FROM generated_files WHERE path = ?`, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return content, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
