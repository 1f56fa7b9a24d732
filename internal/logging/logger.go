package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped lines to a destination, either a file under the
// state directory or stderr. The orchestration engine and the HTTP server
// both write through it, so writes are serialized.
type Logger struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
}

// NewStderr returns a logger writing to standard error.
func NewStderr() *Logger {
	return &Logger{out: os.Stderr}
}

// NewFile creates (or reuses) the log file at path, creating parent
// directories as needed.
func NewFile(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, file: f}, nil
}

// Close releases the file handle, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	timestamp := time.Now().Format(time.RFC3339)
	l.mu.Lock()
	fmt.Fprintf(l.out, "[%s] %s\n", timestamp, line)
	l.mu.Unlock()
}
