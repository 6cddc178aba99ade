// Package logging builds the process-wide log stream: human-readable console
// output plus an append-only log file carrying the same events as JSON.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const filePerm = 0o664

// New returns a logger writing to stderr and, when path is non-empty, to the
// given file. The returned closer flushes and releases the file handle; it is
// safe to call when no file was opened.
func New(path string) (zerolog.Logger, func() error, error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	if path == "" {
		logger := zerolog.New(console).With().Timestamp().Logger()
		return logger, func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	var w io.Writer = zerolog.MultiLevelWriter(console, zerolog.SyncWriter(f))
	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger, f.Close, nil
}
