// Package logger provides structured logging with file rotation support.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logger configuration (Logging.json).
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"` // "text" (fixed-width columns) or "json"
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "log/svcscan/svcscan.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    false,
		Format:     "text",
	}
}

// timeFormat keeps milliseconds in both the JSON and the column output.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// consoleBuffer is the number of console lines held while stderr is stalled.
const consoleBuffer = 1000

var (
	mu           sync.Mutex
	globalLogger = zerolog.Nop()
	fileOut      io.Closer
	consoleOut   *nonBlockingWriter

	// stderr is where console output goes. Stdout belongs to command output.
	stderr io.Writer = os.Stderr
)

// Init replaces the global logger. It may be called again to apply a
// reloaded configuration; the previous writers are flushed and closed.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = timeFormat

	closeWriters()

	var writers []io.Writer
	if cfg.FilePath != "" {
		w, err := openFile(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	if cfg.Console {
		consoleOut = newNonBlockingWriter(zerolog.ConsoleWriter{
			Out:        stderr,
			TimeFormat: "15:04:05.000",
		}, consoleBuffer)
		writers = append(writers, consoleOut)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = stderr
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	globalLogger = zerolog.New(out).With().Timestamp().Caller().Logger()
	return nil
}

func openFile(cfg Config) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	fileOut = lj
	if cfg.Format == "json" {
		return lj, nil
	}
	return NewFixedFormatWriter(lj), nil
}

func closeWriters() {
	if consoleOut != nil {
		consoleOut.Close()
		consoleOut = nil
	}
	if fileOut != nil {
		fileOut.Close()
		fileOut = nil
	}
}

// Close flushes pending console lines and closes the log file. Logging
// after Close is discarded until the next Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeWriters()
	globalLogger = zerolog.Nop()
}

// WithComponent returns a logger with component field.
func WithComponent(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger.With().Str("component", component).Logger()
}
