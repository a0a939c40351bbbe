package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"svcregistry/internal/config"
	"svcregistry/internal/logger"
	"svcregistry/internal/network"
	"svcregistry/internal/scanner"
)

// File output formats.
const (
	FormatJSON = "json"
	FormatRows = "rows"
)

// FileSender appends snapshots to a rotated file and optionally echoes them
// to the console. Each snapshot is written with a single Write so rotation
// never splits it.
type FileSender struct {
	writer  io.WriteCloser
	console io.Writer // nil when console echo is off
	host    network.HostInfo
	pretty  bool
	format  string

	mu     sync.Mutex
	closed bool
}

// NewFileSender creates a new FileSender with the given configuration.
func NewFileSender(cfg config.FileConfig, host network.HostInfo) (*FileSender, error) {
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatRows {
		return nil, fmt.Errorf("unsupported file format %q: must be %q or %q", format, FormatJSON, FormatRows)
	}

	if dir := filepath.Dir(cfg.FilePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	s := &FileSender{
		writer: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
		host:   host,
		pretty: cfg.Pretty,
		format: format,
	}
	if cfg.Console {
		s.console = os.Stdout
	}

	log := logger.WithComponent("file-sender")
	log.Info().
		Str("file_path", cfg.FilePath).
		Str("format", format).
		Bool("console", cfg.Console).
		Bool("pretty", cfg.Pretty).
		Msg("FileSender initialized")

	return s, nil
}

// Send writes a snapshot to the file and optionally to console.
func (s *FileSender) Send(ctx context.Context, snap *scanner.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}

	var buf bytes.Buffer
	if err := s.encode(&buf, snap); err != nil {
		return err
	}
	if _, err := s.writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if s.console != nil {
		s.console.Write(buf.Bytes())
	}
	return nil
}

// encode renders snap in the configured format, newline terminated.
func (s *FileSender) encode(buf *bytes.Buffer, snap *scanner.Snapshot) error {
	if s.format == FormatRows {
		for _, r := range snap.Records {
			buf.WriteString(FormatRow(snap.TakenAt, r))
			buf.WriteByte('\n')
		}
		return nil
	}

	enc := json.NewEncoder(buf)
	if s.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(NewEnvelope(s.host, snap)); err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return nil
}

// Close releases resources held by the FileSender.
func (s *FileSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
