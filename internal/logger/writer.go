package logger

import (
	"io"
	"sync"
	"sync/atomic"
)

// nonBlockingWriter hands lines to a goroutine that writes them to w, so a
// stalled terminal never delays file logging or a scan. Lines that do not
// fit in the buffer are dropped and counted.
type nonBlockingWriter struct {
	lines   chan []byte
	w       io.Writer
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newNonBlockingWriter(w io.Writer, size int) *nonBlockingWriter {
	nw := &nonBlockingWriter{
		lines: make(chan []byte, size),
		w:     w,
		done:  make(chan struct{}),
	}
	go nw.drain()
	return nw
}

func (nw *nonBlockingWriter) Write(p []byte) (int, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	if nw.closed {
		return len(p), nil
	}

	line := make([]byte, len(p))
	copy(line, p)
	select {
	case nw.lines <- line:
	default:
		nw.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns the number of lines discarded because the buffer was full.
func (nw *nonBlockingWriter) Dropped() uint64 {
	return nw.dropped.Load()
}

func (nw *nonBlockingWriter) drain() {
	defer close(nw.done)
	for line := range nw.lines {
		nw.w.Write(line)
	}
}

// Close flushes buffered lines and stops the writer. Later writes are
// discarded.
func (nw *nonBlockingWriter) Close() error {
	nw.once.Do(func() {
		nw.mu.Lock()
		nw.closed = true
		close(nw.lines)
		nw.mu.Unlock()
		<-nw.done
	})
	return nil
}
