// Package logsink holds the human-readable event log: a bounded,
// timestamped line buffer with live subscribers.
package logsink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default bounds: once the buffer grows past DefaultMaxLines it is trimmed
// to the newest DefaultTrimTo lines.
const (
	DefaultMaxLines = 5000
	DefaultTrimTo   = 2000
)

const timeLayout = "15:04:05.000"

// Buffer is a bounded, append-only log. It is safe for concurrent use.
type Buffer struct {
	maxLines int
	trimTo   int
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	lines  []string
	subs   map[int]chan string
	nextID int
}

// New creates a buffer. Non-positive bounds fall back to the defaults.
// Every line is also emitted to logger at debug level when logger is
// non-nil.
func New(maxLines, trimTo int, logger *slog.Logger) *Buffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if trimTo <= 0 || trimTo > maxLines {
		trimTo = min(DefaultTrimTo, maxLines)
	}
	return &Buffer{
		maxLines: maxLines,
		trimTo:   trimTo,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[int]chan string),
	}
}

// Log appends msg with a timestamp prefix and fans it out to subscribers.
// Slow subscribers miss lines rather than block the caller.
func (b *Buffer) Log(msg string) {
	line := b.now().Format(timeLayout) + " " + msg

	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.maxLines {
		kept := make([]string, b.trimTo)
		copy(kept, b.lines[len(b.lines)-b.trimTo:])
		b.lines = kept
	}
	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug(msg)
	}
}

// Logf formats and appends a line.
func (b *Buffer) Logf(format string, args ...any) {
	b.Log(fmt.Sprintf(format, args...))
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Subscribe returns a channel receiving every new line and a cancel
// function that unregisters and closes it.
func (b *Buffer) Subscribe(size int) (<-chan string, func()) {
	if size <= 0 {
		size = 256
	}
	ch := make(chan string, size)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
