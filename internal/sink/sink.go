// Package sink provides the append-only line destinations a tracking session
// writes to: the raw message log, the calibration log, and the record log.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("sink: closed")

// Sink is an append-only line destination. WriteLine appends one line and the
// trailing newline; Flush pushes buffered lines to the underlying store.
type Sink interface {
	WriteLine(line string) error
	Flush() error
	Close() error
}

// FormatRow renders fields the way the session output files always have:
// every field followed by a comma.
func FormatRow(fields []string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(',')
	}
	return b.String()
}

// File is a buffered line sink over one file on disk.
type File struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	lines  atomic.Uint64
	closed bool
}

// OpenFile creates (or truncates) path and any missing parent directories.
func OpenFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create dir for %s: %w", path, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &File{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *File) Path() string {
	return s.path
}

// Lines reports how many lines have been written.
func (s *File) Lines() uint64 {
	return s.lines.Load()
}

func (s *File) WriteLine(line string) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	s.lines.Add(1)
	return nil
}

func (s *File) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("sink: flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *File) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return fmt.Errorf("sink: flush %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("sink: close %s: %w", s.path, closeErr)
	}
	return nil
}

// Memory keeps lines in memory. Safe for concurrent use, so tests can read
// while a worker writes.
type Memory struct {
	mu      sync.Mutex
	lines   []string
	flushed int
	flushes int
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.lines = append(m.lines, line)
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.flushed = len(m.lines)
	m.flushes++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Lines returns a copy of every written line.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

// Flushed returns a copy of the lines covered by the most recent Flush.
func (m *Memory) Flushed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, m.flushed)
	copy(out, m.lines[:m.flushed])
	return out
}

func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Tee fans every call out to all sinks in order and stops at the first error.
func Tee(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return tee(out)
}

type tee []Sink

func (t tee) WriteLine(line string) error {
	for _, s := range t {
		if err := s.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Flush() error {
	for _, s := range t {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink even when one fails.
func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps s so its failures never reach the caller. Each failure is
// handed to onErr with the operation name ("write", "flush", "close").
func BestEffort(s Sink, onErr func(op string, err error)) Sink {
	if onErr == nil {
		onErr = func(string, error) {}
	}
	return bestEffort{s: s, onErr: onErr}
}

type bestEffort struct {
	s     Sink
	onErr func(op string, err error)
}

func (b bestEffort) WriteLine(line string) error {
	if err := b.s.WriteLine(line); err != nil {
		b.onErr("write", err)
	}
	return nil
}

func (b bestEffort) Flush() error {
	if err := b.s.Flush(); err != nil {
		b.onErr("flush", err)
	}
	return nil
}

func (b bestEffort) Close() error {
	if err := b.s.Close(); err != nil {
		b.onErr("close", err)
	}
	return nil
}
