// Package sink streams accepted FASTA records to disk one at a time.
package sink

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileSink owns the output file for the lifetime of a run. Every Write is
// synced before it returns, so a crash loses at most the record in flight.
type FileSink struct {
	path    string
	file    *os.File
	written int
	mu      sync.Mutex
}

// Open truncates or creates path.
func Open(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Write appends one verbatim record. A trailing newline is added only when
// the record lacks one, so consecutive records never run together.
func (s *FileSink) Write(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("write %s: sink closed", s.path)
	}
	if !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}
	if _, err := s.file.WriteString(raw); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	s.written++
	return nil
}

func (s *FileSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close is safe to call more than once.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}
