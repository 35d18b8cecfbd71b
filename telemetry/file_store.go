package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore appends closed trace records to a JSON-lines file. Reads for
// Recent are served from an in-memory tail so the file is write-only in
// the hot path.
type FileStore struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	tail *MemoryStore
}

// NewFileStore opens (or creates) the trace file for appending
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	return &FileStore{
		f:    f,
		w:    bufio.NewWriter(f),
		tail: NewMemoryStore(DefaultMemoryCapacity),
	}, nil
}

// Append writes one record as a JSON line
func (s *FileStore) Append(ctx context.Context, record *TraceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write trace record: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write trace record: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace file: %w", err)
	}
	return s.tail.Append(ctx, record)
}

// Recent returns up to n of the most recent records appended this process
func (s *FileStore) Recent(ctx context.Context, n int) ([]*TraceRecord, error) {
	return s.tail.Recent(ctx, n)
}

// Close flushes and closes the trace file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
