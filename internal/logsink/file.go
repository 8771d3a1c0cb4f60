package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// FileSink persists Entries as gzip-compressed, newline-delimited JSON,
// with bounded in-memory retention for admin inspection. Grounded on the
// teacher's scheduler.Store: an RWMutex-guarded in-memory slice backed by
// a whole-file rewrite on every Record.
type FileSink struct {
	mu       sync.RWMutex
	path     string
	entries  []Entry
	maxLines int
}

// NewFileSink opens (or creates) a gzip-compressed log file under dataDir
// and loads any previously persisted entries.
func NewFileSink(dataDir string, maxLines int) (*FileSink, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: creating data dir: %w", err)
	}
	s := &FileSink{
		path:     filepath.Join(dataDir, "gateway_log.jsonl.gz"),
		maxLines: maxLines,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("logsink: reading log file: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		log.WithError(err).Warn("logsink: corrupt log file, starting fresh")
		return nil
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	var entries []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	s.entries = entries
	return nil
}

// Record appends e to the in-memory log, trimming to maxLines, and
// rewrites the on-disk file. It is safe to call concurrently.
func (s *FileSink) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if s.maxLines > 0 && len(s.entries) > s.maxLines {
		s.entries = s.entries[len(s.entries)-s.maxLines:]
	}
	return s.persistLocked()
}

func (s *FileSink) persistLocked() error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, e := range s.entries {
		if err := enc.Encode(e); err != nil {
			_ = gz.Close()
			return fmt.Errorf("logsink: encoding entry: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("logsink: closing gzip writer: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("logsink: writing log file: %w", err)
	}
	return nil
}

// Recent returns up to n most-recently-recorded entries, for an admin
// status endpoint.
func (s *FileSink) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// Close is a no-op: every Record call already persists synchronously.
func (s *FileSink) Close() error { return nil }
