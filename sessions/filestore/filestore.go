// Package filestore persists session records as a single JSON document,
// rewritten in full on every mutation. The file is exclusively owned by this
// store; nothing else reads or writes it.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ggoodman/mcp-session-gateway/sessions"
)

var _ sessions.Store = (*Store)(nil)

// Store is a write-through sessions.Store backed by one JSON file. The
// in-memory map is authoritative for the running process: a failed flush is
// reported but never undoes a mutation.
type Store struct {
	log  *slog.Logger
	path string

	mu      sync.Mutex
	records map[string]*sessions.SessionRecord
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store backed by the JSON file at path. Call Load before use.
func New(path string, opts ...Option) *Store {
	s := &Store{
		log:     slog.Default(),
		path:    path,
		records: make(map[string]*sessions.SessionRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the backing file if present. A missing, unreadable, or corrupt
// file is logged and the store starts empty; a corrupt store file must never
// take the process down with it.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WarnContext(ctx, "filestore.read.fail", slog.String("path", s.path), slog.String("err", err.Error()))
		}
		return nil
	}

	var records map[string]*sessions.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.WarnContext(ctx, "filestore.parse.fail", slog.String("path", s.path), slog.String("err", err.Error()))
		return nil
	}

	// Records are keyed by their own id; drop entries where the two disagree.
	for id, rec := range records {
		if rec == nil || rec.SessionID != id {
			s.log.WarnContext(ctx, "filestore.record.skip", slog.String("key", id))
			delete(records, id)
		}
	}
	if records == nil {
		records = make(map[string]*sessions.SessionRecord)
	}
	s.records = records
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *Store) Put(ctx context.Context, rec *sessions.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = rec.Clone()
	return s.persistLocked()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	return s.persistLocked()
}

func (s *Store) Size(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) All(ctx context.Context) []*sessions.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sessions.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// persistLocked rewrites the entire document. Directory creation is implicit
// and idempotent.
func (s *Store) persistLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session records: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session records: %w", err)
	}
	return nil
}
