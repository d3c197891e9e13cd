// ABOUTME: Durable file-backed session repository with per-id JSON snapshots.
// ABOUTME: Writes are atomic via write-to-temp-then-rename; expired records load as absent.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileRepository keeps active sessions in memory and snapshots each one
// to its own JSON record under dir. Records embed an absolute expiry so
// a restarted process never resurrects a lapsed conversation.
type FileRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	dir      string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewFileRepository creates the snapshot directory if needed and returns
// a repository with the given sliding TTL.
func NewFileRepository(dir string, ttl time.Duration, logger *slog.Logger) (*FileRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileRepository{
		sessions: make(map[string]*Session),
		dir:      dir,
		ttl:      ttl,
		logger:   logger.With("component", "sessions"),
	}, nil
}

// Get returns the session for id, loading its durable snapshot on first
// access. A corrupt or expired snapshot is treated as absent and a fresh
// session is created silently.
func (r *FileRepository) Get(id string, now time.Time) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && !s.Expired(now) {
		s.Touch(r.ttl, now)
		return s, false, nil
	}

	if s := r.load(id, now); s != nil {
		s.Touch(r.ttl, now)
		r.sessions[id] = s
		return s, false, nil
	}

	s := New(id)
	s.Touch(r.ttl, now)
	r.sessions[id] = s
	return s, true, nil
}

// Persist writes the session snapshot atomically: the record is written
// to a temp file in the same directory and renamed over the target, so a
// reader never observes a partial record.
func (r *FileRepository) Persist(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}

	target := r.path(s.ID)
	tmp, err := os.CreateTemp(r.dir, "."+recordName(s.ID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Clear removes the session from memory and deletes its durable record.
func (r *FileRepository) Clear(id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	if err := os.Remove(r.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing snapshot for %s: %w", id, err)
	}
	return nil
}

// All returns the sessions currently held in memory.
func (r *FileRepository) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep drops expired in-memory sessions and deletes expired durable
// records. The two passes are independent: the in-memory map must not
// grow unbounded even when the disk sweep lags.
func (r *FileRepository) Sweep(now time.Time) int {
	r.mu.Lock()
	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("disk sweep failed", "error", err)
		return removed
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(r.dir, name)
		s := readRecord(path, r.logger)
		if s == nil || s.Expired(now) {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("removing expired snapshot failed", "path", path, "error", err)
			}
		}
	}
	return removed
}

// load reads the durable record for id. Returns nil when the record is
// missing, unreadable, or past its embedded expiry.
func (r *FileRepository) load(id string, now time.Time) *Session {
	s := readRecord(r.path(id), r.logger)
	if s == nil {
		return nil
	}
	if s.Expired(now) {
		return nil
	}
	return s
}

func readRecord(path string, logger *slog.Logger) *Session {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("reading session snapshot failed", "path", path, "error", err)
		}
		return nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warn("corrupt session snapshot treated as absent", "path", path, "error", err)
		return nil
	}
	if s.ID == "" {
		return nil
	}
	return &s
}

func (r *FileRepository) path(id string) string {
	return filepath.Join(r.dir, recordName(id)+".json")
}

// recordName maps an external user id to a safe filename.
func recordName(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
