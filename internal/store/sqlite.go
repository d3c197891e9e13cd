// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite.
// ABOUTME: Provides message persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements the Ledger interface using SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger creates a ledger at the given path. The schema is
// created if it doesn't exist; parent directories are created if needed.
func NewSQLiteLedger(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteLedger{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient
			ON messages(recipient_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEntry records one message.
func (s *SQLiteLedger) SaveEntry(ctx context.Context, entry *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, recipient_id, role, kind, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RecipientID, entry.Role, entry.Kind, entry.Content,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving ledger entry: %w", err)
	}
	return nil
}

// History returns the latest messages for a recipient in chronological
// order, at most limit entries.
func (s *SQLiteLedger) History(ctx context.Context, recipientID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, role, kind, content, created_at
		 FROM (
		   SELECT * FROM messages WHERE recipient_id = ?
		   ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentConversations returns one summary per recipient, most recent
// activity first.
func (s *SQLiteLedger) RecentConversations(ctx context.Context, limit int) ([]*ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.recipient_id, m.content, m.role, m.created_at, c.n
		 FROM messages m
		 JOIN (
		   SELECT recipient_id, MAX(created_at) AS last_at, COUNT(*) AS n
		   FROM messages GROUP BY recipient_id
		 ) c ON m.recipient_id = c.recipient_id AND m.created_at = c.last_at
		 GROUP BY m.recipient_id
		 ORDER BY m.created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		var createdAt string
		if err := rows.Scan(&c.RecipientID, &c.LastMessage, &c.LastRole, &createdAt, &c.Messages); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.LastAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var createdAt string
	if err := row.Scan(&e.ID, &e.RecipientID, &e.Role, &e.Kind, &e.Content, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}
