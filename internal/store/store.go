// ABOUTME: Ledger interface and data types for conversation message persistence.
// ABOUTME: Defines Entry, ConversationSummary, and the Ledger contract.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Entry is one recorded message in the ledger.
type Entry struct {
	ID          string
	RecipientID string
	Role        string // user, bot, agent, system
	Kind        string // text, buttons, list, media
	Content     string
	CreatedAt   time.Time
}

// ConversationSummary is one row in the operator console's recent
// conversations snapshot.
type ConversationSummary struct {
	RecipientID string
	LastMessage string
	LastRole    string
	LastAt      time.Time
	Messages    int
}

// Ledger is the message persistence contract.
type Ledger interface {
	SaveEntry(ctx context.Context, entry *Entry) error
	History(ctx context.Context, recipientID string, limit int) ([]*Entry, error)
	RecentConversations(ctx context.Context, limit int) ([]*ConversationSummary, error)
	Close() error
}
