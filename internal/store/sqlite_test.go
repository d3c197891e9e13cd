// ABOUTME: Tests for the SQLite message ledger.
// ABOUTME: Validates schema creation, history ordering, and conversation summaries.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func saveEntry(t *testing.T, l *SQLiteLedger, recipient, role, content string, at time.Time) {
	t.Helper()
	require.NoError(t, l.SaveEntry(context.Background(), &Entry{
		ID:          uuid.New().String(),
		RecipientID: recipient,
		Role:        role,
		Kind:        "text",
		Content:     content,
		CreatedAt:   at,
	}))
}

func TestSQLiteLedger_SaveAndHistory(t *testing.T) {
	ledger := newTestLedger(t)
	now := time.Now()

	saveEntry(t, ledger, "591700001", "user", "hola", now)
	saveEntry(t, ledger, "591700001", "bot", "¡Hola! ¿Cuál es tu nombre?", now.Add(time.Second))
	saveEntry(t, ledger, "591700002", "user", "buenas", now.Add(2*time.Second))

	history, err := ledger.History(context.Background(), "591700001", 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hola", history[0].Content, "history must be chronological")
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "¡Hola! ¿Cuál es tu nombre?", history[1].Content)
}

func TestSQLiteLedger_History_LimitKeepsLatest(t *testing.T) {
	ledger := newTestLedger(t)
	now := time.Now()

	for i := 0; i < 10; i++ {
		saveEntry(t, ledger, "591700001", "user", fmt.Sprintf("msg %d", i), now.Add(time.Duration(i)*time.Second))
	}

	history, err := ledger.History(context.Background(), "591700001", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "msg 7", history[0].Content, "limit keeps the most recent entries")
	assert.Equal(t, "msg 9", history[2].Content)
}

func TestSQLiteLedger_History_Empty(t *testing.T) {
	ledger := newTestLedger(t)

	history, err := ledger.History(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSQLiteLedger_RecentConversations(t *testing.T) {
	ledger := newTestLedger(t)
	now := time.Now()

	saveEntry(t, ledger, "591700001", "user", "hola", now)
	saveEntry(t, ledger, "591700001", "bot", "¿tu nombre?", now.Add(time.Second))
	saveEntry(t, ledger, "591700002", "user", "quiero el catálogo", now.Add(2*time.Second))

	convs, err := ledger.RecentConversations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, "591700002", convs[0].RecipientID, "most recent activity first")
	assert.Equal(t, "quiero el catálogo", convs[0].LastMessage)
	assert.Equal(t, 1, convs[0].Messages)

	assert.Equal(t, "591700001", convs[1].RecipientID)
	assert.Equal(t, "¿tu nombre?", convs[1].LastMessage)
	assert.Equal(t, "bot", convs[1].LastRole)
	assert.Equal(t, 2, convs[1].Messages)
}

func TestSQLiteLedger_RecentConversations_Limit(t *testing.T) {
	ledger := newTestLedger(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		saveEntry(t, ledger, fmt.Sprintf("5917000%02d", i), "user", "hola", now.Add(time.Duration(i)*time.Second))
	}

	convs, err := ledger.RecentConversations(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}
