// ABOUTME: Gateway pipeline tests: dedupe no-op replay, discards, session
// ABOUTME: persistence, webhook handlers, and the operator surface.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campoverde/agrobot/internal/alerts"
	"github.com/campoverde/agrobot/internal/collab"
	"github.com/campoverde/agrobot/internal/dedupe"
	"github.com/campoverde/agrobot/internal/dialog"
	"github.com/campoverde/agrobot/internal/dispatch"
	"github.com/campoverde/agrobot/internal/feed"
	"github.com/campoverde/agrobot/internal/handoff"
	"github.com/campoverde/agrobot/internal/metrics"
	"github.com/campoverde/agrobot/internal/session"
	"github.com/campoverde/agrobot/internal/store"
	"github.com/campoverde/agrobot/internal/transport"
)

const gatewayPriceList = `
products:
  - name: Glifomax
    pack: 20 L
    price: 540
    keywords: [glifosato]
`

// memoryLedger keeps entries in order for assertions.
type memoryLedger struct {
	mu      sync.Mutex
	entries []*store.Entry
}

func (l *memoryLedger) SaveEntry(_ context.Context, entry *store.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memoryLedger) History(_ context.Context, recipientID string, limit int) ([]*store.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*store.Entry
	for _, e := range l.entries {
		if e.RecipientID == recipientID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *memoryLedger) RecentConversations(_ context.Context, limit int) ([]*store.ConversationSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byRecipient := make(map[string]*store.ConversationSummary)
	for _, e := range l.entries {
		s, ok := byRecipient[e.RecipientID]
		if !ok {
			s = &store.ConversationSummary{RecipientID: e.RecipientID}
			byRecipient[e.RecipientID] = s
		}
		s.Messages++
		s.LastMessage = e.Content
		s.LastRole = e.Role
		s.LastAt = e.CreatedAt
	}
	var out []*store.ConversationSummary
	for _, s := range byRecipient {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memoryLedger) Close() error { return nil }

func (l *memoryLedger) roles(recipientID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.RecipientID == recipientID {
			out = append(out, e.Role)
		}
	}
	return out
}

type gatewayFixture struct {
	gw     *Gateway
	repo   *session.MemoryRepository
	ledger *memoryLedger
	sent   *recordingSender
}

type recordingSender struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (r *recordingSender) Send(_ context.Context, _ string, msg transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	dir := t.TempDir()
	pricePath := filepath.Join(dir, "precios.yaml")
	require.NoError(t, os.WriteFile(pricePath, []byte(gatewayPriceList), 0o644))
	quotes, err := collab.NewQuoteService(pricePath, dir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	arbiter := handoff.New(time.Minute)
	engine := dialog.New(dialog.Config{
		FreshnessWindow: 5 * time.Minute,
		HandoffDuration: 30 * time.Minute,
		CurrentCampaign: "verano",
	}, arbiter, quotes, collab.DisabledCRM{}, collab.NoAnswerer{}, alerts.NewFallback(logger), logger)

	sender := &recordingSender{}
	m := metrics.New()
	gw := New(Config{
		VerifyToken:     "secreto",
		HandoffDuration: 30 * time.Minute,
	},
		session.NewMemoryRepository(12*time.Hour),
		dedupe.New(1000),
		engine,
		dispatch.New(sender, time.Millisecond, nil, logger),
		arbiter,
		&memoryLedger{},
		feed.NewBroadcaster(logger),
		collab.DisabledCRM{},
		m,
		logger,
	)

	fix := &gatewayFixture{gw: gw, ledger: gw.ledger.(*memoryLedger), sent: sender}
	fix.repo = gw.repo.(*session.MemoryRepository)
	t.Cleanup(gw.dispatcher.Close)
	return fix
}

func textEvent(id, from, text string) Event {
	return Event{ID: id, RecipientID: from, Type: EventText, Text: text}
}

func TestHandleEventCreatesSessionAndReplies(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))

	s, created, err := fix.repo.Get("59170000001", time.Now())
	require.NoError(t, err)
	require.False(t, created, "session should already exist")
	assert.True(t, s.Greeted)
	assert.Equal(t, session.SlotName, s.Pending)
	assert.False(t, s.ExpiresAt.IsZero())

	// One inbound plus the welcome and the name prompt.
	roles := fix.ledger.roles("59170000001")
	require.Len(t, roles, 3)
	assert.Equal(t, session.RoleUser, roles[0])
	assert.Equal(t, session.RoleBot, roles[1])
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	before := len(fix.ledger.roles("59170000001"))

	// Same event id replayed: no session mutation, no new records.
	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	assert.Equal(t, before, len(fix.ledger.roles("59170000001")))

	s, _, _ := fix.repo.Get("59170000001", time.Now())
	assert.True(t, s.Greeted)
}

func TestMissingRecipientDiscarded(t *testing.T) {
	fix := newGatewayFixture(t)

	fix.gw.HandleEvent(context.Background(), Event{ID: "evt-x", Type: EventText, Text: "hola"})
	assert.Empty(t, fix.ledger.entries)
}

func TestUnsupportedEventGetsNotice(t *testing.T) {
	fix := newGatewayFixture(t)

	fix.gw.HandleEvent(context.Background(), Event{
		ID: "evt-img", RecipientID: "59170000001", Type: EventUnsupported,
	})

	roles := fix.ledger.roles("59170000001")
	require.Len(t, roles, 2)
	assert.Equal(t, session.RoleUser, roles[0])
	assert.Equal(t, session.RoleBot, roles[1])
}

func TestUnsupportedEventSilentDuringHandoff(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	before := len(fix.ledger.roles("59170000001"))

	fix.gw.arbiter.ActivateHuman("59170000001", time.Minute)
	fix.gw.HandleEvent(ctx, Event{
		ID: "evt-img", RecipientID: "59170000001", Type: EventUnsupported,
	})

	// Recorded and forwarded, but the bot does not interject while the
	// human window is open.
	roles := fix.ledger.roles("59170000001")
	require.Len(t, roles, before+1)
	assert.Equal(t, session.RoleUser, roles[len(roles)-1])
}

func TestUnsupportedEventSilentWhenClosed(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	s, _, err := fix.repo.Get("59170000001", time.Now())
	require.NoError(t, err)
	s.Close(time.Now())
	require.NoError(t, fix.repo.Persist(s))
	before := len(fix.ledger.roles("59170000001"))

	fix.gw.HandleEvent(ctx, Event{
		ID: "evt-img", RecipientID: "59170000001", Type: EventUnsupported,
	})

	roles := fix.ledger.roles("59170000001")
	require.Len(t, roles, before+1)
	assert.Equal(t, session.RoleUser, roles[len(roles)-1])
}

func TestRestartClearsSession(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	fix.gw.HandleEvent(ctx, textEvent("evt-2", "59170000001", "reiniciar"))

	// The repository creates on Get, so a fresh create proves the old
	// session was cleared.
	s, created, err := fix.repo.Get("59170000001", time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, s.Greeted)
}

func TestVerifyHandler(t *testing.T) {
	fix := newGatewayFixture(t)
	handler := fix.gw.VerifyHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secreto&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=equivocado&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookHandlerProcessesPayload(t *testing.T) {
	fix := newGatewayFixture(t)
	handler := fix.gw.WebhookHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textPayload))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, created, _ := fix.repo.Get("59170000001", time.Now())
	assert.False(t, created)
}

func TestWebhookHandlerAcksMalformedBody(t *testing.T) {
	fix := newGatewayFixture(t)
	handler := fix.gw.WebhookHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	// Non-2xx would make the channel retry a payload that can never
	// parse.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendAsOperator(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))

	err := fix.gw.SendAsOperator(ctx, "59170000001", transport.Text("Hola, soy Carla del equipo"))
	require.NoError(t, err)

	roles := fix.ledger.roles("59170000001")
	assert.Equal(t, session.RoleAgent, roles[len(roles)-1])

	// Operator typing silences the bot.
	state, err := fix.gw.State(ctx, "59170000001")
	require.NoError(t, err)
	assert.True(t, state.HumanActive)

	fix.gw.HandleEvent(ctx, textEvent("evt-2", "59170000001", "hola?"))
	roles = fix.ledger.roles("59170000001")
	assert.Equal(t, session.RoleUser, roles[len(roles)-1])
}

func TestSendAsOperatorUnknownRecipient(t *testing.T) {
	fix := newGatewayFixture(t)

	err := fix.gw.SendAsOperator(context.Background(), "59999", transport.Text("hola"))
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestSetHandoffToggle(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))

	require.NoError(t, fix.gw.SetHandoff(ctx, "59170000001", true))
	state, err := fix.gw.State(ctx, "59170000001")
	require.NoError(t, err)
	assert.True(t, state.HumanActive)

	require.NoError(t, fix.gw.SetHandoff(ctx, "59170000001", false))
	state, err = fix.gw.State(ctx, "59170000001")
	require.NoError(t, err)
	assert.False(t, state.HumanActive)
}

func TestHistoryMarksRead(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	s, _, _ := fix.repo.Get("59170000001", time.Now())
	require.Positive(t, s.Meta.UnreadCount)

	entries, err := fix.gw.History(ctx, "59170000001", 50)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	s, _, _ = fix.repo.Get("59170000001", time.Now())
	assert.Zero(t, s.Meta.UnreadCount)
}

func TestOnSentFailureRecordsSystemMarker(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))

	fix.gw.OnSent(dispatch.Job{
		RecipientID: "59170000001",
		Message:     transport.Text("Bienvenido a Campo Verde"),
	}, false)

	roles := fix.ledger.roles("59170000001")
	require.NotEmpty(t, roles)
	assert.Equal(t, session.RoleSystem, roles[len(roles)-1])

	s, _, err := fix.repo.Get("59170000001", time.Now())
	require.NoError(t, err)
	last := s.History[len(s.History)-1]
	assert.Equal(t, session.RoleSystem, last.Role)
	assert.Contains(t, last.Text, "No se pudo entregar")
}

func TestOnSentFailureDoesNotCreateSession(t *testing.T) {
	fix := newGatewayFixture(t)

	fix.gw.OnSent(dispatch.Job{
		RecipientID: "59999",
		Message:     transport.Text("hola"),
	}, false)

	assert.Empty(t, fix.ledger.roles("59999"))
	_, created, err := fix.repo.Get("59999", time.Now())
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRejectedEnqueueNotRecorded(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.dispatcher.Close()
	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))

	// The inbound message is recorded; the replies the dispatcher
	// rejected never appear as delivered bot messages.
	roles := fix.ledger.roles("59170000001")
	require.Len(t, roles, 1)
	assert.Equal(t, session.RoleUser, roles[0])
}

func TestSendAsOperatorRejectedByDispatcher(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	before := len(fix.ledger.roles("59170000001"))

	fix.gw.dispatcher.Close()
	err := fix.gw.SendAsOperator(ctx, "59170000001", transport.Text("sigo aquí"))
	require.Error(t, err)
	assert.Len(t, fix.ledger.roles("59170000001"), before)
}

func TestSweepSessions(t *testing.T) {
	fix := newGatewayFixture(t)
	ctx := context.Background()

	fix.gw.HandleEvent(ctx, textEvent("evt-1", "59170000001", "hola"))
	assert.Zero(t, fix.gw.SweepSessions(time.Now()))
	assert.Equal(t, 1, fix.gw.SweepSessions(time.Now().Add(24*time.Hour)))
}
