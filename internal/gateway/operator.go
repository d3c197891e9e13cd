// ABOUTME: Operator-facing gateway surface backing the console API.
// ABOUTME: Operator turns take the same per-recipient lock as webhook turns.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campoverde/agrobot/internal/feed"
	"github.com/campoverde/agrobot/internal/session"
	"github.com/campoverde/agrobot/internal/store"
	"github.com/campoverde/agrobot/internal/transport"
)

// ErrUnknownConversation is returned when an operator targets a
// recipient with no active session.
var ErrUnknownConversation = errors.New("unknown conversation")

// ConversationState is the console's view of one recipient.
type ConversationState struct {
	Session     *session.Session `json:"session"`
	HumanActive bool             `json:"human_active"`
	HumanUntil  time.Time        `json:"human_until,omitzero"`
}

// existing returns the session only when the recipient has talked
// before. The repository creates on Get, so a session it had to create
// is rolled back instead of leaking an empty record. Caller holds the
// recipient lock.
func (g *Gateway) existing(recipientID string) (*session.Session, error) {
	s, created, err := g.repo.Get(recipientID, g.now())
	if err != nil {
		return nil, err
	}
	if created {
		_ = g.repo.Clear(recipientID)
		return nil, ErrUnknownConversation
	}
	return s, nil
}

// Conversations lists recent conversations from the ledger, newest
// first.
func (g *Gateway) Conversations(ctx context.Context, limit int) ([]*store.ConversationSummary, error) {
	return g.ledger.RecentConversations(ctx, limit)
}

// History returns the long-horizon message log for a recipient and
// resets the operator-facing unread counter.
func (g *Gateway) History(ctx context.Context, recipientID string, limit int) ([]*store.Entry, error) {
	entries, err := g.ledger.History(ctx, recipientID, limit)
	if err != nil {
		return nil, err
	}

	lock := g.lockFor(recipientID)
	lock.Lock()
	defer lock.Unlock()
	if s, err := g.existing(recipientID); err == nil {
		s.MarkRead()
		g.persist(s)
	}
	return entries, nil
}

// State reports the recipient's session and handoff status.
func (g *Gateway) State(ctx context.Context, recipientID string) (*ConversationState, error) {
	lock := g.lockFor(recipientID)
	lock.Lock()
	defer lock.Unlock()

	s, err := g.existing(recipientID)
	if err != nil {
		return nil, err
	}
	return &ConversationState{
		Session:     s,
		HumanActive: g.arbiter.IsHumanActive(recipientID),
		HumanUntil:  g.arbiter.HumanUntil(recipientID),
	}, nil
}

// SendAsOperator delivers an operator-authored message through the
// dispatcher and records it with agent attribution. Sending implicitly
// opens the human window so the bot stays quiet while the operator
// types.
func (g *Gateway) SendAsOperator(ctx context.Context, recipientID string, msg transport.Message) error {
	lock := g.lockFor(recipientID)
	lock.Lock()
	defer lock.Unlock()

	s, err := g.existing(recipientID)
	if err != nil {
		return err
	}

	if !g.arbiter.IsHumanActive(recipientID) {
		g.arbiter.ActivateHuman(recipientID, g.cfg.HandoffDuration)
		g.metrics.Handoffs.Inc()
		g.publishHandoff(s, true)
	}

	if !g.dispatcher.Enqueue(recipientID, msg) {
		g.metrics.SendsFailed.Inc()
		g.persist(s)
		return fmt.Errorf("dispatcher rejected message for %s", recipientID)
	}

	now := g.now()
	preview := msg.Preview()
	s.AppendHistory(session.RoleAgent, preview, now)
	g.saveLedger(ctx, recipientID, session.RoleAgent, string(msg.Kind), preview, now)
	g.feed.Publish(feed.Event{
		Kind:        feed.KindMessage,
		RecipientID: recipientID,
		Role:        session.RoleAgent,
		Text:        preview,
		Stage:       string(s.Stage),
	})
	g.persist(s)
	return nil
}

// SetHandoff opens or closes the human window for a recipient from the
// console.
func (g *Gateway) SetHandoff(ctx context.Context, recipientID string, active bool) error {
	lock := g.lockFor(recipientID)
	lock.Lock()
	defer lock.Unlock()

	s, err := g.existing(recipientID)
	if err != nil {
		return err
	}

	if active {
		g.arbiter.ActivateHuman(recipientID, g.cfg.HandoffDuration)
		g.metrics.Handoffs.Inc()
	} else {
		g.arbiter.DeactivateHuman(recipientID)
	}
	g.publishHandoff(s, active)
	return nil
}

// Subscribe exposes the live feed for console streaming.
func (g *Gateway) Subscribe(ctx context.Context) (<-chan feed.Event, string) {
	return g.feed.Subscribe(ctx)
}
