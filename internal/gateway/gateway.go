// ABOUTME: The gateway orchestrator: dedupe, per-recipient serialization,
// ABOUTME: engine turns, persistence, ledger, feed, and the webhook handlers.

package gateway

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

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

// maxWebhookBody caps inbound payload reads.
const maxWebhookBody = 1 << 20

// Config tunes the gateway.
type Config struct {
	// VerifyToken answers the channel's webhook subscription challenge.
	VerifyToken string
	// HandoffDuration is the human window length for operator-initiated
	// takeovers.
	HandoffDuration time.Duration
}

// Gateway coordinates one inbound event through the pipeline. Turns for
// the same recipient are serialized; different recipients proceed in
// parallel.
type Gateway struct {
	cfg        Config
	repo       session.Repository
	dedupe     *dedupe.Cache
	engine     *dialog.Engine
	dispatcher *dispatch.Dispatcher
	arbiter    *handoff.Arbiter
	ledger     store.Ledger
	feed       *feed.Broadcaster
	crm        collab.CRM
	metrics    *metrics.Metrics
	logger     *slog.Logger

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires the gateway. All collaborators are required; crm may be the
// disabled implementation.
func New(cfg Config, repo session.Repository, dedupeCache *dedupe.Cache,
	engine *dialog.Engine, dispatcher *dispatch.Dispatcher, arbiter *handoff.Arbiter,
	ledger store.Ledger, broadcaster *feed.Broadcaster, crm collab.CRM,
	m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:        cfg,
		repo:       repo,
		dedupe:     dedupeCache,
		engine:     engine,
		dispatcher: dispatcher,
		arbiter:    arbiter,
		ledger:     ledger,
		feed:       broadcaster,
		crm:        crm,
		metrics:    m,
		logger:     logger.With("component", "gateway"),
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization mutex for a recipient, creating it
// on first contact. Locks are never removed; the set is bounded by the
// subscriber base.
func (g *Gateway) lockFor(recipientID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[recipientID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[recipientID] = lock
	}
	return lock
}

// HandleEvent runs one normalized event through the pipeline. Duplicate
// and malformed events are dropped before any session mutation, so a
// webhook replay is a strict no-op.
func (g *Gateway) HandleEvent(ctx context.Context, event Event) {
	g.metrics.EventsReceived.Inc()

	if event.RecipientID == "" || event.ID == "" {
		g.metrics.EventsDiscarded.Inc()
		g.logger.Debug("event discarded", "event_id", event.ID)
		return
	}

	lock := g.lockFor(event.RecipientID)
	lock.Lock()
	defer lock.Unlock()

	if g.dedupe.AlreadyProcessed(event.ID) {
		g.metrics.EventsDuplicate.Inc()
		g.logger.Debug("duplicate event dropped", "event_id", event.ID, "recipient", event.RecipientID)
		return
	}

	now := g.now()
	s := g.loadOrCreate(ctx, event.RecipientID, now)

	if event.Type == EventUnsupported {
		g.recordInbound(ctx, s, "[contenido no soportado]", now)
		// No automated interjection while a human owns the conversation
		// or the session is closed; the content is recorded and forwarded
		// to the live feed either way.
		if !g.arbiter.IsHumanActive(event.RecipientID) && s.Stage != session.StageClosed {
			g.enqueueOutbound(ctx, s, transport.Text(
				"Por ahora solo puedo leer texto y botones. Un asesor revisará lo que enviaste."), now)
		}
		g.persist(s)
		return
	}

	g.recordInbound(ctx, s, event.Text, now)

	result := g.engine.HandleTurn(ctx, s, dialog.Input{
		Text:        event.Text,
		SelectionID: event.SelectionID,
		Referral:    event.Referral,
		Order:       event.Order,
	})
	g.metrics.TurnsProcessed.Inc()

	if result.HandoffOpened {
		g.metrics.Handoffs.Inc()
		g.publishHandoff(s, true)
	}
	if result.HandoffClosed {
		g.publishHandoff(s, false)
	}

	for _, msg := range result.Messages {
		g.enqueueOutbound(ctx, s, msg, now)
	}

	if result.ResetSession {
		if err := g.repo.Clear(s.ID); err != nil {
			g.logger.Error("session clear failed", "recipient", s.ID, "error", err)
		}
		g.feed.Publish(feed.Event{Kind: feed.KindSession, RecipientID: s.ID, Stage: string(session.StageDiscovery)})
		return
	}

	g.persist(s)
	g.feed.Publish(feed.Event{Kind: feed.KindSession, RecipientID: s.ID, Stage: string(s.Stage)})
}

// loadOrCreate fetches the recipient's session; the repository creates
// it when absent. A freshly created session is pre-filled from the CRM
// exactly once.
func (g *Gateway) loadOrCreate(ctx context.Context, recipientID string, now time.Time) *session.Session {
	s, created, err := g.repo.Get(recipientID, now)
	if err != nil {
		g.logger.Error("session load failed", "recipient", recipientID, "error", err)
	}
	if s == nil {
		s = session.New(recipientID)
		created = true
	}
	if created {
		s.Meta.Origin = "organic"
		record, err := g.crm.LookupProfile(ctx, recipientID)
		if err != nil {
			g.logger.Warn("crm lookup failed", "recipient", recipientID, "error", err)
		} else {
			g.engine.PrefillFromProfile(s, record)
		}
	}
	return s
}

func (g *Gateway) persist(s *session.Session) {
	if err := g.repo.Persist(s); err != nil {
		g.logger.Error("session persist failed", "recipient", s.ID, "error", err)
	}
}

func (g *Gateway) recordInbound(ctx context.Context, s *session.Session, text string, now time.Time) {
	s.AppendHistory(session.RoleUser, text, now)
	g.saveLedger(ctx, s.ID, session.RoleUser, string(transport.KindText), text, now)
	g.feed.Publish(feed.Event{
		Kind:        feed.KindMessage,
		RecipientID: s.ID,
		Role:        session.RoleUser,
		Text:        text,
		Stage:       string(s.Stage),
	})
}

// enqueueOutbound hands the reply to the dispatcher and records it. A
// rejected enqueue (closed dispatcher or full queue) is never recorded;
// a message the transport later rejects is reconciled by OnSent with a
// system-role marker.
func (g *Gateway) enqueueOutbound(ctx context.Context, s *session.Session, msg transport.Message, now time.Time) {
	if !g.dispatcher.Enqueue(s.ID, msg) {
		g.metrics.SendsFailed.Inc()
		g.logger.Error("outbound enqueue rejected", "recipient", s.ID, "kind", msg.Kind)
		return
	}
	preview := msg.Preview()
	s.AppendHistory(session.RoleBot, preview, now)
	g.saveLedger(ctx, s.ID, session.RoleBot, string(msg.Kind), preview, now)
	g.feed.Publish(feed.Event{
		Kind:        feed.KindMessage,
		RecipientID: s.ID,
		Role:        session.RoleBot,
		Text:        preview,
		Stage:       string(s.Stage),
	})
}

func (g *Gateway) saveLedger(ctx context.Context, recipientID, role, kind, content string, now time.Time) {
	err := g.ledger.SaveEntry(ctx, &store.Entry{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Role:        role,
		Kind:        kind,
		Content:     content,
		CreatedAt:   now,
	})
	if err != nil {
		g.logger.Error("ledger write failed", "recipient", recipientID, "error", err)
	}
}

func (g *Gateway) publishHandoff(s *session.Session, active bool) {
	g.feed.Publish(feed.Event{
		Kind:        feed.KindHandoff,
		RecipientID: s.ID,
		HumanActive: active,
		Stage:       string(s.Stage),
	})
}

// OnSent is the dispatcher delivery callback. A failed delivery is
// reconciled into the conversation as a system-role marker so the
// console never shows a rejected message as plainly delivered.
func (g *Gateway) OnSent(job dispatch.Job, ok bool) {
	if ok {
		g.metrics.SendsOK.Inc()
		return
	}
	g.metrics.SendsFailed.Inc()

	lock := g.lockFor(job.RecipientID)
	lock.Lock()
	defer lock.Unlock()

	now := g.now()
	s, created, err := g.repo.Get(job.RecipientID, now)
	if err != nil || s == nil {
		return
	}
	if created {
		// The session expired between enqueue and delivery; a failure
		// marker must not materialize a fresh one.
		_ = g.repo.Clear(job.RecipientID)
		return
	}

	marker := "No se pudo entregar: " + job.Message.Preview()
	s.AppendHistory(session.RoleSystem, marker, now)
	g.persist(s)
	g.saveLedger(context.Background(), job.RecipientID, session.RoleSystem, string(job.Message.Kind), marker, now)
	g.feed.Publish(feed.Event{
		Kind:        feed.KindMessage,
		RecipientID: job.RecipientID,
		Role:        session.RoleSystem,
		Text:        marker,
		Stage:       string(s.Stage),
	})
}

// SweepSessions removes expired sessions and reports the count.
func (g *Gateway) SweepSessions(now time.Time) int {
	removed := g.repo.Sweep(now)
	if removed > 0 {
		g.metrics.SessionsExpired.Add(float64(removed))
		g.logger.Info("session sweep", "removed", removed)
	}
	return removed
}

// VerifyHandler answers the channel's webhook subscription challenge.
func (g *Gateway) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		if mode == "subscribe" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.VerifyToken)) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(q.Get("hub.challenge")))
			return
		}
		g.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "forbidden", http.StatusForbidden)
	}
}

// WebhookHandler consumes inbound payloads. The channel retries
// non-2xx responses, so parse failures are logged and acknowledged.
func (g *Gateway) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			g.logger.Error("webhook body read failed", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		events, discarded, err := ParseWebhook(body)
		if err != nil {
			g.logger.Error("webhook parse failed", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		for range discarded {
			g.metrics.EventsDiscarded.Inc()
		}

		for _, event := range events {
			g.HandleEvent(r.Context(), event)
		}
		w.WriteHeader(http.StatusOK)
	}
}
