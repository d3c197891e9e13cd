// ABOUTME: The dialogue engine: one turn in, session mutation plus outbound replies out.
// ABOUTME: Applies intent priority, the pending-slot guard, and stage transitions.

package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campoverde/agrobot/internal/alerts"
	"github.com/campoverde/agrobot/internal/collab"
	"github.com/campoverde/agrobot/internal/handoff"
	"github.com/campoverde/agrobot/internal/session"
	"github.com/campoverde/agrobot/internal/transport"
)

// Config tunes the engine.
type Config struct {
	// FreshnessWindow suppresses re-issuing a prompt that was just sent
	// and, once elapsed, stops a stale pending slot from blocking other
	// intents.
	FreshnessWindow time.Duration
	// HandoffDuration is how long a human window stays open.
	HandoffDuration time.Duration
	// CurrentCampaign is the active sowing season; a differing stored
	// campaign is re-asked.
	CurrentCampaign string
	// SmartAnswers enables the AI collaborator for unmatched questions
	// once the profile is complete.
	SmartAnswers bool
}

// Input is one normalized inbound turn.
type Input struct {
	Text        string
	SelectionID string             // button/list reply id, empty for free text
	Referral    string             // referral source when the event carried one
	Order       []session.LineItem // structured cart from the channel, if any
}

// Result is what the gateway does with a completed turn.
type Result struct {
	Messages      []transport.Message
	HandoffOpened bool
	HandoffClosed bool
	ResetSession  bool
}

// Engine drives the slot-filling conversation. It mutates the session
// it is handed; the caller serializes turns per recipient and persists
// afterwards.
type Engine struct {
	cfg      Config
	arbiter  *handoff.Arbiter
	quotes   *collab.QuoteService
	crm      collab.CRM
	answerer collab.Answerer
	alerts   alerts.Publisher
	logger   *slog.Logger

	now func() time.Time
}

// New creates the engine. crm, answerer, and alertsPub may be the
// disabled implementations but not nil.
func New(cfg Config, arbiter *handoff.Arbiter, quotes *collab.QuoteService,
	crm collab.CRM, answerer collab.Answerer, alertsPub alerts.Publisher,
	logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		arbiter:  arbiter,
		quotes:   quotes,
		crm:      crm,
		answerer: answerer,
		alerts:   alertsPub,
		logger:   logger.With("component", "dialog"),
		now:      time.Now,
	}
}

// HandleTurn processes one inbound turn for s.
func (e *Engine) HandleTurn(ctx context.Context, s *session.Session, in Input) Result {
	now := e.now()
	text := in.Text
	if in.SelectionID != "" {
		text = in.SelectionID
	}

	if in.Referral != "" && s.Meta.Referral == "" {
		s.Meta.Referral = in.Referral
		s.Meta.Origin = "referral"
	}

	// Human window: automation is suspended except for the reserved
	// resume keyword.
	if e.arbiter.IsHumanActive(s.ID) {
		if !IsResumeKeyword(text) {
			return Result{}
		}
		e.arbiter.DeactivateHuman(s.ID)
		result := Result{HandoffClosed: true}
		result.Messages = append(result.Messages,
			transport.Text("Listo, el asistente automático está activo de nuevo. 🌱"))
		s.Reopen(nextUnfilledSlot(s, e.cfg.CurrentCampaign) != "")
		result.Messages = append(result.Messages, e.advance(s, now)...)
		return result
	}

	// A user message reopens a closed session without resetting the
	// already collected slots.
	if s.Closed() {
		s.Reopen(nextUnfilledSlot(s, e.cfg.CurrentCampaign) != "")
	}

	if len(in.Order) > 0 {
		return e.checkout(ctx, s, in.Order, now)
	}

	switch DetectIntent(text) {
	case IntentHuman:
		return e.requestHuman(ctx, s, now)
	case IntentResume:
		result := Result{Messages: []transport.Message{
			transport.Text("El asistente ya está activo. ¿En qué te ayudo?"),
		}}
		result.Messages = append(result.Messages, e.advance(s, now)...)
		return result
	case IntentRestart:
		return Result{
			ResetSession: true,
			Messages: []transport.Message{
				transport.Text("Listo, reiniciamos la conversación. Escríbeme *hola* para empezar de nuevo."),
			},
		}
	case IntentCart:
		items := ParseCartText(in.Text)
		if len(items) > 0 {
			return e.checkout(ctx, s, items, now)
		}
	}

	// Pending slot answer outranks the remaining intents.
	if s.Pending != "" {
		if done, result := e.handlePending(s, text, now); done {
			return result
		}
	}

	return e.handleGeneral(ctx, s, text, now)
}

// handlePending applies spec'd pending-slot handling: a fresh prompt
// either consumes the answer or re-prompts with guidance; a stale or
// inconsistent pending slot is cleared so other intents can be served.
func (e *Engine) handlePending(s *session.Session, text string, now time.Time) (bool, Result) {
	// Drift between pending and lastPrompt cannot happen through
	// SetPending, but a snapshot from an older build might carry it.
	if s.Pending != s.LastPrompt {
		s.ClearPending()
		return false, Result{}
	}

	if ok := e.fillSlot(s, s.Pending, text); ok {
		s.ClearPending()
		return true, Result{Messages: e.advance(s, now)}
	}

	if session.PromptIsStale(now, s.LastPromptAt, e.cfg.FreshnessWindow) {
		s.ClearPending()
		return false, Result{}
	}

	return true, Result{Messages: []transport.Message{correctiveFor(s, s.Pending)}}
}

// fillSlot parses text for the slot and stores the value on success.
func (e *Engine) fillSlot(s *session.Session, slot session.SlotKey, text string) bool {
	// Interactive replies arrive as "region:santa cruz" style ids.
	if v, ok := selectionValue(text, string(slot)); ok {
		text = v
	}
	switch slot {
	case session.SlotName:
		if name, ok := parseName(text); ok {
			s.Slots.Name = name
			return true
		}
	case session.SlotRegion:
		if region, ok := parseRegion(text); ok {
			if region != s.Slots.Region {
				s.Slots.Subregion = ""
			}
			s.Slots.Region = region
			return true
		}
	case session.SlotSubregion:
		if zone, ok := parseSubregion(s.Slots.Region, text); ok {
			s.Slots.Subregion = zone
			return true
		}
	case session.SlotCrop:
		if found, ok := parseCrops(text); ok {
			s.Slots.Crops = found
			return true
		}
	case session.SlotArea:
		if area, ok := parseArea(text); ok {
			s.Slots.AreaHectares = area
			return true
		}
	case session.SlotCampaign:
		if campaign, ok := parseCampaign(text); ok {
			s.Slots.Campaign = campaign
			return true
		}
	}
	return false
}

// handleGeneral serves the lower-priority intents: greetings, farewell,
// catalog, price, product match, smart answer, and the fallback.
func (e *Engine) handleGeneral(ctx context.Context, s *session.Session, text string, now time.Time) Result {
	switch DetectIntent(text) {
	case IntentGreeting:
		var messages []transport.Message
		if !s.Greeted {
			s.Greeted = true
			messages = append(messages, transport.Text(
				"¡Hola! 👋 Soy el asistente de Campo Verde. Te ayudo con insumos, precios y pedidos para tu campaña."))
		} else {
			messages = append(messages, transport.Text("¡Hola de nuevo! ¿En qué te ayudo?"))
		}
		return Result{Messages: append(messages, e.advance(s, now)...)}

	case IntentFarewell:
		s.Close(now)
		return Result{Messages: []transport.Message{
			transport.Text("¡Gracias por escribirnos! Que tengas una buena campaña. 🌾"),
		}}

	case IntentCatalog:
		return Result{Messages: []transport.Message{e.catalogMessage()}}

	case IntentPrice:
		if p := e.quotes.FindProduct(text); p != nil {
			return Result{Messages: []transport.Message{e.productCard(p)}}
		}
		return Result{Messages: []transport.Message{
			transport.Text("Dime qué producto te interesa y te paso el precio, o escribe *catálogo* para ver todo."),
		}}
	}

	if p := e.quotes.FindProduct(text); p != nil {
		return Result{Messages: []transport.Message{e.productCard(p)}}
	}

	if e.cfg.SmartAnswers && nextUnfilledSlot(s, e.cfg.CurrentCampaign) == "" {
		answer, err := e.answerer.AnswerFreeformQuestion(ctx, text, s)
		if err != nil {
			e.logger.Warn("smart answer failed", "recipient", s.ID, "error", err)
		} else if answer != "" {
			return Result{Messages: []transport.Message{transport.Text(answer)}}
		}
	}

	fallback := transport.Text("No te entendí bien. Puedes escribir *catálogo*, el nombre de un producto, o *asesor* para hablar con una persona.")
	return Result{Messages: append([]transport.Message{fallback}, e.advance(s, now)...)}
}

// requestHuman opens a handoff window and alerts the advisor channel,
// respecting the per-session cooldown.
func (e *Engine) requestHuman(ctx context.Context, s *session.Session, now time.Time) Result {
	e.arbiter.ActivateHuman(s.ID, e.cfg.HandoffDuration)

	if e.arbiter.ShouldAlert(s.ID) {
		s.Meta.HandoffAlertedAt = &now
		e.publishAlert(ctx, s, alerts.KindHandoff, "El cliente pidió hablar con un asesor.")
		e.appendLead(ctx, s, "handoff", "Solicitud de asesor")
	}

	return Result{
		HandoffOpened: true,
		Messages: []transport.Message{
			transport.Text("Te conecto con un asesor. 👩‍🌾 En breve te escribe una persona del equipo.\nCuando quieras volver al asistente, escribe *activar bot*."),
		},
	}
}

// checkout consumes a structured cart: price it, render the quote,
// notify the advisor channel, and close the session.
func (e *Engine) checkout(ctx context.Context, s *session.Session, items []session.LineItem, now time.Time) Result {
	s.Cart = items
	s.Stage = session.StageCheckout
	s.ClearPending()

	var lines []string
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("• %s x %s", item.QuantityText, item.Name))
	}
	summary := "Pedido: " + strings.Join(lines, "; ")

	result := Result{Messages: []transport.Message{
		transport.Text("¡Recibimos tu pedido! 📋\n" + strings.Join(lines, "\n")),
	}}

	// The quote document is best-effort: a failed render degrades to a
	// text-only confirmation.
	if doc, err := e.quotes.BuildQuote(s); err != nil {
		e.logger.Warn("quote build failed", "recipient", s.ID, "error", err)
	} else if path, err := e.quotes.RenderQuote(doc); err != nil {
		e.logger.Warn("quote render failed", "recipient", s.ID, "error", err)
	} else {
		result.Messages = append(result.Messages, transport.Document(
			path,
			fmt.Sprintf("cotizacion-%s.pdf", doc.ID),
			fmt.Sprintf("Cotización referencial por Bs %.2f", doc.Total),
		))
	}

	e.appendLead(ctx, s, "checkout", summary)
	e.upsertProfile(ctx, s)

	e.arbiter.ActivateHuman(s.ID, e.cfg.HandoffDuration)
	result.HandoffOpened = true
	if e.arbiter.ShouldAlert(s.ID) {
		s.Meta.HandoffAlertedAt = &now
		e.publishAlert(ctx, s, alerts.KindLead, summary)
	}

	result.Messages = append(result.Messages, transport.Text(
		"Un asesor te contactará para confirmar precios, stock y entrega. ¡Gracias! 🌱"))
	s.Close(now)
	return result
}

func (e *Engine) productCard(p *collab.Product) transport.Message {
	return transport.Text(fmt.Sprintf("*%s* (%s): Bs %.2f.\nPara pedirlo escribe:\npedido: 1 x %s",
		p.Name, p.Pack, p.Price, p.Name))
}

func (e *Engine) catalogMessage() transport.Message {
	products := e.quotes.Products()
	rows := make([]transport.ListRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, transport.ListRow{
			ID:          "product:" + normalize(p.Name),
			Title:       p.Name,
			Description: fmt.Sprintf("%s — Bs %.2f", p.Pack, p.Price),
		})
	}
	return transport.List(
		"Este es nuestro catálogo. Elige un producto para ver detalles, o arma tu pedido así:\npedido: 3 x Glifomax",
		"Ver productos",
		transport.ListSection{Title: "Productos", Rows: rows},
	)
}

// advance issues the next discovery prompt, or moves to product stage
// when the profile is complete. Re-issuing a still-fresh prompt is
// suppressed.
func (e *Engine) advance(s *session.Session, now time.Time) []transport.Message {
	if s.Stage == session.StageCheckout || s.Closed() {
		return nil
	}

	next := nextUnfilledSlot(s, e.cfg.CurrentCampaign)
	if next == "" {
		if s.Stage == session.StageDiscovery {
			s.Stage = session.StageProduct
			s.ClearPending()
			return []transport.Message{transport.Buttons(
				fmt.Sprintf("¡Gracias %s! Ya tengo tu perfil completo. ¿Qué deseas hacer?", firstName(s.Slots.Name)),
				transport.Button{ID: "intent:catalogo", Title: "Ver catálogo"},
				transport.Button{ID: "intent:precio", Title: "Consultar precio"},
				transport.Button{ID: "intent:asesor", Title: "Hablar con asesor"},
			)}
		}
		return nil
	}

	if s.Pending == next && !session.PromptIsStale(now, s.LastPromptAt, e.cfg.FreshnessWindow) {
		// The same prompt went out moments ago; duplicate delivery or a
		// rapid re-entry must not repeat it.
		return nil
	}

	s.SetPending(next, now)
	return []transport.Message{promptFor(s, next)}
}

// PrefillFromProfile copies a CRM record into empty slots. Called once
// per fresh session.
func (e *Engine) PrefillFromProfile(s *session.Session, record *collab.ProfileRecord) {
	if record == nil {
		return
	}
	if s.Slots.Name == "" {
		s.Slots.Name = record.Name
	}
	if s.Slots.Region == "" {
		s.Slots.Region = record.Region
		s.Slots.Subregion = record.Subregion
	}
	if len(s.Slots.Crops) == 0 {
		s.Slots.Crops = record.Crops
	}
	if s.Slots.AreaHectares == 0 {
		s.Slots.AreaHectares = record.AreaHectares
	}
	if s.Slots.Campaign == "" {
		s.Slots.Campaign = record.Campaign
	}
	s.Meta.PreloadedFromCRM = true
}

func (e *Engine) publishAlert(ctx context.Context, s *session.Session, kind, summary string) {
	err := e.alerts.PublishAlert(ctx, alerts.Alert{
		RecipientID: s.ID,
		Name:        s.Slots.Name,
		Kind:        kind,
		Summary:     summary,
	})
	if err != nil {
		e.logger.Warn("advisor alert failed", "recipient", s.ID, "error", err)
	}
}

func (e *Engine) appendLead(ctx context.Context, s *session.Session, status, summary string) {
	_, err := e.crm.AppendLead(ctx, &collab.Lead{
		Phone:   s.ID,
		Name:    s.Slots.Name,
		Status:  status,
		Summary: summary,
	})
	if err != nil {
		e.logger.Warn("lead append failed", "recipient", s.ID, "error", err)
	}
}

func (e *Engine) upsertProfile(ctx context.Context, s *session.Session) {
	err := e.crm.UpsertProfile(ctx, &collab.ProfileRecord{
		Phone:        s.ID,
		Name:         s.Slots.Name,
		Region:       s.Slots.Region,
		Subregion:    s.Slots.Subregion,
		Crops:        s.Slots.Crops,
		AreaHectares: s.Slots.AreaHectares,
		Campaign:     s.Slots.Campaign,
	})
	if err != nil {
		e.logger.Warn("profile upsert failed", "recipient", s.ID, "error", err)
	}
}
