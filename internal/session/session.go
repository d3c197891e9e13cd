// ABOUTME: Session model for per-user conversation state.
// ABOUTME: Tracks stage, slot-filling progress, cart, history, and expiry.

package session

import (
	"time"
)

// Stage identifies where a conversation is in its lifecycle.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageProduct   Stage = "product"
	StageCheckout  Stage = "checkout"
	StageClosed    Stage = "closed"
)

// SlotKey identifies one profile field collected during slot filling.
type SlotKey string

const (
	SlotName      SlotKey = "name"
	SlotRegion    SlotKey = "region"
	SlotSubregion SlotKey = "subregion"
	SlotCrop      SlotKey = "crop"
	SlotArea      SlotKey = "area"
	SlotCampaign  SlotKey = "campaign"
)

// Role attribution for history entries.
const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// maxHistory bounds the per-session history log.
const maxHistory = 500

// Slots is the partially filled user profile collected by the dialogue.
type Slots struct {
	Name         string   `json:"name,omitempty"`
	Region       string   `json:"region,omitempty"`
	Subregion    string   `json:"subregion,omitempty"`
	Crops        []string `json:"crops,omitempty"`
	AreaHectares float64  `json:"area_hectares,omitempty"`
	Campaign     string   `json:"campaign,omitempty"`
}

// LineItem is one entry in the session cart.
type LineItem struct {
	Name         string `json:"name"`
	PackSpec     string `json:"pack_spec,omitempty"`
	QuantityText string `json:"quantity_text,omitempty"`
}

// HistoryEntry is one recorded message in the conversation log.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta carries conversation metadata that is not part of slot filling.
type Meta struct {
	Origin           string     `json:"origin,omitempty"`
	Referral         string     `json:"referral,omitempty"`
	UnreadCount      int        `json:"unread_count,omitempty"`
	LastMessage      string     `json:"last_message,omitempty"`
	LastMessageAt    time.Time  `json:"last_message_at,omitzero"`
	PreloadedFromCRM bool       `json:"preloaded_from_crm,omitempty"`
	HandoffAlertedAt *time.Time `json:"handoff_alerted_at,omitempty"`
}

// Session is the conversation state for one external user id.
// It is exclusively owned by the orchestration core; mutation for a given
// id is serialized by the gateway, so the struct itself carries no locks.
type Session struct {
	ID      string  `json:"id"`
	Greeted bool    `json:"greeted"`
	Stage   Stage   `json:"stage"`
	Pending SlotKey `json:"pending,omitempty"`

	Slots Slots      `json:"slots"`
	Cart  []LineItem `json:"cart,omitempty"`

	LastPrompt   SlotKey   `json:"last_prompt,omitempty"`
	LastPromptAt time.Time `json:"last_prompt_at,omitzero"`

	Meta    Meta           `json:"meta"`
	History []HistoryEntry `json:"history,omitempty"`

	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// New returns a fresh discovery-stage session for the given id.
func New(id string) *Session {
	return &Session{
		ID:    id,
		Stage: StageDiscovery,
	}
}

// SetPending marks slot as the single awaited slot. Pending, LastPrompt,
// and LastPromptAt are always written together so they cannot drift.
func (s *Session) SetPending(slot SlotKey, now time.Time) {
	s.Pending = slot
	s.LastPrompt = slot
	s.LastPromptAt = now
}

// ClearPending clears the awaited slot and its prompt bookkeeping in
// the same transition.
func (s *Session) ClearPending() {
	s.Pending = ""
	s.LastPrompt = ""
	s.LastPromptAt = time.Time{}
}

// Touch renews the sliding TTL.
func (s *Session) Touch(ttl time.Duration, now time.Time) {
	s.ExpiresAt = now.Add(ttl)
}

// Expired reports whether the session's TTL has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// AppendHistory records a message in the bounded conversation log and
// updates the last-message metadata.
func (s *Session) AppendHistory(role, text string, now time.Time) {
	s.History = append(s.History, HistoryEntry{Role: role, Text: text, Timestamp: now})
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.Meta.LastMessage = text
	s.Meta.LastMessageAt = now
	if role == RoleUser {
		s.Meta.UnreadCount++
	}
}

// MarkRead resets the operator-facing unread counter.
func (s *Session) MarkRead() {
	s.Meta.UnreadCount = 0
}

// Close moves the session to the closed stage. Closed sessions accept no
// automated replies until a user message reopens them.
func (s *Session) Close(now time.Time) {
	s.Stage = StageClosed
	s.ClosedAt = &now
	s.ClearPending()
}

// Reopen re-enters active handling after closure without resetting the
// already collected slots: back to discovery when slots are missing,
// otherwise straight to product.
func (s *Session) Reopen(missingSlots bool) {
	if s.Stage != StageClosed {
		return
	}
	s.ClosedAt = nil
	if missingSlots {
		s.Stage = StageDiscovery
	} else {
		s.Stage = StageProduct
	}
}

// Closed reports whether the session is in the closed stage.
func (s *Session) Closed() bool {
	return s.Stage == StageClosed
}

// PromptIsStale reports whether a prompt issued at lastPromptAt is older
// than the freshness threshold. While fresh, re-issuing the same prompt
// is suppressed; once stale, the pending slot no longer blocks other
// intents from being served.
func PromptIsStale(now, lastPromptAt time.Time, threshold time.Duration) bool {
	if lastPromptAt.IsZero() {
		return true
	}
	return now.Sub(lastPromptAt) > threshold
}
