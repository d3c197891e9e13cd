// ABOUTME: Chi routes and handlers for the operator console.
// ABOUTME: JSON request/response envelopes plus the WebSocket feed stream.

package console

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campoverde/agrobot/internal/feed"
	"github.com/campoverde/agrobot/internal/gateway"
	"github.com/campoverde/agrobot/internal/store"
	"github.com/campoverde/agrobot/internal/transport"
)

const (
	defaultConversationLimit = 50
	defaultHistoryLimit      = 200
)

// Service is the operator surface the console fronts. *gateway.Gateway
// implements it.
type Service interface {
	Conversations(ctx context.Context, limit int) ([]*store.ConversationSummary, error)
	History(ctx context.Context, recipientID string, limit int) ([]*store.Entry, error)
	State(ctx context.Context, recipientID string) (*gateway.ConversationState, error)
	SendAsOperator(ctx context.Context, recipientID string, msg transport.Message) error
	SetHandoff(ctx context.Context, recipientID string, active bool) error
	Subscribe(ctx context.Context) (<-chan feed.Event, string)
}

// Server serves the console API.
type Server struct {
	service Service
	token   string
	logger  *slog.Logger
}

// New creates the console server with a static bearer token.
func New(service Service, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		token:   token,
		logger:  logger.With("component", "console"),
	}
}

// Routes mounts the console API under /console/api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/console/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/conversations", s.listConversations)
			r.Route("/conversations/{id}", func(r chi.Router) {
				r.Get("/messages", s.history)
				r.Get("/state", s.state)
				r.Post("/send", s.send)
				r.Post("/media", s.sendMedia)
				r.Post("/handoff", s.handoff)
			})
		})
		r.With(s.requireAuthOrQuery).Get("/feed", s.feedSocket)
	})
	return r
}

// requireAuth checks the static bearer token in the Authorization
// header.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == r.Header.Get("Authorization") {
			token = ""
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuthOrQuery additionally accepts a token query parameter.
// Browser WebSocket clients cannot set headers, so the feed endpoint
// alone takes the credential in the URL; the other routes never do.
func (s *Server) requireAuthOrQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultConversationLimit)
	conversations, err := s.service.Conversations(r.Context(), limit)
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryLimit(r, defaultHistoryLimit)
	entries, err := s.service.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history read failed", "recipient", id, "error", err)
		writeError(w, http.StatusInternalServerError, "reading history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": entries})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.service.State(r.Context(), id)
	if errors.Is(err, gateway.ErrUnknownConversation) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := s.service.SendAsOperator(r.Context(), id, transport.Text(req.Text))
	if errors.Is(err, gateway.ErrUnknownConversation) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		s.logger.Error("operator send failed", "recipient", id, "error", err)
		writeError(w, http.StatusInternalServerError, "sending message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type mediaRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
	MIMEType string `json:"mime_type"`
}

func (s *Server) sendMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req mediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	msg := transport.Message{
		Kind: transport.KindMedia,
		Media: &transport.Media{
			URL:      req.URL,
			Filename: req.Filename,
			Caption:  req.Caption,
			MIMEType: req.MIMEType,
		},
	}
	err := s.service.SendAsOperator(r.Context(), id, msg)
	if errors.Is(err, gateway.ErrUnknownConversation) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		s.logger.Error("operator media send failed", "recipient", id, "error", err)
		writeError(w, http.StatusInternalServerError, "sending media")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type handoffRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handoff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	err := s.service.SetHandoff(r.Context(), id, req.Active)
	if errors.Is(err, gateway.ErrUnknownConversation) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "updating handoff")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"human_active": req.Active})
}

// feedSocket streams broadcaster events over a WebSocket until the
// client disconnects.
func (s *Server) feedSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin enforcement is the proxy's job
	})
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()
	events, subID := s.service.Subscribe(ctx)
	s.logger.Debug("feed subscriber connected", "sub_id", subID)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.logger.Debug("feed subscriber dropped", "sub_id", subID, "error", err)
				return
			}
		}
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
