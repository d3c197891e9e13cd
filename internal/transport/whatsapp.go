// ABOUTME: WhatsApp Cloud style HTTP client implementing the Sender interface.
// ABOUTME: Builds graph-API JSON payloads and fails fast on non-2xx responses.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WhatsAppClient sends messages through the channel's HTTP graph API.
type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	token         string
	http          *http.Client
	logger        *slog.Logger
}

// NewWhatsAppClient creates a transport client. baseURL is the graph API
// root (e.g. https://graph.facebook.com/v19.0).
func NewWhatsAppClient(baseURL, phoneNumberID, token string, logger *slog.Logger) *WhatsAppClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppClient{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		token:         token,
		http:          &http.Client{Timeout: 15 * time.Second},
		logger:        logger.With("component", "transport"),
	}
}

// Send delivers one message. The conversation must never block on a slow
// downstream, so the request carries the client timeout and any failure
// is returned to the caller for logging.
func (c *WhatsAppClient) Send(ctx context.Context, recipientID string, msg Message) error {
	payload, err := buildPayload(recipientID, msg)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("transport rejected message: status %d: %s", resp.StatusCode, string(detail))
	}

	c.logger.Debug("message delivered", "recipient", recipientID, "kind", msg.Kind)
	return nil
}

// buildPayload converts a Message into the wire shape the graph API expects.
func buildPayload(recipientID string, msg Message) (map[string]any, error) {
	base := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
	}

	switch msg.Kind {
	case KindText:
		base["type"] = "text"
		base["text"] = map[string]any{"body": msg.Text}

	case KindButtons:
		if len(msg.Buttons) == 0 || len(msg.Buttons) > 3 {
			return nil, fmt.Errorf("button message requires 1-3 buttons, got %d", len(msg.Buttons))
		}
		buttons := make([]map[string]any, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]any{"id": b.ID, "title": b.Title},
			})
		}
		base["type"] = "interactive"
		base["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": msg.Text},
			"action": map[string]any{"buttons": buttons},
		}

	case KindList:
		if len(msg.Sections) == 0 {
			return nil, fmt.Errorf("list message requires at least one section")
		}
		sections := make([]map[string]any, 0, len(msg.Sections))
		for _, sec := range msg.Sections {
			rows := make([]map[string]any, 0, len(sec.Rows))
			for _, row := range sec.Rows {
				r := map[string]any{"id": row.ID, "title": row.Title}
				if row.Description != "" {
					r["description"] = row.Description
				}
				rows = append(rows, r)
			}
			sections = append(sections, map[string]any{"title": sec.Title, "rows": rows})
		}
		base["type"] = "interactive"
		base["interactive"] = map[string]any{
			"type":   "list",
			"body":   map[string]any{"text": msg.Text},
			"action": map[string]any{"button": msg.ButtonText, "sections": sections},
		}

	case KindMedia:
		if msg.Media == nil {
			return nil, fmt.Errorf("media message requires media")
		}
		doc := map[string]any{}
		if msg.Media.URL != "" {
			doc["link"] = msg.Media.URL
		} else {
			doc["link"] = msg.Media.Path
		}
		if msg.Media.Filename != "" {
			doc["filename"] = msg.Media.Filename
		}
		if msg.Media.Caption != "" {
			doc["caption"] = msg.Media.Caption
		}
		base["type"] = "document"
		base["document"] = doc

	default:
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	return base, nil
}
