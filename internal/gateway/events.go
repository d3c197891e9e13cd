// ABOUTME: Webhook payload parsing: channel JSON in, normalized events out.
// ABOUTME: Events without a recipient or id are reported for discarding.

package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/campoverde/agrobot/internal/session"
)

// EventType classifies a normalized inbound event.
type EventType string

const (
	EventText        EventType = "text"
	EventSelection   EventType = "selection" // button or list reply
	EventOrder       EventType = "order"     // structured cart
	EventUnsupported EventType = "unsupported"
)

// Event is one normalized inbound message.
type Event struct {
	ID          string
	RecipientID string
	Type        EventType
	Text        string
	SelectionID string
	Referral    string
	Order       []session.LineItem
	Timestamp   time.Time
}

// webhookPayload mirrors the channel's webhook envelope. Only the
// fields the engine consumes are mapped.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Order *struct {
		ProductItems []struct {
			ProductRetailerID string `json:"product_retailer_id"`
			Quantity          int    `json:"quantity"`
		} `json:"product_items"`
	} `json:"order"`
	Referral *struct {
		SourceID  string `json:"source_id"`
		SourceURL string `json:"source_url"`
		Headline  string `json:"headline"`
	} `json:"referral"`
}

// ParseWebhook extracts normalized events from a webhook body. Status
// callbacks and other non-message changes yield no events. discarded
// counts messages that could not be attributed to a recipient.
func ParseWebhook(body []byte) (events []Event, discarded int, err error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("decoding webhook payload: %w", err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				event, ok := normalizeMessage(msg)
				if !ok {
					discarded++
					continue
				}
				events = append(events, event)
			}
		}
	}
	return events, discarded, nil
}

func normalizeMessage(msg webhookMessage) (Event, bool) {
	if msg.From == "" || msg.ID == "" {
		return Event{}, false
	}

	event := Event{
		ID:          msg.ID,
		RecipientID: msg.From,
		Timestamp:   parseUnixSeconds(msg.Timestamp),
	}
	if msg.Referral != nil {
		event.Referral = msg.Referral.SourceID
		if event.Referral == "" {
			event.Referral = msg.Referral.Headline
		}
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return Event{}, false
		}
		event.Type = EventText
		event.Text = msg.Text.Body
	case "interactive":
		if msg.Interactive == nil {
			return Event{}, false
		}
		event.Type = EventSelection
		switch {
		case msg.Interactive.ButtonReply != nil:
			event.SelectionID = msg.Interactive.ButtonReply.ID
			event.Text = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			event.SelectionID = msg.Interactive.ListReply.ID
			event.Text = msg.Interactive.ListReply.Title
		default:
			return Event{}, false
		}
	case "order":
		if msg.Order == nil {
			return Event{}, false
		}
		event.Type = EventOrder
		for _, item := range msg.Order.ProductItems {
			event.Order = append(event.Order, session.LineItem{
				Name:         item.ProductRetailerID,
				QuantityText: strconv.Itoa(item.Quantity),
			})
		}
	default:
		// Media, stickers, reactions: acknowledged but not understood.
		event.Type = EventUnsupported
	}
	return event, true
}

func parseUnixSeconds(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
