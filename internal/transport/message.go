// ABOUTME: Outbound message model shared by the dispatcher and the transport client.
// ABOUTME: Supports plain text, reply buttons, selection lists, and media cards.

package transport

import "context"

// Kind discriminates the message payload.
type Kind string

const (
	KindText    Kind = "text"
	KindButtons Kind = "buttons"
	KindList    Kind = "list"
	KindMedia   Kind = "media"
)

// Button is one tappable reply option. The channel caps interactive
// messages at three buttons.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row in a list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a section title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// Media points at an image or document to deliver, either by public URL
// or by local file path uploaded out of band.
type Media struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Message is one outbound payload for a recipient.
type Message struct {
	Kind       Kind          `json:"kind"`
	Text       string        `json:"text,omitempty"`
	Buttons    []Button      `json:"buttons,omitempty"`
	ButtonText string        `json:"button_text,omitempty"` // list open button label
	Sections   []ListSection `json:"sections,omitempty"`
	Media      *Media        `json:"media,omitempty"`
}

// Text builds a plain text message.
func Text(body string) Message {
	return Message{Kind: KindText, Text: body}
}

// Buttons builds an interactive reply-button message.
func Buttons(body string, buttons ...Button) Message {
	return Message{Kind: KindButtons, Text: body, Buttons: buttons}
}

// List builds an interactive list message.
func List(body, buttonText string, sections ...ListSection) Message {
	return Message{Kind: KindList, Text: body, ButtonText: buttonText, Sections: sections}
}

// Document builds a media message for a rendered document.
func Document(path, filename, caption string) Message {
	return Message{Kind: KindMedia, Media: &Media{
		Path:     path,
		MIMEType: "application/pdf",
		Filename: filename,
		Caption:  caption,
	}}
}

// Preview returns a short operator-facing summary of the message.
func (m Message) Preview() string {
	switch m.Kind {
	case KindMedia:
		if m.Media != nil && m.Media.Caption != "" {
			return "[archivo] " + m.Media.Caption
		}
		return "[archivo]"
	default:
		return m.Text
	}
}

// Sender delivers one message to one recipient. Implementations return
// an error on delivery failure; the dispatcher treats failures as
// fire-and-forget and does not retry.
type Sender interface {
	Send(ctx context.Context, recipientID string, msg Message) error
}
