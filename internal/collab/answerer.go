// ABOUTME: AI collaborator answering freeform questions no structured intent matched.
// ABOUTME: Wraps an OpenAI chat completion with profile context; failures fall back.

package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/campoverde/agrobot/internal/session"
)

// Answerer produces a freeform answer for text the dialogue could not
// match. An empty answer (or an error) means "no answer": the caller
// falls back to the default unmatched-intent message.
type Answerer interface {
	AnswerFreeformQuestion(ctx context.Context, text string, s *session.Session) (string, error)
}

const systemPrompt = `Eres el asistente virtual de una agropecuaria boliviana.
Respondes preguntas de agricultores sobre insumos, cultivos y manejo de campo.
Responde en español, en dos o tres frases, sin inventar precios ni stock.
Si la pregunta no tiene relación con el agro, sugiere amablemente hablar con un asesor.`

// OpenAIAnswerer implements Answerer with a chat completion.
type OpenAIAnswerer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIAnswerer creates the collaborator. model defaults to gpt-4o-mini.
func NewOpenAIAnswerer(apiKey, model string, logger *slog.Logger) *OpenAIAnswerer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIAnswerer{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger.With("component", "answerer"),
	}
}

// AnswerFreeformQuestion asks the model with the user's profile as
// context. The call fails fast so a flaky downstream never blocks the
// conversation.
func (a *OpenAIAnswerer) AnswerFreeformQuestion(ctx context.Context, text string, s *session.Session) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: 220,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleSystem, Content: profileContext(s)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// profileContext summarizes the known slots for the model.
func profileContext(s *session.Session) string {
	if s == nil {
		return "Perfil del cliente: desconocido."
	}
	var b strings.Builder
	b.WriteString("Perfil del cliente:")
	if s.Slots.Name != "" {
		fmt.Fprintf(&b, " nombre %s.", s.Slots.Name)
	}
	if s.Slots.Region != "" {
		fmt.Fprintf(&b, " zona %s", s.Slots.Region)
		if s.Slots.Subregion != "" {
			fmt.Fprintf(&b, " (%s)", s.Slots.Subregion)
		}
		b.WriteString(".")
	}
	if len(s.Slots.Crops) > 0 {
		fmt.Fprintf(&b, " cultivos: %s.", strings.Join(s.Slots.Crops, ", "))
	}
	if s.Slots.AreaHectares > 0 {
		fmt.Fprintf(&b, " superficie: %.1f ha.", s.Slots.AreaHectares)
	}
	return b.String()
}

// NoAnswerer disables the smart-answer mode.
type NoAnswerer struct{}

func (NoAnswerer) AnswerFreeformQuestion(context.Context, string, *session.Session) (string, error) {
	return "", nil
}
