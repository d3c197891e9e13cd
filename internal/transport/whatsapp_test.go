// ABOUTME: Tests for the WhatsApp transport client and payload building.
// ABOUTME: Uses httptest to validate wire shapes, auth headers, and failure handling.

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhatsAppClient_Send_Text(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWhatsAppClient(srv.URL, "12345", "secret-token", nil)
	err := client.Send(context.Background(), "591700001", Text("hola"))
	require.NoError(t, err)

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "591700001", got["to"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, map[string]any{"body": "hola"}, got["text"])
}

func TestWhatsAppClient_Send_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewWhatsAppClient(srv.URL, "12345", "tok", nil)
	err := client.Send(context.Background(), "591700001", Text("hola"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestBuildPayload_Buttons(t *testing.T) {
	msg := Buttons("¿Qué deseas?",
		Button{ID: "catalogo", Title: "Ver catálogo"},
		Button{ID: "asesor", Title: "Hablar con asesor"},
	)

	payload, err := buildPayload("591700001", msg)
	require.NoError(t, err)
	assert.Equal(t, "interactive", payload["type"])
	interactive := payload["interactive"].(map[string]any)
	assert.Equal(t, "button", interactive["type"])
	action := interactive["action"].(map[string]any)
	assert.Len(t, action["buttons"], 2)
}

func TestBuildPayload_Buttons_TooMany(t *testing.T) {
	msg := Buttons("pick",
		Button{ID: "a", Title: "A"}, Button{ID: "b", Title: "B"},
		Button{ID: "c", Title: "C"}, Button{ID: "d", Title: "D"},
	)

	_, err := buildPayload("591700001", msg)
	assert.Error(t, err, "channel caps interactive messages at three buttons")
}

func TestBuildPayload_List(t *testing.T) {
	msg := List("Elige tu región", "Ver regiones", ListSection{
		Title: "Regiones",
		Rows: []ListRow{
			{ID: "region:santa-cruz", Title: "Santa Cruz"},
			{ID: "region:beni", Title: "Beni", Description: "Zona ganadera"},
		},
	})

	payload, err := buildPayload("591700001", msg)
	require.NoError(t, err)
	interactive := payload["interactive"].(map[string]any)
	assert.Equal(t, "list", interactive["type"])
	action := interactive["action"].(map[string]any)
	assert.Equal(t, "Ver regiones", action["button"])
}

func TestBuildPayload_List_Empty(t *testing.T) {
	_, err := buildPayload("591700001", Message{Kind: KindList, Text: "vacío"})
	assert.Error(t, err)
}

func TestBuildPayload_Document(t *testing.T) {
	msg := Document("https://files.example.com/cotizacion.pdf", "cotizacion.pdf", "Tu cotización")
	msg.Media.URL = "https://files.example.com/cotizacion.pdf"

	payload, err := buildPayload("591700001", msg)
	require.NoError(t, err)
	assert.Equal(t, "document", payload["type"])
	doc := payload["document"].(map[string]any)
	assert.Equal(t, "cotizacion.pdf", doc["filename"])
	assert.Equal(t, "Tu cotización", doc["caption"])
}

func TestBuildPayload_UnknownKind(t *testing.T) {
	_, err := buildPayload("591700001", Message{Kind: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestMessage_Preview(t *testing.T) {
	assert.Equal(t, "hola", Text("hola").Preview())
	assert.Equal(t, "[archivo] Tu cotización", Document("/tmp/q.pdf", "q.pdf", "Tu cotización").Preview())
	assert.Equal(t, "[archivo]", Message{Kind: KindMedia, Media: &Media{Path: "/tmp/q.pdf"}}.Preview())
}
