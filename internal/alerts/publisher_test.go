// ABOUTME: Tests for alert envelope construction and the fallback publisher.
// ABOUTME: Broker integration is exercised in deployment, not unit tests.

package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "advisor.handoff.v1", routingKey(KindHandoff))
	assert.Equal(t, "advisor.lead.v1", routingKey(KindLead))
}

func TestEnvelope_Marshal(t *testing.T) {
	env := envelope{
		ID:       "evt-1",
		Type:     routingKey(KindLead),
		Producer: "agrobot",
		Data: Alert{
			RecipientID: "591700001",
			Name:        "Juan Pérez",
			Kind:        KindLead,
			Summary:     "Pedido: 3x Glifomax 20 L",
			Time:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "advisor.lead.v1", decoded["type"])
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "591700001", data["recipient_id"])
	assert.Equal(t, "Pedido: 3x Glifomax 20 L", data["summary"])
}

func TestFallbackPublisher_NoError(t *testing.T) {
	p := NewFallback(slog.Default())
	defer p.Close()

	err := p.PublishAlert(context.Background(), Alert{RecipientID: "591700001", Kind: KindHandoff})
	assert.NoError(t, err)
}
