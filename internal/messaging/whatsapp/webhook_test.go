package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "1098"},
        "contacts": [{"wa_id": "919876543210", "profile": {"name": "Asha"}}],
        "messages": [{
          "from": "919876543210",
          "id": "wamid.text",
          "timestamp": "1704096000",
          "type": "text",
          "text": {"body": "I want to book"}
        }]
      }
    }]
  }]
}`

func TestParseWebhookText(t *testing.T) {
	in, err := ParseWebhook([]byte(textWebhook), time.Now())
	require.NoError(t, err)
	require.Len(t, in.Messages, 1)

	msg := in.Messages[0]
	assert.Equal(t, "wamid.text", msg.MessageID)
	assert.Equal(t, "919876543210", msg.From)
	assert.Equal(t, "Asha", msg.ProfileName)
	assert.Equal(t, "I want to book", msg.Text)
	assert.Equal(t, time.Unix(1704096000, 0).UTC(), msg.ReceivedAt)
}

func TestParseWebhookInteractiveReplies(t *testing.T) {
	body := `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "contacts": [{"wa_id": "911", "profile": {"name": "Ravi"}}, {"wa_id": "922", "profile": {"name": "Meera"}}],
    "messages": [
      {"from": "911", "id": "m1", "type": "interactive",
       "interactive": {"type": "list_reply", "list_reply": {"id": "dr_001", "title": "Dr. Rajesh Kumar"}}},
      {"from": "922", "id": "m2", "type": "interactive",
       "interactive": {"type": "button_reply", "button_reply": {"id": "book", "title": "Book"}}},
      {"from": "922", "id": "m3", "type": "button", "button": {"payload": "menu", "text": "Menu"}}
    ]
  }}]}]
}`
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	in, err := ParseWebhook([]byte(body), now)
	require.NoError(t, err)
	require.Len(t, in.Messages, 3)

	assert.Equal(t, "dr_001", in.Messages[0].SelectionID)
	assert.Equal(t, "Ravi", in.Messages[0].ProfileName)
	assert.Equal(t, now, in.Messages[0].ReceivedAt)
	assert.Equal(t, "book", in.Messages[1].SelectionID)
	assert.Equal(t, "Meera", in.Messages[1].ProfileName)
	assert.Equal(t, "menu", in.Messages[2].SelectionID)
}

func TestParseWebhookIgnoresUnsupported(t *testing.T) {
	body := `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "messages": [
      {"from": "911", "id": "img", "type": "image"},
      {"from": "911", "id": "blank", "type": "text", "text": {"body": "   "}},
      {"from": "911", "id": "odd", "type": "interactive", "interactive": {"type": "nfm_reply"}}
    ],
    "statuses": [{"id": "wamid.out", "status": "delivered", "recipient_id": "911"}]
  }}]}]
}`
	in, err := ParseWebhook([]byte(body), time.Now())
	require.NoError(t, err)
	assert.Empty(t, in.Messages)
	assert.Equal(t, 3, in.Ignored)
	assert.Equal(t, 1, in.Statuses)
}

func TestParseWebhookOtherObject(t *testing.T) {
	in, err := ParseWebhook([]byte(`{"object":"page","entry":[]}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, in.Messages)
}

func TestParseWebhookMalformed(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"object":`), time.Now())
	assert.Error(t, err)
}
