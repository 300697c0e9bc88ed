package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cityhospital/appointment-bot/internal/events"
)

const businessAccountObject = "whatsapp_business_account"

// Message types the booking flow understands.
const (
	TypeText        = "text"
	TypeInteractive = "interactive"
	TypeButton      = "button"
)

type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         webhookMetadata  `json:"metadata"`
	Contacts         []webhookContact `json:"contacts"`
	Messages         []webhookMessage `json:"messages"`
	Statuses         []webhookStatus  `json:"statuses"`
}

type webhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type      string `json:"type"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

type webhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Inbound is the result of parsing one webhook delivery.
type Inbound struct {
	// Messages the booking flow can act on, in delivery order.
	Messages []events.WhatsAppMessageReceivedV1
	// Ignored counts messages of unsupported types such as media.
	Ignored int
	// Statuses counts delivery receipts, which need no handling.
	Statuses int
}

// ParseWebhook decodes a Cloud API webhook body. Deliveries for other
// objects yield an empty result rather than an error.
func ParseWebhook(body []byte, now time.Time) (Inbound, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Inbound{}, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	var out Inbound
	if env.Object != businessAccountObject {
		return out, nil
	}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			out.Statuses += len(value.Statuses)
			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = strings.TrimSpace(c.Profile.Name)
			}
			for _, m := range value.Messages {
				evt, ok := toEvent(m, now)
				if !ok {
					out.Ignored++
					continue
				}
				evt.ProfileName = names[m.From]
				if evt.ProfileName == "" && len(value.Contacts) == 1 {
					evt.ProfileName = strings.TrimSpace(value.Contacts[0].Profile.Name)
				}
				out.Messages = append(out.Messages, evt)
			}
		}
	}
	return out, nil
}

func toEvent(m webhookMessage, now time.Time) (events.WhatsAppMessageReceivedV1, bool) {
	evt := events.WhatsAppMessageReceivedV1{
		MessageID:  m.ID,
		From:       m.From,
		Type:       m.Type,
		ReceivedAt: parseTimestamp(m.Timestamp, now),
	}
	if m.From == "" {
		return evt, false
	}
	switch m.Type {
	case TypeText:
		if m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
			return evt, false
		}
		evt.Text = m.Text.Body
	case TypeInteractive:
		if m.Interactive == nil {
			return evt, false
		}
		switch {
		case m.Interactive.Type == "list_reply" && m.Interactive.ListReply != nil:
			evt.SelectionID = m.Interactive.ListReply.ID
		case m.Interactive.Type == "button_reply" && m.Interactive.ButtonReply != nil:
			evt.SelectionID = m.Interactive.ButtonReply.ID
		default:
			return evt, false
		}
	case TypeButton:
		// Quick-reply buttons on templates carry their id as the payload.
		if m.Button == nil || m.Button.Payload == "" {
			return evt, false
		}
		evt.SelectionID = m.Button.Payload
	default:
		return evt, false
	}
	return evt, true
}

func parseTimestamp(value string, fallback time.Time) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || sec <= 0 {
		return fallback.UTC()
	}
	return time.Unix(sec, 0).UTC()
}
