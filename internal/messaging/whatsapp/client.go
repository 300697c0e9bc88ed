// Package whatsapp talks to the WhatsApp Cloud API: outbound messages
// through the Graph API and inbound messages through the webhook.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

var tracer = otel.Tracer("cityhospital.appointment-bot.whatsapp")

const (
	defaultBaseURL     = "https://graph.facebook.com/v18.0"
	defaultUserAgent   = "cityhospital-appointment-bot/1.0"
	signatureHeader    = "X-Hub-Signature-256"
	signaturePrefix    = "sha256="
	messagingProduct   = "whatsapp"
	defaultTemplateLng = "en"
)

var (
	// ErrInvalidSignature is returned when a webhook body does not match its signature.
	ErrInvalidSignature = errors.New("whatsapp: invalid webhook signature")
	// ErrUnsupportedReply is returned for reply kinds the client cannot render.
	ErrUnsupportedReply = errors.New("whatsapp: unsupported reply kind")
)

// Config controls how the client behaves.
type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	AppSecret     string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
	UserAgent     string
}

// Client sends messages from one WhatsApp business phone number.
type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	appSecret     string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	logger        *logging.Logger
	userAgent     string
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number id is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:       baseURL,
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		accessToken:   cfg.AccessToken,
		appSecret:     cfg.AppSecret,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		backoff:       backoff,
		logger:        logger,
		userAgent:     userAgent,
	}, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) (*SendResponse, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("whatsapp: text body is required")
	}
	return c.send(ctx, "text", outbound{
		To:   to,
		Type: "text",
		Text: &textBody{Body: clip(body, maxTextBody)},
	})
}

// SendButtons sends up to three quick-reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []conversation.Button) (*SendResponse, error) {
	if len(buttons) == 0 {
		return nil, errors.New("whatsapp: at least one button is required")
	}
	if len(buttons) > conversation.MaxButtons {
		buttons = buttons[:conversation.MaxButtons]
	}
	out := make([]replyButton, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, replyButton{
			Type:  "reply",
			Reply: buttonReply{ID: b.ID, Title: clip(b.Title, maxButtonTitle)},
		})
	}
	return c.send(ctx, "buttons", outbound{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   interactiveText{Text: clip(body, maxInteractiveBody)},
			Action: interactiveAction{Buttons: out},
		},
	})
}

// SendList sends an interactive list. Lists longer than the API allows must
// be split by the caller.
func (c *Client) SendList(ctx context.Context, to string, list conversation.ListMessage) (*SendResponse, error) {
	sections := make([]listSection, 0, len(list.Sections))
	total := 0
	for _, s := range list.Sections {
		rows := make([]listRow, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, listRow{
				ID:          r.ID,
				Title:       clip(r.Title, maxRowTitle),
				Description: clip(r.Description, maxRowDescription),
			})
		}
		total += len(rows)
		sections = append(sections, listSection{Title: clip(s.Title, maxSectionTitle), Rows: rows})
	}
	if total == 0 {
		return nil, errors.New("whatsapp: list has no rows")
	}
	if total > conversation.MaxListRows {
		return nil, fmt.Errorf("whatsapp: list has %d rows, limit is %d", total, conversation.MaxListRows)
	}
	msg := &interactive{
		Type:   "list",
		Body:   interactiveText{Text: clip(list.Body, maxInteractiveBody)},
		Action: interactiveAction{Button: clip(list.ButtonText, maxButtonTitle), Sections: sections},
	}
	if list.Header != "" {
		msg.Header = &header{Type: "text", Text: clip(list.Header, maxHeaderText)}
	}
	return c.send(ctx, "list", outbound{To: to, Type: "interactive", Interactive: msg})
}

// SendTemplate sends a pre-approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, params ...string) (*SendResponse, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("whatsapp: template name is required")
	}
	if language == "" {
		language = defaultTemplateLng
	}
	tpl := &template{Name: name, Language: templateLanguage{Code: language}}
	if len(params) > 0 {
		component := templateComponent{Type: "body"}
		for _, p := range params {
			component.Parameters = append(component.Parameters, templateParameter{Type: "text", Text: p})
		}
		tpl.Components = []templateComponent{component}
	}
	return c.send(ctx, "template", outbound{To: to, Type: "template", Template: tpl})
}

// SendReply renders an engine reply. It satisfies conversation.ReplyMessenger.
func (c *Client) SendReply(ctx context.Context, to string, reply conversation.Reply) error {
	var err error
	switch reply.Kind {
	case conversation.ReplyText:
		_, err = c.SendText(ctx, to, reply.Text)
	case conversation.ReplyButtons:
		_, err = c.SendButtons(ctx, to, reply.Text, reply.Buttons)
	case conversation.ReplyList:
		if reply.List == nil {
			return fmt.Errorf("%w: list reply without list", ErrUnsupportedReply)
		}
		_, err = c.SendList(ctx, to, *reply.List)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedReply, reply.Kind)
	}
	return err
}

// MarkRead marks an inbound message as read, which shows the blue ticks.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return nil
	}
	body, err := json.Marshal(readReceipt{
		MessagingProduct: messagingProduct,
		Status:           "read",
		MessageID:        messageID,
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal read receipt: %w", err)
	}
	_, err = c.invoke(ctx, body)
	return err
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw body.
// Without an app secret every body is accepted.
func (c *Client) VerifySignature(signature string, payload []byte) error {
	return VerifySignature(c.appSecret, signature, payload)
}

// VerifySignature checks a "sha256=<hex>" HMAC of payload keyed by secret.
func VerifySignature(secret, signature string, payload []byte) error {
	if secret == "" {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrInvalidSignature
	}
	given, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), given) {
		return ErrInvalidSignature
	}
	return nil
}

func (c *Client) send(ctx context.Context, kind string, msg outbound) (*SendResponse, error) {
	ctx, span := tracer.Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.kind", kind))

	if strings.TrimSpace(msg.To) == "" {
		return nil, errors.New("whatsapp: recipient is required")
	}
	msg.MessagingProduct = messagingProduct
	msg.RecipientType = "individual"
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal %s message: %w", kind, err)
	}
	data, err := c.invoke(ctx, body)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("whatsapp send failed", "kind", kind, "to", logging.MaskPhone(msg.To), "error", err)
		return nil, err
	}
	var resp SendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("whatsapp: decode response: %w", err)
	}
	c.logger.Debug("whatsapp message sent", "kind", kind, "to", logging.MaskPhone(msg.To), "message_id", resp.MessageID())
	return &resp, nil
}

func (c *Client) invoke(ctx context.Context, body []byte) ([]byte, error) {
	url := c.baseURL + "/" + c.phoneNumberID + "/messages"
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("whatsapp: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("whatsapp: http error: %w", err)
			}
			lastErr = err
			c.logRetry(attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("whatsapp: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("whatsapp: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(attempt int, status int, err error) {
	c.logger.Warn("whatsapp retry",
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
