// Package webchat is a browser console for staff to hold a booking
// conversation on behalf of a phone number. Messages go through the same
// queue and worker as WhatsApp; replies come back over the websocket.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// ErrNoSession is returned when no console is open for a phone number.
var ErrNoSession = errors.New("webchat: no active session")

// Publisher enqueues conversation events.
type Publisher interface {
	EnqueueEvent(ctx context.Context, evt conversation.Event) error
}

// Handler manages console connections and messages.
type Handler struct {
	publisher Publisher
	logger    *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // patient phone -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// InboundMessage is what the console sends.
type InboundMessage struct {
	Type        string `json:"type"` // "message", "select", "ping"
	Text        string `json:"text,omitempty"`
	SelectionID string `json:"selection_id,omitempty"`
}

// OutboundMessage is what we send to the console.
type OutboundMessage struct {
	Type      string              `json:"type"` // "session", "reply", "pong", "error"
	Phone     string              `json:"phone,omitempty"`
	Text      string              `json:"text,omitempty"`
	Reply     *conversation.Reply `json:"reply,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
}

// NewHandler creates a console handler.
func NewHandler(publisher Publisher, logger *logging.Logger) *Handler {
	if publisher == nil {
		panic("webchat: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[string]*wsConn),
	}
}

// NormalizePhone strips formatting and a leading plus. It returns "" unless
// the result is 8 to 15 digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0, r == ' ', r == '-', r == '(', r == ')':
		default:
			return ""
		}
	}
	if b.Len() < 8 || b.Len() > 15 {
		return ""
	}
	return b.String()
}

// HasSession reports whether a console is open for phone.
func (h *Handler) HasSession(phone string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[phone]
	return ok
}

// HandleWebSocket upgrades GET /chat/ws?phone=&name= and relays messages.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	phone := NormalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "phone parameter must be 8-15 digits"})
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	// Clear the HTTP server's deadlines; consoles stay open for the whole shift.
	_ = conn.SetDeadline(time.Time{})

	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.sessions[phone] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[phone] == wsc {
			delete(h.sessions, phone)
		}
		h.mu.Unlock()
	}()

	_ = wsc.send(OutboundMessage{Type: "session", Phone: phone})
	h.logger.Info("webchat: console opened", "patient", logging.MaskPhone(phone))

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: console closed", "patient", logging.MaskPhone(phone), "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
			continue
		case "message":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
		case "select":
			if strings.TrimSpace(msg.SelectionID) == "" {
				continue
			}
			msg.Text = ""
		default:
			continue
		}

		if err := h.enqueue(r.Context(), phone, name, msg.Text, msg.SelectionID); err != nil {
			_ = wsc.send(OutboundMessage{Type: "error", Text: "Sorry, something went wrong. Please try again."})
		}
	}
}

func (h *Handler) enqueue(ctx context.Context, phone, name, text, selectionID string) error {
	if name == "" {
		name = "User"
	}
	evt := conversation.Event{
		PatientID:   phone,
		PatientName: name,
		Text:        text,
		SelectionID: selectionID,
		MessageID:   "web-" + uuid.NewString(),
	}
	if err := h.publisher.EnqueueEvent(ctx, evt); err != nil {
		h.logger.Error("webchat: failed to enqueue message", "error", err, "patient", logging.MaskPhone(phone))
		return err
	}
	return nil
}

// SendReply pushes an engine reply to the console open for to. It returns
// ErrNoSession when there is none.
func (h *Handler) SendReply(_ context.Context, to string, reply conversation.Reply) error {
	h.mu.RLock()
	wsc, ok := h.sessions[to]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return wsc.send(OutboundMessage{
		Type:      "reply",
		Reply:     &reply,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleMessage is the HTTP fallback for sending messages.
// POST /chat/message
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone       string `json:"phone"`
		Name        string `json:"name"`
		Text        string `json:"text"`
		SelectionID string `json:"selection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	phone := NormalizePhone(req.Phone)
	if phone == "" || (strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.SelectionID) == "") {
		http.Error(w, "phone and text or selection_id are required", http.StatusBadRequest)
		return
	}

	if err := h.enqueue(r.Context(), phone, strings.TrimSpace(req.Name), req.Text, req.SelectionID); err != nil {
		http.Error(w, "failed to queue message", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "queued",
		"phone":  phone,
	})
}

var _ conversation.ReplyMessenger = (*Handler)(nil)
