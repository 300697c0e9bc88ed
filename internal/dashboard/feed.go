package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/http/middleware"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

const (
	feedSendBuffer = 64
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingEvery  = feedPongWait * 9 / 10
)

// feedClient is one connected dashboard. An empty doctorID receives every event.
type feedClient struct {
	doctorID string
	send     chan []byte
}

// Feed pushes appointment changes to connected dashboards over websockets.
// It implements the conversation notifier so bot and front-desk bookings
// appear live.
type Feed struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewFeed creates a feed. allowedOrigins empty or containing "*" accepts any origin.
func NewFeed(allowedOrigins []string, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.Default()
	}
	f := &Feed{
		clients: make(map[*feedClient]struct{}),
		logger:  logger,
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return f
}

func originChecker(allowed []string) func(*http.Request) bool {
	policy := middleware.NewOriginPolicy(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || policy.Empty() {
			return true
		}
		return policy.Allows(origin)
	}
}

// NotifyAppointment broadcasts evt to every interested client. Slow clients
// miss events rather than block the caller.
func (f *Feed) NotifyAppointment(_ context.Context, evt events.AppointmentChangedV1) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		if c.doctorID != "" && c.doctorID != evt.DoctorID {
			continue
		}
		select {
		case c.send <- data:
		default:
			f.logger.Warn("dashboard feed client lagging, event dropped", "event_id", evt.EventID)
		}
	}
	return nil
}

// ClientCount returns the number of connected dashboards.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) register(c *feedClient) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
}

func (f *Feed) unregister(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
}

// ServeHTTP upgrades GET /api/feed?doctor_id= to a websocket.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("dashboard feed upgrade failed", "error", err)
		return
	}
	client := &feedClient{
		doctorID: strings.TrimSpace(r.URL.Query().Get("doctor_id")),
		send:     make(chan []byte, feedSendBuffer),
	}
	f.register(client)
	f.logger.Debug("dashboard feed connected", "doctor_id", client.doctorID, "clients", f.ClientCount())

	go f.writePump(client, conn)
	f.readPump(client, conn)
}

// readPump discards client frames and unregisters on disconnect.
func (f *Feed) readPump(c *feedClient, conn *websocket.Conn) {
	defer func() {
		f.unregister(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient, conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingEvery)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
