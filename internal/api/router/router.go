package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/dashboard"
	httpmiddleware "github.com/cityhospital/appointment-bot/internal/http/middleware"
	"github.com/cityhospital/appointment-bot/internal/messaging/whatsapp"
	"github.com/cityhospital/appointment-bot/internal/webchat"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	WhatsApp           *whatsapp.Handler
	Dashboard          *dashboard.Handler
	Feed               http.Handler
	Simulator          *conversation.Handler
	Console            *webchat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Ping reports backing store health for /health. Optional.
	Ping func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.Ping))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsApp != nil {
		r.Get("/webhook", cfg.WhatsApp.Verify)
		r.Head("/webhook", cfg.WhatsApp.Head)
		r.Post("/webhook", cfg.WhatsApp.Receive)
	}

	// Websocket upgrades stay outside compression.
	if cfg.Feed != nil {
		r.Handle("/api/feed", cfg.Feed)
	}
	if cfg.Console != nil {
		r.Get("/chat/ws", cfg.Console.HandleWebSocket)
		r.Post("/chat/message", cfg.Console.HandleMessage)
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Compress(5))
		if cfg.RateLimitPerMinute > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerMinute))
		}

		if cfg.Simulator != nil {
			api.Post("/api/simulate", cfg.Simulator.Simulate)
		}

		if cfg.Dashboard != nil {
			d := cfg.Dashboard
			api.Get("/api/appointments", d.ListAppointments)
			api.Post("/api/appointments", d.CreateAppointment)
			api.Put("/api/appointments/{id}/status", d.UpdateAppointmentStatus)
			api.Get("/api/doctors", d.ListDoctors)
			api.Get("/api/patients", d.ListPatients)
			api.Get("/api/dashboard", d.GetSummary)
			api.Get("/api/search", d.Search)
			api.Get("/api/queue", d.GetQueue)
		}
	})

	return r
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
