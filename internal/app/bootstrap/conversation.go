package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/internal/session"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// BuildSessions returns the session store and per-patient locker. Redis is
// used only when SESSION_BACKEND=redis and a client is available.
func BuildSessions(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (session.Store, session.Locker, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SessionBackend)) {
	case "", "memory":
		logger.Info("using in-memory session store", "ttl", cfg.SessionTTL)
		return session.NewMemoryStore(cfg.SessionTTL), session.NewKeyedMutex(), nil
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("bootstrap: SESSION_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		logger.Info("using redis session store", "ttl", cfg.SessionTTL)
		store := session.NewRedisStore(redisClient, cfg.SessionTTL, otel.Tracer("appointment-bot/session"))
		return store, session.NewRedisLocker(redisClient, 0, logger), nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
}

// EngineDeps are the collaborators of the booking engine that vary by binary.
type EngineDeps struct {
	Stores   *Stores
	Sessions session.Store
	Locker   session.Locker
	Calendar calendar.Calendar
	Notifier conversation.Notifier
	Metrics  *metrics.BookingMetrics
}

// BuildEngine wires the booking conversation engine from config.
func BuildEngine(cfg *appconfig.Config, deps EngineDeps, logger *logging.Logger) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Stores == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("bootstrap: stores and sessions are required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := []conversation.EngineOption{
		conversation.WithHospitalName(cfg.HospitalName),
		conversation.WithLocation(cfg.Location()),
		conversation.WithCalendarTimeout(cfg.CalendarTimeout),
		conversation.WithLocker(deps.Locker),
		conversation.WithBookingMetrics(deps.Metrics),
	}
	if deps.Calendar != nil {
		opts = append(opts, conversation.WithCalendar(deps.Calendar))
	}
	if deps.Notifier != nil {
		opts = append(opts, conversation.WithNotifier(deps.Notifier))
	}

	logger.Info("booking engine configured",
		"hospital", cfg.HospitalName,
		"timezone", cfg.Location().String(),
		"calendar", deps.Calendar != nil,
	)
	return conversation.NewEngine(deps.Stores.Directory, deps.Stores.Appointments, deps.Sessions, logger, opts...), nil
}

// BuildCalendar returns the Google Calendar client when credentials are set,
// or nil so the engine falls back to its no-op calendar.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) calendar.Calendar {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var opt option.ClientOption
	switch {
	case strings.TrimSpace(cfg.GoogleCredentials) != "":
		opt = option.WithCredentialsJSON([]byte(cfg.GoogleCredentials))
	case strings.TrimSpace(cfg.GoogleCredentialsFile) != "":
		opt = option.WithCredentialsFile(cfg.GoogleCredentialsFile)
	default:
		logger.Info("google calendar not configured; availability uses local bookings only")
		return nil
	}

	cal, err := calendar.NewGoogleCalendar(ctx, cfg.Location().String(), opt)
	if err != nil {
		logger.Error("failed to create google calendar client", "error", err)
		return nil
	}
	logger.Info("google calendar integration enabled")
	return cal
}
