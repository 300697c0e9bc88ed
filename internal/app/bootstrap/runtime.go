package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// processedTTL bounds in-memory webhook de-duplication when no database is configured.
const processedTTL = 24 * time.Hour

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ProcessedStore records handled message ids.
type ProcessedStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Stores bundles the persistence backends shared by the binaries.
type Stores struct {
	Pool         *pgxpool.Pool
	DB           *sql.DB
	Directory    doctors.Directory
	Appointments appointments.Repository
	Processed    ProcessedStore
}

// Ping checks the database when one is configured.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// Close releases database handles.
func (s *Stores) Close() {
	if s == nil {
		return
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// BuildStores connects to Postgres when DATABASE_URL is set and falls back to
// in-memory stores seeded with the default roster otherwise.
func BuildStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores", "doctors", len(doctors.DefaultRoster()))
		return &Stores{
			Directory:    doctors.NewMemoryDirectory(doctors.DefaultRoster()...),
			Appointments: appointments.NewInMemoryRepository(),
			Processed:    events.NewMemoryProcessedStore(processedTTL),
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	return &Stores{
		Pool:         pool,
		DB:           stdlib.OpenDBFromPool(pool),
		Directory:    doctors.NewPostgresDirectory(pool),
		Appointments: appointments.NewPostgresRepository(pool),
		Processed:    events.NewProcessedStore(pool),
	}, nil
}
