package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cityhospital/appointment-bot/pkg/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore shares sessions between processes. Each session is a JSON value
// whose key TTL is refreshed on every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	now    func() time.Time
}

// NewRedisStore returns a RedisStore whose keys expire after ttl of inactivity.
func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("cityhospital.appointment-bot.session")
	}
	return &RedisStore{client: client, ttl: ttl, tracer: tracer, now: time.Now}
}

func sessionKey(patientID string) string {
	return fmt.Sprintf("booking_session:%s", patientID)
}

func (r *RedisStore) Load(ctx context.Context, patientID string) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := r.client.Get(ctx, sessionKey(patientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(patientID), nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	ctx, span := r.tracer.Start(ctx, "session.save")
	defer span.End()

	key := sessionKey(s.PatientID)
	var saved Session
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored Session
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("session: failed to decode: %w", err)
			}
			current = stored.Version
		}
		if current != s.Version {
			return ErrVersionConflict
		}

		saved = *s
		saved.Version++
		saved.UpdatedAt = r.now()
		payload, err := json.Marshal(saved)
		if err != nil {
			return fmt.Errorf("session: failed to encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return fmt.Errorf("session: failed to save: %w", err)
	}
	*s = saved
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, patientID string) error {
	if err := r.client.Del(ctx, sessionKey(patientID)).Err(); err != nil {
		return fmt.Errorf("session: failed to delete: %w", err)
	}
	return nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared across processes. A lock expires after lease
// so a crashed holder cannot wedge a patient forever.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
	poll   time.Duration
	logger *logging.Logger
}

// NewRedisLocker returns a RedisLocker; a non-positive lease defaults to 30s.
func NewRedisLocker(client *redis.Client, lease time.Duration, logger *logging.Logger) *RedisLocker {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLocker{client: client, lease: lease, poll: 25 * time.Millisecond, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "booking_session_lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("session: acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := releaseLockScript.Run(releaseCtx, l.client, []string{lockKey}, token).Int()
		switch {
		case err != nil:
			l.logger.Warn("failed to release session lock", "patient", logging.MaskPhone(key), "error", err)
		case released == 0:
			l.logger.Warn("session lock lease expired before release", "patient", logging.MaskPhone(key), "lease", l.lease)
		}
	}, nil
}
