package services

import (
	"context"
	"errors"
	"time"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore keeps small per-session values keyed by session id. Lifetime
// is bounded by the store TTL; each write refreshes it.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
	// Destroy drops every value of the session.
	Destroy(ctx context.Context, sessionID string) error
}

// NewSessionStore picks the backend named by cfg.Session.Store. A redis store
// that cannot be reached falls back to the database store.
func NewSessionStore(cfg *config.Config, db *gorm.DB) SessionStore {
	ttl := time.Duration(cfg.Session.TTLHours) * time.Hour
	if cfg.Session.Store == "redis" && cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := client.Ping(ctx).Err()
		if err == nil {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("session store: redis")
			return NewRedisSessionStore(client, ttl)
		}
		logger.Warn().Err(err).Msg("session store: redis unavailable, using database")
		client.Close()
	}
	logger.Info().Msg("session store: database")
	return NewDBSessionStore(db, ttl)
}

// DBSessionStore keeps session values in the portal_sessions table.
type DBSessionStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewDBSessionStore(db *gorm.DB, ttl time.Duration) *DBSessionStore {
	return &DBSessionStore{db: db, ttl: ttl, now: time.Now}
}

func (s *DBSessionStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	var row models.SessionValue
	err := s.db.WithContext(ctx).
		Where("session_key = ? AND name = ?", sessionID, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if row.Expired(s.now()) {
		if err := s.db.WithContext(ctx).Delete(&row).Error; err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return row.Value, true, nil
}

func (s *DBSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	now := s.now()
	row := models.SessionValue{
		SessionKey: sessionID,
		Name:       key,
		Value:      value,
		UpdatedAt:  now,
	}
	if s.ttl > 0 {
		row.ExpiresAt = now.Add(s.ttl)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

func (s *DBSessionStore) Delete(ctx context.Context, sessionID, key string) error {
	return s.db.WithContext(ctx).
		Where("session_key = ? AND name = ?", sessionID, key).
		Delete(&models.SessionValue{}).Error
}

func (s *DBSessionStore) Destroy(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).
		Where("session_key = ?", sessionID).
		Delete(&models.SessionValue{}).Error
}

// PurgeExpired removes rows past their expiry and returns how many went.
// Rows written without a TTL never expire.
func (s *DBSessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ? AND expires_at > ?", s.now(), time.Time{}).
		Delete(&models.SessionValue{})
	return res.RowsAffected, res.Error
}

// RedisSessionStore keeps each session as one hash under portal:session:{id}.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func redisSessionKey(sessionID string) string {
	return "portal:session:" + sessionID
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, redisSessionKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	k := redisSessionKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID, key string) error {
	return s.client.HDel(ctx, redisSessionKey(sessionID), key).Err()
}

func (s *RedisSessionStore) Destroy(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisSessionKey(sessionID)).Err()
}
