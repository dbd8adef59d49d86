package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bienestar/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each slot under its own key without expiry
type RedisStore struct {
	client *redis.Client
	codec  slotCodec
}

// NewRedisStore connects and pings
func NewRedisStore(ctx context.Context, redisURL string, codec slotCodec) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse Redis URL: %v", ErrStore, err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", ErrStore, err)
	}

	log.Println("✅ History store connected (redis)")
	return &RedisStore{client: client, codec: codec}, nil
}

// Load returns an empty history when the key is missing
func (s *RedisStore) Load(ctx context.Context, userID string) ([]models.AssessmentRecord, error) {
	payload, err := s.client.Get(ctx, SlotKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return []models.AssessmentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history: %v", ErrStore, err)
	}
	return s.codec.decode(userID, payload)
}

// Save overwrites the key
func (s *RedisStore) Save(ctx context.Context, userID string, records []models.AssessmentRecord) error {
	payload, err := s.codec.encode(userID, records)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, SlotKey(userID), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write history: %v", ErrStore, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
