package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/draftforge/draftforge/internal/models"
)

const redisKeyPrefix = "memory:entry:"

// RedisStore is a Store for deployments where several processes share
// one memory pool. Entries are JSON values under memory:entry:<hash>;
// SETNX gives PutIfAbsent its per-hash atomicity.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the Redis store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// PutIfAbsent inserts the entry unless its hash is already present.
func (s *RedisStore) PutIfAbsent(ctx context.Context, entry *models.MemoryEntry) (bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal entry: %w", err)
	}

	inserted, err := s.client.SetNX(ctx, redisKeyPrefix+entry.ContentHash, data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store entry: %w", err)
	}
	return inserted, nil
}

// Get returns the entry for a content hash, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, hash string) (*models.MemoryEntry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+hash).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry models.MemoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// All returns every stored entry.
func (s *RedisStore) All(ctx context.Context) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, err
		}

		var entry models.MemoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, &entry)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Update overwrites an existing entry.
func (s *RedisStore) Update(ctx context.Context, entry *models.MemoryEntry) error {
	key := redisKeyPrefix + entry.ContentHash

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// Delete removes the entry for a hash.
func (s *RedisStore) Delete(ctx context.Context, hash string) error {
	removed, err := s.client.Del(ctx, redisKeyPrefix+hash).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored entries.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	count := int64(0)
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
