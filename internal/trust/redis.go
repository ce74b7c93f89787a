package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key the trust document is stored under.
const DefaultRedisKey = "governance:trust"

// RedisStore persists the trust document as a single Redis string value.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a RedisStore. An empty key uses DefaultRedisKey.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedis connects to a Redis server by URL (redis://host:port/db).
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("trust: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("trust: ping redis: %w", err)
	}
	return client, nil
}

// Load reads the document. A missing key yields an empty document.
func (s *RedisStore) Load(ctx context.Context) (*Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("trust: redis get %s: %w", s.key, err)
	}
	return DecodeDocument(data)
}

// Save replaces the stored document. SET is atomic for readers.
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("trust: redis set %s: %w", s.key, err)
	}
	return nil
}
