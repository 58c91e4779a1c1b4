package keyresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
)

// Cache stores resolved keys by keyId. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process Cache backed by go-cache.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache creates a MemoryCache whose entries default to ttl.
// Expired entries are purged every cleanup interval.
func NewMemoryCache(ttl, cleanup time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, cleanup)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}

	b, ok := v.([]byte)

	return b, ok
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len reports the number of cached entries, expired ones included until
// the next cleanup.
func (m *MemoryCache) Len() int {
	return m.c.ItemCount()
}

// RedisCache is a Cache shared between processes through Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache wraps client. Keys are stored as "<prefix>:<keyId>" when
// prefix is non-empty.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}

	return c.prefix + ":" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}

	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.client.Del(ctx, c.key(key)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}

	return err
}

// Ping checks the connection to Redis.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// cachedKey is the stored form of a resolved key.
type cachedKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner,omitempty"`
	PublicKeyPem string `json:"publicKeyPem"`
}

func encodeKey(k *httpsig.PublicKey) ([]byte, error) {
	pemBytes, err := keystore.MarshalPublicKeyPEM(k.Key)
	if err != nil {
		return nil, err
	}

	return json.Marshal(cachedKey{ID: k.ID, Owner: k.Owner, PublicKeyPem: string(pemBytes)})
}

func decodeKey(data []byte) (*httpsig.PublicKey, error) {
	var ck cachedKey
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("decode cached key: %w", err)
	}

	pub, err := keystore.ParsePublicKeyPEM([]byte(ck.PublicKeyPem))
	if err != nil {
		return nil, fmt.Errorf("decode cached key: %w", err)
	}

	return &httpsig.PublicKey{ID: ck.ID, Owner: ck.Owner, Key: pub}, nil
}
